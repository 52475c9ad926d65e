package catalog

import (
	"fmt"

	"github.com/phrazzld/report-api/internal/domain"
)

// ValidateConfig checks a job configuration against the definition: the
// format must be supported, the fields must pass ValidateFields and required
// filters must be present.
func (d Definition) ValidateConfig(cfg domain.JobConfig, format domain.Format) error {
	if !d.SupportsFormat(format) {
		return fmt.Errorf("%w: format %q is not supported for %s", ErrInvalidConfig, format, d.Type)
	}
	if err := d.ValidateFields(cfg); err != nil {
		return err
	}

	for _, f := range d.Filters {
		if !f.Required {
			continue
		}
		if v, ok := cfg.Filters[f.ID]; !ok || v == nil || v == "" {
			return fmt.Errorf("%w: filter %q is required", ErrInvalidConfig, f.ID)
		}
	}
	return nil
}

// ValidateFields checks that columns and sort/group fields exist and that
// only declared filters are set. Reports with a synthesized layout accept
// any identifier as a column. Saved templates are checked with it alone.
func (d Definition) ValidateFields(cfg domain.JobConfig) error {
	_, synthesized := d.Layout().(SynthesizedLayout)
	knownColumn := func(field string) bool {
		if synthesized {
			return isIdentifier(field)
		}
		_, ok := d.Column(field)
		return ok
	}

	for _, c := range cfg.Columns {
		if !knownColumn(c) {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidConfig, c)
		}
	}
	for _, g := range cfg.GroupBy {
		if !knownColumn(g) {
			return fmt.Errorf("%w: unknown group field %q", ErrInvalidConfig, g)
		}
	}
	for _, s := range cfg.Sort {
		if !knownColumn(s.Field) {
			return fmt.Errorf("%w: unknown sort field %q", ErrInvalidConfig, s.Field)
		}
		if col, ok := d.Column(s.Field); ok && !col.Sortable {
			return fmt.Errorf("%w: column %q is not sortable", ErrInvalidConfig, s.Field)
		}
	}

	for key := range cfg.Filters {
		if _, ok := d.Filter(key); !ok {
			return fmt.Errorf("%w: unknown filter %q", ErrInvalidConfig, key)
		}
	}
	return nil
}

package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/phrazzld/report-api/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Summary is the listing view of one report type.
type Summary struct {
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	ColumnsCount int             `json:"columns_count"`
	FiltersCount int             `json:"filters_count"`
	Formats      []domain.Format `json:"formats"`
}

// CatalogGroup collects the visible reports of one category.
type CatalogGroup struct {
	Category string    `json:"category"`
	Reports  []Summary `json:"reports"`
}

// Registry is the immutable set of report definitions. It is built once at
// start-up and safe for concurrent use.
type Registry struct {
	defs  map[string]Definition
	order []string
}

type catalogFile struct {
	Reports []Definition `yaml:"reports"`
}

// LoadDefault builds the registry from the embedded catalog.
func LoadDefault() (*Registry, error) {
	return Load(bytes.NewReader(builtinCatalog))
}

// LoadFile builds the registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a YAML catalog. Unknown keys are rejected.
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(file.Reports)
}

// New validates defs and builds a registry from them.
func New(defs []Definition) (*Registry, error) {
	reg := &Registry{defs: make(map[string]Definition, len(defs))}

	for _, d := range defs {
		if err := validateDefinition(d); err != nil {
			return nil, err
		}
		if _, dup := reg.defs[d.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate report type %q", ErrInvalidCatalog, d.Type)
		}
		reg.defs[d.Type] = d.clone()
		reg.order = append(reg.order, d.Type)
	}

	return reg, nil
}

func validateDefinition(d Definition) error {
	if d.Type == "" {
		return fmt.Errorf("%w: report type is required", ErrInvalidCatalog)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidCatalog, d.Type)
	}
	if len(d.Formats) == 0 {
		return fmt.Errorf("%w: %s: at least one format is required", ErrInvalidCatalog, d.Type)
	}
	for _, f := range d.Formats {
		if _, err := domain.ParseFormat(string(f)); err != nil {
			return fmt.Errorf("%w: %s: format %q", ErrInvalidCatalog, d.Type, f)
		}
	}
	if len(d.AllowedRoles) == 0 {
		return fmt.Errorf("%w: %s: allowed_roles is required", ErrInvalidCatalog, d.Type)
	}

	seen := map[string]bool{}
	for _, c := range d.Columns {
		if c.Field == "" || seen[c.Field] {
			return fmt.Errorf("%w: %s: empty or duplicate column %q", ErrInvalidCatalog, d.Type, c.Field)
		}
		seen[c.Field] = true
	}

	seen = map[string]bool{}
	for _, f := range d.Filters {
		if f.ID == "" || seen[f.ID] {
			return fmt.Errorf("%w: %s: empty or duplicate filter %q", ErrInvalidCatalog, d.Type, f.ID)
		}
		seen[f.ID] = true
		if !isIdentifier(f.SourceColumn()) || !isIdentifier(f.OptionLabelColumn()) {
			return fmt.Errorf("%w: %s: filter %q column is not an identifier", ErrInvalidCatalog, d.Type, f.ID)
		}
	}

	if d.ScopeColumn != "" && !isIdentifier(d.ScopeColumn) {
		return fmt.Errorf("%w: %s: scope_column is not an identifier", ErrInvalidCatalog, d.Type)
	}

	return nil
}

// Get returns the definition of a report type.
func (r *Registry) Get(reportType string) (Definition, error) {
	d, ok := r.defs[reportType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownReportType, reportType)
	}
	return d.clone(), nil
}

// Visible returns the definition if any of the caller's roles may see it.
// Hidden types are reported as unknown.
func (r *Registry) Visible(reportType string, rawRoles []string) (Definition, error) {
	d, err := r.Get(reportType)
	if err != nil {
		return Definition{}, err
	}
	if !d.AllowedFor(NormalizeRoles(rawRoles)) {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownReportType, reportType)
	}
	return d, nil
}

// List returns the reports visible to the caller, grouped by category.
// Groups are sorted by category name and reports keep catalog order.
func (r *Registry) List(rawRoles []string) []CatalogGroup {
	roles := NormalizeRoles(rawRoles)
	byCategory := map[string][]Summary{}

	for _, t := range r.order {
		d := r.defs[t]
		if !d.AllowedFor(roles) {
			continue
		}
		byCategory[d.Category] = append(byCategory[d.Category], Summary{
			Type:         d.Type,
			Name:         d.Name,
			Description:  d.Description,
			ColumnsCount: len(d.Columns),
			FiltersCount: len(d.Filters),
			Formats:      append([]domain.Format(nil), d.Formats...),
		})
	}

	groups := make([]CatalogGroup, 0, len(byCategory))
	for cat, reports := range byCategory {
		groups = append(groups, CatalogGroup{Category: cat, Reports: reports})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Category < groups[j].Category })
	return groups
}

// Types returns every registered report type in catalog order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.order...)
}

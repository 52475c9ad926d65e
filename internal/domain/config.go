package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Limits applied to client-supplied job configuration.
const (
	MaxFilterKeys     = 20
	MaxFilterValueLen = 256
	MaxFilterListLen  = 100
)

// SortDirection is the ordering applied to a sort field.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec orders rows by one field.
type SortSpec struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction,omitempty"`
}

// JobConfig is the caller-chosen shape of a report: which columns to include,
// how to filter, group and sort the rows. It is shared by jobs and templates.
type JobConfig struct {
	Columns []string       `json:"columns,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	GroupBy []string       `json:"group_by,omitempty"`
	Sort    []SortSpec     `json:"sort,omitempty"`
}

// ValidateShape checks the size and shape limits on filters and sort specs.
// Filter values may be scalars or flat lists of scalars; nested objects are
// rejected. Column and filter names are checked against a report definition
// elsewhere.
func (c JobConfig) ValidateShape() error {
	if len(c.Filters) > MaxFilterKeys {
		return fmt.Errorf("%w: at most %d filters are allowed", ErrValidation, MaxFilterKeys)
	}

	for key, value := range c.Filters {
		if key == "" {
			return fmt.Errorf("%w: filter key cannot be empty", ErrValidation)
		}
		if err := validateFilterValue(value, true); err != nil {
			return fmt.Errorf("filter %q: %w", key, err)
		}
	}

	for _, s := range c.Sort {
		if s.Field == "" {
			return fmt.Errorf("%w: sort field cannot be empty", ErrValidation)
		}
		switch s.Direction {
		case "", SortAsc, SortDesc:
		default:
			return fmt.Errorf("%w: sort direction must be asc or desc", ErrValidation)
		}
	}

	return nil
}

func validateFilterValue(v any, allowList bool) error {
	switch val := v.(type) {
	case nil, bool, float64, float32, int, int64, int32, json.Number:
		return nil
	case string:
		if len(val) > MaxFilterValueLen {
			return fmt.Errorf("%w: value exceeds %d bytes", ErrValidation, MaxFilterValueLen)
		}
		return nil
	case []any:
		if !allowList {
			return fmt.Errorf("%w: nested lists are not allowed", ErrValidation)
		}
		if len(val) > MaxFilterListLen {
			return fmt.Errorf("%w: list exceeds %d values", ErrValidation, MaxFilterListLen)
		}
		for _, item := range val {
			if err := validateFilterValue(item, false); err != nil {
				return err
			}
		}
		return nil
	case []string:
		if !allowList {
			return fmt.Errorf("%w: nested lists are not allowed", ErrValidation)
		}
		if len(val) > MaxFilterListLen {
			return fmt.Errorf("%w: list exceeds %d values", ErrValidation, MaxFilterListLen)
		}
		for _, item := range val {
			if len(item) > MaxFilterValueLen {
				return fmt.Errorf("%w: value exceeds %d bytes", ErrValidation, MaxFilterValueLen)
			}
		}
		return nil
	case map[string]any:
		return fmt.Errorf("%w: object values are not allowed", ErrValidation)
	default:
		return fmt.Errorf("%w: unsupported value type %T", ErrValidation, v)
	}
}

// Value implements driver.Valuer so the config can be stored as JSON.
func (c JobConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner for JSON columns.
func (c *JobConfig) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = JobConfig{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("job config: unsupported scan type")
	}
	return json.Unmarshal(raw, c)
}

// Clone returns a copy that shares no slices or maps with c. Filter values
// are scalars or lists of scalars, so one level of list copying suffices.
func (c JobConfig) Clone() JobConfig {
	out := JobConfig{
		Columns: slices.Clone(c.Columns),
		GroupBy: slices.Clone(c.GroupBy),
		Sort:    slices.Clone(c.Sort),
	}
	if c.Filters != nil {
		out.Filters = make(map[string]any, len(c.Filters))
		for k, v := range c.Filters {
			if list, ok := v.([]any); ok {
				v = slices.Clone(list)
			}
			out.Filters[k] = v
		}
	}
	return out
}

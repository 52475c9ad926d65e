// Package catalog holds the immutable registry of report definitions: the
// columns, filters, role visibility and export formats of every report type,
// plus the resolver for dynamic filter option lists.
package catalog

import (
	"errors"
	"slices"

	"github.com/phrazzld/report-api/internal/domain"
)

var (
	// ErrUnknownReportType is returned for a report type that is not
	// registered or not visible to the caller.
	ErrUnknownReportType = errors.New("unknown report type")

	// ErrUnknownFilter is returned when a filter ID is not defined for a report type.
	ErrUnknownFilter = errors.New("unknown filter")

	// ErrFilterNotDynamic is returned when option resolution is requested
	// for a filter whose options are static.
	ErrFilterNotDynamic = errors.New("filter is not dynamic")

	// ErrInvalidConfig is returned when a job configuration does not match
	// the report definition.
	ErrInvalidConfig = errors.New("invalid report configuration")

	// ErrInvalidCatalog is returned when catalog data fails to load.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// ColumnType describes how a column's values are rendered.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnPercent ColumnType = "percent"
	ColumnDate    ColumnType = "date"
	ColumnBoolean ColumnType = "boolean"
)

// Column is one output column of a report.
type Column struct {
	Field    string     `yaml:"field" json:"field"`
	Label    string     `yaml:"label" json:"label"`
	Type     ColumnType `yaml:"type" json:"type"`
	Sortable bool       `yaml:"sortable" json:"sortable"`
	Width    int        `yaml:"width" json:"width,omitempty"`
}

// FilterType is the input control a filter is presented with.
type FilterType string

const (
	FilterSelect      FilterType = "select"
	FilterMultiSelect FilterType = "multiselect"
	FilterText        FilterType = "text"
	FilterDate        FilterType = "date"
	FilterNumber      FilterType = "number"
	FilterBoolean     FilterType = "boolean"
)

// Option is one selectable filter value.
type Option struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// Filter describes one filter a report accepts. Column names the source
// column it binds to and defaults to ID. Dynamic options are the distinct
// values of that column, labelled by LabelColumn when set.
type Filter struct {
	ID          string     `yaml:"id" json:"id"`
	Label       string     `yaml:"label" json:"label"`
	Type        FilterType `yaml:"type" json:"type"`
	Required    bool       `yaml:"required" json:"required"`
	Dynamic     bool       `yaml:"dynamic" json:"dynamic"`
	Options     []Option   `yaml:"options" json:"options,omitempty"`
	Column      string     `yaml:"column" json:"-"`
	LabelColumn string     `yaml:"label_column" json:"-"`
}

// SourceColumn returns the column the filter is applied to.
func (f Filter) SourceColumn() string {
	if f.Column != "" {
		return f.Column
	}
	return f.ID
}

// OptionLabelColumn returns the column dynamic option labels are read from.
func (f Filter) OptionLabelColumn() string {
	if f.LabelColumn != "" {
		return f.LabelColumn
	}
	return f.SourceColumn()
}

// Definition is the static schema of one report type. Values handed out by
// the Registry are copies; mutating them has no effect on the catalog.
type Definition struct {
	Type         string          `yaml:"type" json:"type"`
	Name         string          `yaml:"name" json:"name"`
	Description  string          `yaml:"description" json:"description"`
	Category     string          `yaml:"category" json:"category"`
	Columns      []Column        `yaml:"columns" json:"columns"`
	Filters      []Filter        `yaml:"filters" json:"filters"`
	AllowedRoles []Role          `yaml:"allowed_roles" json:"allowed_roles"`
	Formats      []domain.Format `yaml:"formats" json:"formats"`
	Query        string          `yaml:"query" json:"-"`
	ScopeColumn  string          `yaml:"scope_column" json:"-"`
}

// Filter returns the filter with the given ID.
func (d Definition) Filter(id string) (Filter, bool) {
	for _, f := range d.Filters {
		if f.ID == id {
			return f, true
		}
	}
	return Filter{}, false
}

// Column returns the column with the given field name.
func (d Definition) Column(field string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// SupportsFormat reports whether the report can be exported as f.
func (d Definition) SupportsFormat(f domain.Format) bool {
	return slices.Contains(d.Formats, f)
}

// AllowedFor reports whether any of the normalized roles may see the report.
func (d Definition) AllowedFor(roles []Role) bool {
	for _, r := range roles {
		if slices.Contains(d.AllowedRoles, r) {
			return true
		}
	}
	return false
}

// clone deep-copies the slices so callers cannot reach registry state.
func (d Definition) clone() Definition {
	d.Columns = slices.Clone(d.Columns)
	d.AllowedRoles = slices.Clone(d.AllowedRoles)
	d.Formats = slices.Clone(d.Formats)
	filters := make([]Filter, len(d.Filters))
	for i, f := range d.Filters {
		f.Options = slices.Clone(f.Options)
		filters[i] = f
	}
	d.Filters = filters
	return d
}

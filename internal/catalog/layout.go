package catalog

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Layout decides the output columns of a report. It is either a
// DefinedLayout, taken from the catalog, or a SynthesizedLayout, derived from
// the data when the catalog lists no columns for the type.
type Layout interface {
	isLayout()
}

// DefinedLayout carries the catalog's column list.
type DefinedLayout struct {
	Columns []Column
}

// SynthesizedLayout builds columns from the keys of the first row.
type SynthesizedLayout struct{}

func (DefinedLayout) isLayout()     {}
func (SynthesizedLayout) isLayout() {}

// Layout returns the layout variant for the definition.
func (d Definition) Layout() Layout {
	if len(d.Columns) == 0 {
		return SynthesizedLayout{}
	}
	return DefinedLayout{Columns: d.Columns}
}

// ResolveColumns returns the columns to export. requested narrows and orders
// the result when non-empty; fields that are not part of the layout are
// skipped.
func ResolveColumns(layout Layout, requested []string, rows []map[string]any) []Column {
	var cols []Column
	switch l := layout.(type) {
	case DefinedLayout:
		cols = l.Columns
	case SynthesizedLayout:
		cols = synthesize(rows)
	}

	if len(requested) == 0 {
		return append([]Column(nil), cols...)
	}

	byField := make(map[string]Column, len(cols))
	for _, c := range cols {
		byField[c.Field] = c
	}
	out := make([]Column, 0, len(requested))
	for _, f := range requested {
		if c, ok := byField[f]; ok {
			out = append(out, c)
		}
	}
	return out
}

// synthesize derives columns from the first row: keys sorted, labels title-cased.
func synthesize(rows []map[string]any) []Column {
	if len(rows) == 0 {
		return nil
	}

	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]Column, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, Column{
			Field: k,
			Label: humanizeField(k),
			Type:  inferType(rows[0][k]),
		})
	}
	return cols
}

// humanizeField turns "attendance_pct" into "Attendance Pct".
func humanizeField(field string) string {
	parts := strings.FieldsFunc(field, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, p := range parts {
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

func inferType(v any) ColumnType {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return ColumnNumber
	case bool:
		return ColumnBoolean
	default:
		return ColumnString
	}
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func isIdentifier(s string) bool {
	return identifierRE.MatchString(s)
}

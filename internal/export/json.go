package export

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/report-api/internal/catalog"
)

// JSON writes {title, columns, rows}. Rows only carry the exported fields.
type JSON struct{}

type jsonDocument struct {
	Title   string           `json:"title"`
	Columns []catalog.Column `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Serialize implements Serializer.
func (JSON) Serialize(title string, columns []catalog.Column, rows []map[string]any) ([]byte, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}

	doc := jsonDocument{
		Title:   title,
		Columns: columns,
		Rows:    make([]map[string]any, len(rows)),
	}
	for i, row := range rows {
		out := make(map[string]any, len(columns))
		for _, c := range columns {
			v := row[c.Field]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			out[c.Field] = v
		}
		doc.Rows[i] = out
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json report: %w", err)
	}
	return data, nil
}

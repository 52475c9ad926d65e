package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/phrazzld/report-api/internal/catalog"
)

// CSV writes a header row of column labels followed by one record per row.
type CSV struct{}

// Serialize implements Serializer.
func (CSV) Serialize(_ string, columns []catalog.Column, rows []map[string]any) ([]byte, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	record := make([]string, len(columns))
	for i, c := range columns {
		record[i] = c.Label
	}
	if err := w.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range rows {
		for i, c := range columns {
			record[i] = formatValue(row[c.Field], c.Type)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

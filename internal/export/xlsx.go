package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/tealeg/xlsx/v3"
)

// maxSheetName is the Excel limit on worksheet name length.
const maxSheetName = 31

// XLSX writes a single worksheet with a bold header row. Numbers, booleans
// and dates are stored as typed cells.
type XLSX struct{}

// Serialize implements Serializer.
func (XLSX) Serialize(title string, columns []catalog.Column, rows []map[string]any) ([]byte, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName(title))
	if err != nil {
		return nil, fmt.Errorf("failed to add worksheet: %w", err)
	}

	header := sheet.AddRow()
	for _, c := range columns {
		cell := header.AddCell()
		cell.SetString(c.Label)
		cell.GetStyle().Font.Bold = true
	}

	for _, row := range rows {
		r := sheet.AddRow()
		for _, c := range columns {
			setCell(r.AddCell(), row[c.Field], c.Type)
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(cell *xlsx.Cell, v any, t catalog.ColumnType) {
	if t == catalog.ColumnPercent {
		cell.SetString(formatValue(v, t))
		return
	}
	switch val := v.(type) {
	case nil:
	case bool:
		cell.SetBool(val)
	case time.Time:
		cell.SetDateTime(val)
	default:
		if n, ok := numeric(v); ok {
			cell.SetFloat(n)
			return
		}
		cell.SetString(formatValue(v, t))
	}
}

// sheetName strips characters Excel rejects and truncates to the length limit.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return ' '
		}
		return r
	}, strings.TrimSpace(title))

	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "Report"
	}
	return name
}

package export

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-pdf/fpdf"
	"github.com/phrazzld/report-api/internal/catalog"
)

const (
	pdfFont       = "Helvetica"
	pdfFontSize   = 8
	pdfRowHeight  = 6
	pdfTitleSize  = 13
	pdfMarginMM   = 10
	pdfEllipsis   = "..."
	pdfGeneratedF = "Generated %s"
)

// PDF renders a landscape A4 table. Column widths follow the catalog width
// hints; the header row is repeated on every page.
type PDF struct {
	// Now stamps the document. Defaults to time.Now.
	Now func() time.Time
}

// Serialize implements Serializer.
func (p PDF) Serialize(title string, columns []catalog.Column, rows []map[string]any) ([]byte, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	doc := fpdf.New("L", "mm", "A4", "")
	doc.SetMargins(pdfMarginMM, pdfMarginMM, pdfMarginMM)
	doc.SetAutoPageBreak(true, pdfMarginMM)
	doc.SetTitle(title, true)
	tr := doc.UnicodeTranslatorFromDescriptor("")

	pageW, _ := doc.GetPageSize()
	widths := columnWidths(columns, pageW-2*pdfMarginMM)

	doc.SetHeaderFunc(func() {
		if doc.PageNo() == 1 {
			doc.SetFont(pdfFont, "B", pdfTitleSize)
			doc.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
			doc.SetFont(pdfFont, "", pdfFontSize)
			doc.CellFormat(0, 5, fmt.Sprintf(pdfGeneratedF, now().UTC().Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
			doc.Ln(2)
		}
		doc.SetFont(pdfFont, "B", pdfFontSize)
		doc.SetFillColor(225, 230, 240)
		for i, c := range columns {
			doc.CellFormat(widths[i], pdfRowHeight, fit(doc, tr(c.Label), widths[i]), "1", 0, "L", true, 0, "")
		}
		doc.Ln(-1)
		doc.SetFont(pdfFont, "", pdfFontSize)
	})

	doc.AddPage()
	for _, row := range rows {
		for i, c := range columns {
			align := "L"
			if c.Type == catalog.ColumnNumber || c.Type == catalog.ColumnPercent {
				align = "R"
			}
			text := tr(pdfValue(row[c.Field], c.Type))
			doc.CellFormat(widths[i], pdfRowHeight, fit(doc, text, widths[i]), "1", 0, align, false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfValue groups thousands in whole numbers for readability.
func pdfValue(v any, t catalog.ColumnType) string {
	if t == catalog.ColumnNumber {
		if n, ok := numeric(v); ok && n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return humanize.Comma(int64(n))
		}
	}
	return formatValue(v, t)
}

// columnWidths splits total across columns proportionally to their width
// hints. Columns without a hint weigh 15.
func columnWidths(columns []catalog.Column, total float64) []float64 {
	weights := make([]float64, len(columns))
	sum := 0.0
	for i, c := range columns {
		w := float64(c.Width)
		if w <= 0 {
			w = 15
		}
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] = weights[i] / sum * total
	}
	return weights
}

// fit truncates s with an ellipsis until it fits in width, leaving padding.
func fit(doc *fpdf.Fpdf, s string, width float64) string {
	limit := width - 2
	if doc.GetStringWidth(s) <= limit {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && doc.GetStringWidth(string(r)+pdfEllipsis) > limit {
		r = r[:len(r)-1]
	}
	return string(r) + pdfEllipsis
}

package domain

import "strings"

// Format identifies the file format a report is exported to.
type Format string

// Supported export formats
const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

// ParseFormat normalizes a client-supplied format name. The legacy alias
// "excel" maps to xlsx.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV, FormatPDF, FormatJSON:
		return f, nil
	case "excel":
		return FormatXLSX, nil
	default:
		return "", ErrInvalidFormat
	}
}

// Extension returns the file extension, including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type served for downloads of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	case FormatPDF:
		return "application/pdf"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

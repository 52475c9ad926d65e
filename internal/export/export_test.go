package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []catalog.Column{
	{Field: "student_name", Label: "Student", Type: catalog.ColumnString, Width: 30},
	{Field: "grade", Label: "Grade", Type: catalog.ColumnNumber},
	{Field: "attendance_pct", Label: "Attendance", Type: catalog.ColumnPercent},
	{Field: "active", Label: "Active", Type: catalog.ColumnBoolean},
	{Field: "enrolled_on", Label: "Enrolled", Type: catalog.ColumnDate},
}

func testRows() []map[string]any {
	return []map[string]any{
		{
			"student_name":   "Asha, K",
			"grade":          int64(7),
			"attendance_pct": 92.5,
			"active":         true,
			"enrolled_on":    time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			"ignored":        "x",
		},
		{
			"student_name": []byte("Ravi"),
			"grade":        8,
			"active":       false,
		},
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	for _, f := range []domain.Format{domain.FormatXLSX, domain.FormatCSV, domain.FormatPDF, domain.FormatJSON} {
		s, err := r.Get(f)
		require.NoError(t, err, f)
		assert.NotNil(t, s)
	}

	_, err := NewRegistry().Get(domain.FormatCSV)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSerializersRejectNoColumns(t *testing.T) {
	t.Parallel()

	for name, s := range map[string]Serializer{"xlsx": XLSX{}, "csv": CSV{}, "pdf": PDF{}, "json": JSON{}} {
		s := s
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Serialize("Empty", nil, testRows())
			assert.ErrorIs(t, err, ErrNoColumns)
		})
	}
}

func TestCSV(t *testing.T) {
	t.Parallel()

	data, err := CSV{}.Serialize("Progress", testColumns, testRows())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Student", "Grade", "Attendance", "Active", "Enrolled"}, records[0])
	assert.Equal(t, []string{"Asha, K", "7", "92.5%", "Yes", "2023-06-01"}, records[1])
	assert.Equal(t, []string{"Ravi", "8", "", "No", ""}, records[2])
}

func TestJSON(t *testing.T) {
	t.Parallel()

	data, err := JSON{}.Serialize("Progress", testColumns, testRows())
	require.NoError(t, err)

	var doc struct {
		Title   string           `json:"title"`
		Columns []catalog.Column `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Progress", doc.Title)
	assert.Len(t, doc.Columns, 5)
	require.Len(t, doc.Rows, 2)
	assert.NotContains(t, doc.Rows[0], "ignored")
	assert.Equal(t, "Ravi", doc.Rows[1]["student_name"])
}

func TestXLSX(t *testing.T) {
	t.Parallel()

	data, err := XLSX{}.Serialize("Student Progress: Term [1]", testColumns, testRows())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")), "xlsx is a zip archive")
}

func TestPDF(t *testing.T) {
	t.Parallel()

	rows := make([]map[string]any, 0, 120)
	for i := 0; i < 120; i++ {
		rows = append(rows, map[string]any{
			"student_name": "A student with a rather long name that will not fit the column",
			"grade":        int64(1200 + i),
		})
	}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := PDF{Now: func() time.Time { return fixed }}.Serialize("Student Progress", testColumns, rows)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestSheetName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Student Progress", "Student Progress"},
		{"a/b", "a b"},
		{"", "Report"},
		{"[]", "Report"},
		{"An extremely long report title that exceeds", "An extremely long report title"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, sheetName(tc.in))
		})
	}
}

func TestPDFValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1,234", pdfValue(int64(1234), catalog.ColumnNumber))
	assert.Equal(t, "12.5", pdfValue(12.5, catalog.ColumnNumber))
	assert.Equal(t, "40%", pdfValue(40, catalog.ColumnPercent))
}

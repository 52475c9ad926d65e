package sqlsource

import (
	"context"
	"database/sql"
	"testing"

	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schema = `
CREATE TABLE student_progress (
	student_id TEXT, student_name TEXT, grade TEXT, section TEXT,
	mentor_id TEXT, mentor_name TEXT, attendance_pct REAL, average_score INTEGER,
	last_assessment_at TEXT, institution_id TEXT
);
INSERT INTO student_progress VALUES
	('s1', 'Asha',  '7', 'A', 'm1', 'Iyer',  91.5, 78, '2024-01-10', 'inst-1'),
	('s2', 'Bala',  '7', 'B', 'm2', 'Khan',  84.0, 66, '2024-01-11', 'inst-1'),
	('s3', 'Chen',  '8', 'A', 'm1', 'Iyer',  77.0, 81, '2024-01-12', 'inst-1'),
	('s4', 'Divya', '8', 'B', 'm3', 'Menon', 95.0, 90, '2024-01-09', 'inst-2');
`

func newTestSource(t *testing.T, opts Options) (*Source, catalog.Definition) {
	t.Helper()

	db, err := sql.Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)

	registry, err := catalog.LoadDefault()
	require.NoError(t, err)
	def, err := registry.Get("student-progress")
	require.NoError(t, err)

	return New(db, DriverSQLite, opts), def
}

func names(rows []map[string]any) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["student_name"].(string))
	}
	return out
}

func TestFetchRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filters map[string]any
		scope   string
		want    []string
	}{
		{"no filters, all scopes", nil, "", []string{"Asha", "Bala", "Chen", "Divya"}},
		{"scoped", nil, "inst-1", []string{"Asha", "Bala", "Chen"}},
		{"scalar filter", map[string]any{"grade": "7"}, "inst-1", []string{"Asha", "Bala"}},
		{"list filter", map[string]any{"mentor_id": []any{"m1", "m3"}}, "", []string{"Asha", "Chen", "Divya"}},
		{"empty values ignored", map[string]any{"grade": "", "section": []any{}}, "inst-2", []string{"Divya"}},
		{"no match", map[string]any{"grade": "12"}, "", []string{}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src, def := newTestSource(t, Options{})
			rows, err := src.FetchRows(context.Background(), def, tc.filters, tc.scope)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, names(rows))
		})
	}
}

func TestFetchRows_Values(t *testing.T) {
	t.Parallel()
	src, def := newTestSource(t, Options{})

	rows, err := src.FetchRows(context.Background(), def, map[string]any{"section": "B", "grade": "8"}, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Divya", rows[0]["student_name"])
	assert.Equal(t, int64(90), rows[0]["average_score"])
	assert.Equal(t, 95.0, rows[0]["attendance_pct"])
}

func TestFetchRows_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown filter", func(t *testing.T) {
		t.Parallel()
		src, def := newTestSource(t, Options{})
		_, err := src.FetchRows(context.Background(), def, map[string]any{"student_id; DROP TABLE x": "1"}, "")
		assert.ErrorIs(t, err, catalog.ErrUnknownFilter)
		assert.True(t, queue.IsPermanent(err))
	})

	t.Run("row limit", func(t *testing.T) {
		t.Parallel()
		src, def := newTestSource(t, Options{MaxRows: 3})
		_, err := src.FetchRows(context.Background(), def, nil, "")
		assert.ErrorIs(t, err, ErrRowLimit)
		assert.True(t, queue.IsPermanent(err), "a retry returns the same rows")

		rows, err := src.FetchRows(context.Background(), def, nil, "inst-1")
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("no query", func(t *testing.T) {
		t.Parallel()
		src, def := newTestSource(t, Options{})
		def.Query = ""
		_, err := src.FetchRows(context.Background(), def, nil, "")
		assert.ErrorIs(t, err, ErrNoQuery)
		assert.True(t, queue.IsPermanent(err))
	})

	t.Run("query failure stays retryable", func(t *testing.T) {
		t.Parallel()
		src, def := newTestSource(t, Options{})
		def.Query = "SELECT * FROM missing_table"
		_, err := src.FetchRows(context.Background(), def, nil, "")
		require.Error(t, err)
		assert.False(t, queue.IsPermanent(err))
	})
}

func TestFilterOptions(t *testing.T) {
	t.Parallel()
	src, def := newTestSource(t, Options{})
	ctx := context.Background()

	grade, ok := def.Filter("grade")
	require.True(t, ok)
	opts, err := src.FilterOptions(ctx, def, grade, "")
	require.NoError(t, err)
	assert.Equal(t, []catalog.Option{{Label: "7", Value: "7"}, {Label: "8", Value: "8"}}, opts)

	mentor, ok := def.Filter("mentor_id")
	require.True(t, ok)
	opts, err = src.FilterOptions(ctx, def, mentor, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []catalog.Option{{Label: "Iyer", Value: "m1"}, {Label: "Khan", Value: "m2"}}, opts)
}

func TestBuilderPlaceholders(t *testing.T) {
	t.Parallel()

	pg := &builder{driver: DriverPostgres}
	pg.eq("grade", "7")
	pg.in("section", []any{"A", "B"})
	assert.Equal(t, " WHERE src.grade = $1 AND src.section IN ($2, $3)", pg.where())
	assert.Len(t, pg.args, 3)

	my := &builder{driver: DriverMySQL}
	my.eq("grade", "7")
	assert.Equal(t, " WHERE src.grade = ?", my.where())

	assert.Equal(t, "", (&builder{}).where())
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), "oracle", "x", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

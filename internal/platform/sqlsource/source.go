// Package sqlsource reads report rows and dynamic filter options from a SQL
// database. Each report type's catalog query is wrapped in an outer SELECT
// that applies the filters and scope; only catalog-declared columns are ever
// interpolated, every value is bound.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"  // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/generation"
	"github.com/phrazzld/report-api/internal/queue"
	_ "modernc.org/sqlite" // sqlite driver
)

// Supported driver names.
const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

var (
	// ErrNoQuery is returned for a report type without a source query.
	ErrNoQuery = errors.New("report type has no source query")

	// ErrRowLimit is returned when a report would exceed the configured row cap.
	ErrRowLimit = errors.New("report exceeds the row limit")

	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("unsupported report source driver")
)

// Options tunes query execution.
type Options struct {
	// QueryTimeout bounds each query. Zero leaves the caller's deadline alone.
	QueryTimeout time.Duration

	// MaxRows caps the rows one report may return. Zero means no cap.
	MaxRows int
}

// Source implements generation.DataSource and catalog.OptionSource.
type Source struct {
	db     *sql.DB
	driver string
	opts   Options
}

var (
	_ generation.DataSource = (*Source)(nil)
	_ catalog.OptionSource  = (*Source)(nil)
)

// Open connects to the report database and verifies the connection.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Source, error) {
	switch driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open report source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach report source: %w", err)
	}
	return New(db, driver, opts), nil
}

// New wraps an open handle.
func New(db *sql.DB, driver string, opts Options) *Source {
	return &Source{db: db, driver: driver, opts: opts}
}

// DB returns the underlying handle.
func (s *Source) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *Source) Close() error {
	return s.db.Close()
}

// builder accumulates WHERE conditions with dialect placeholders.
type builder struct {
	driver string
	conds  []string
	args   []any
}

func (b *builder) placeholder() string {
	if b.driver == DriverPostgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

func (b *builder) eq(column string, v any) {
	b.args = append(b.args, v)
	b.conds = append(b.conds, fmt.Sprintf("src.%s = %s", column, b.placeholder()))
}

func (b *builder) in(column string, vs []any) {
	marks := make([]string, len(vs))
	for i, v := range vs {
		b.args = append(b.args, v)
		marks[i] = b.placeholder()
	}
	b.conds = append(b.conds, fmt.Sprintf("src.%s IN (%s)", column, strings.Join(marks, ", ")))
}

func (b *builder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func (s *Source) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// FetchRows implements generation.DataSource. Filter keys must be declared
// by the definition; empty values and empty lists are ignored.
func (s *Source) FetchRows(ctx context.Context, def catalog.Definition, filters map[string]any, scope string) ([]map[string]any, error) {
	if strings.TrimSpace(def.Query) == "" {
		return nil, queue.Permanent(fmt.Errorf("%w: %s", ErrNoQuery, def.Type))
	}

	b := &builder{driver: s.driver}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, ok := def.Filter(k)
		if !ok {
			return nil, queue.Permanent(fmt.Errorf("%w: %s", catalog.ErrUnknownFilter, k))
		}
		switch v := filters[k].(type) {
		case nil:
		case string:
			if v != "" {
				b.eq(f.SourceColumn(), v)
			}
		case []any:
			if len(v) > 0 {
				b.in(f.SourceColumn(), v)
			}
		case []string:
			if len(v) > 0 {
				vs := make([]any, len(v))
				for i := range v {
					vs[i] = v[i]
				}
				b.in(f.SourceColumn(), vs)
			}
		default:
			b.eq(f.SourceColumn(), v)
		}
	}
	if def.ScopeColumn != "" && scope != "" {
		b.eq(def.ScopeColumn, scope)
	}

	query := fmt.Sprintf("SELECT * FROM (%s) src%s", def.Query, b.where())
	if s.opts.MaxRows > 0 {
		query += fmt.Sprintf(" LIMIT %d", s.opts.MaxRows+1)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", def.Type, err)
	}
	defer func() { _ = rows.Close() }()

	return s.scanRows(rows)
}

func (s *Source) scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	out := []map[string]any{}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if s.opts.MaxRows > 0 && len(out) == s.opts.MaxRows {
			return nil, queue.Permanent(fmt.Errorf("%w of %d", ErrRowLimit, s.opts.MaxRows))
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

// normalize turns driver byte slices into strings.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// FilterOptions implements catalog.OptionSource. Options are the distinct
// non-null values of the filter column, ordered by label.
func (s *Source) FilterOptions(ctx context.Context, def catalog.Definition, f catalog.Filter, scope string) ([]catalog.Option, error) {
	if strings.TrimSpace(def.Query) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoQuery, def.Type)
	}

	b := &builder{driver: s.driver}
	b.conds = append(b.conds, fmt.Sprintf("src.%s IS NOT NULL", f.SourceColumn()))
	if def.ScopeColumn != "" && scope != "" {
		b.eq(def.ScopeColumn, scope)
	}
	query := fmt.Sprintf("SELECT DISTINCT src.%s, src.%s FROM (%s) src%s ORDER BY 1",
		f.OptionLabelColumn(), f.SourceColumn(), def.Query, b.where())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query options for %s.%s: %w", def.Type, f.ID, err)
	}
	defer func() { _ = rows.Close() }()

	options := []catalog.Option{}
	for rows.Next() {
		var label, value any
		if err := rows.Scan(&label, &value); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		options = append(options, catalog.Option{Label: display(label), Value: display(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read options: %w", err)
	}
	return options, nil
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

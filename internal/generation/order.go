package generation

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/report-api/internal/domain"
)

// orderRows sorts rows in place: grouping fields first, ascending, then the
// explicit sort keys. Rows that compare equal keep the source order.
func orderRows(rows []map[string]any, cfg domain.JobConfig) {
	keys := make([]domain.SortSpec, 0, len(cfg.GroupBy)+len(cfg.Sort))
	for _, g := range cfg.GroupBy {
		keys = append(keys, domain.SortSpec{Field: g, Direction: domain.SortAsc})
	}
	keys = append(keys, cfg.Sort...)
	if len(keys) == 0 {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(rows[i][k.Field], rows[j][k.Field])
			if c == 0 {
				continue
			}
			if k.Direction == domain.SortDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders nil first, then numbers, times and booleans by value,
// and everything else by case-insensitive text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmp.Compare(fa, fb)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(strings.ToLower(text(a)), strings.ToLower(text(b)))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

package export

import (
	"fmt"
	"strconv"
	"time"

	"github.com/phrazzld/report-api/internal/catalog"
)

const dateLayout = "2006-01-02"

// formatValue renders v as display text for a column of type t.
func formatValue(v any, t catalog.ColumnType) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		if t == catalog.ColumnDate {
			return val.Format(dateLayout)
		}
		return val.Format(time.RFC3339)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case float64:
		return formatFloat(val, t)
	case float32:
		return formatFloat(float64(val), t)
	case int:
		return formatInt(int64(val), t)
	case int32:
		return formatInt(int64(val), t)
	case int64:
		return formatInt(val, t)
	default:
		return fmt.Sprint(val)
	}
}

func formatFloat(f float64, t catalog.ColumnType) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if t == catalog.ColumnPercent {
		return strconv.FormatFloat(f, 'f', 1, 64) + "%"
	}
	return s
}

func formatInt(n int64, t catalog.ColumnType) string {
	s := strconv.FormatInt(n, 10)
	if t == catalog.ColumnPercent {
		return s + "%"
	}
	return s
}

// numeric returns v as a float64 when it holds a number.
func numeric(v any) (float64, bool) {
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

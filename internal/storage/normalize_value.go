package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeValue converts a scanned driver value into a plain Go value that
// every backend and serializer accepts: []byte becomes string, sized ints
// become int64, times are formatted RFC3339.
//
// Drivers disagree on what they hand back for the same column (modernc returns
// int64 and string, DuckDB may return int32 or []byte); this keeps copies and
// serializers consistent across staging drivers.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case int16:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

// KeyString renders a key value for log lines and error messages.
func KeyString(v any) string {
	switch t := NormalizeValue(v).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// CoerceValue converts a normalized staged value to the Go type backends
// expect for the logical column type. Staging engines that keep everything
// as text (DuckDB) hand back strings for numbers and booleans; SQLite hands
// back 0/1 for booleans. Values that do not parse are returned unchanged so
// the backend reports the mismatch.
func CoerceValue(v any, logical string) any {
	v = NormalizeValue(v)
	if v == nil {
		return nil
	}
	switch logical {
	case TypeKey, TypeInteger, TypeSequence:
		switch t := v.(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n
			}
		case float64:
			return int64(t)
		}
	case TypeNumber:
		switch t := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		case int64:
			return float64(t)
		}
	case TypeBoolean:
		switch t := v.(type) {
		case int64:
			return t != 0
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b
			}
		}
	case TypeText, TypeDate, TypeTime:
		switch t := v.(type) {
		case int64:
			return strconv.FormatInt(t, 10)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return v
}

// ColumnTypes returns the logical type of every column in ColumnNames order.
func (t TableSpec) ColumnTypes() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Type)
	}
	for _, c := range t.Columns {
		out = append(out, c.Type)
	}
	return out
}

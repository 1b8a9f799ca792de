package database

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The adapters hand back field values in their native shapes: BSON types
// from Mongo, JSON-decoded values from Postgres, Go values from memory.
// These helpers normalize them for the model mappers.

func StringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func IntField(data map[string]any, key string) int {
	n, _ := toInt64(data[key])
	return int(n)
}

func StringSliceField(data map[string]any, key string) []string {
	items := toAnySlice(data[key])
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// TimeField parses a stored timestamp. ok is false when the field is
// missing or cannot be interpreted.
func TimeField(data map[string]any, key string) (t time.Time, ok bool) {
	switch v := data[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case primitive.DateTime:
		return v.Time(), true
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case int64:
		return time.UnixMilli(v), v > 0
	case float64:
		return time.UnixMilli(int64(v)), v > 0
	}
	return time.Time{}, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}

func toAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case primitive.A:
		return []any(s)
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	}
	return nil
}

func stringsToAny(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

package database

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// applyMutations changes data in place with the semantics shared by the
// memory and Postgres adapters. Mongo expresses the same operators natively.
func applyMutations(data map[string]any, fields map[string]Mutation) error {
	for field, m := range fields {
		switch m.Kind {
		case MutationLiteral:
			data[field] = cloneValue(m.Value)

		case MutationSetAdd:
			items := toAnySlice(data[field])
			if !containsValue(items, m.Value) {
				items = append(append([]any(nil), items...), cloneValue(m.Value))
			}
			if items == nil {
				items = []any{}
			}
			data[field] = items

		case MutationSetRemove:
			items := toAnySlice(data[field])
			kept := make([]any, 0, len(items))
			for _, item := range items {
				if !equalValues(item, m.Value) {
					kept = append(kept, item)
				}
			}
			data[field] = kept

		case MutationIncrement:
			delta, ok := toInt64(m.Value)
			if !ok {
				return fmt.Errorf("increment %s: non-integer delta %T", field, m.Value)
			}
			switch current := data[field].(type) {
			case nil:
				data[field] = delta
			case float64:
				data[field] = current + float64(delta)
			default:
				n, ok := toInt64(current)
				if !ok {
					return fmt.Errorf("increment %s: field holds %T", field, current)
				}
				data[field] = n + delta
			}

		default:
			return fmt.Errorf("field %s: unknown mutation kind %d", field, m.Kind)
		}
	}
	return nil
}

func containsValue(items []any, v any) bool {
	for _, item := range items {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if an, ok := toInt64(a); ok {
		bn, ok := toInt64(b)
		return ok && an == bn
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	// Slices and maps cannot be compared with ==.
	return reflect.DeepEqual(a, b)
}

// compareValues orders two field values of the same kind. Mixed or unknown
// kinds compare by their string form.
func compareValues(a, b any) int {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if an, ok := toInt64(a); ok {
		if bn, ok := toInt64(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []string:
		return stringsToAny(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		return cloneData(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	}
	return v
}

// Package condition decides whether a notification should be sent given a
// template's conditions and the data payload.
//
// All conditions must match. Values compare with strict typed equality:
// "1" never equals 1 and "true" never equals true. Numbers compare by value
// regardless of their Go type, since YAML decodes integers as int while JSON
// decodes them as float64.
package condition

import (
	"math"
	"reflect"
	"sort"

	"github.com/foxzi/herald/internal/render"
)

// ShouldSend reports whether every condition matches data
func ShouldSend(conditions map[string]any, data map[string]any) bool {
	ok, _ := Evaluate(conditions, data)
	return ok
}

// Evaluate is ShouldSend that also returns the first failing path, in
// sorted path order.
func Evaluate(conditions map[string]any, data map[string]any) (bool, string) {
	if len(conditions) == 0 {
		return true, ""
	}

	paths := make([]string, 0, len(conditions))
	for p := range conditions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		actual, ok := render.Lookup(data, path)
		if !ok || !Equal(conditions[path], actual) {
			return false, path
		}
	}
	return true, ""
}

// Equal compares two decoded values
func Equal(expected, actual any) bool {
	return reflect.DeepEqual(normalize(expected), normalize(actual))
}

func normalize(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = normalize(val)
		}
		return m
	case map[any]any:
		m := make(map[any]any, len(x))
		for k, val := range x {
			m[k] = normalize(val)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

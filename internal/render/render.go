// Package render substitutes {{name}} markers in template strings with values
// looked up by dotted path in a data map. Rendering never fails: markers that
// do not resolve are replaced with an empty string.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var markerRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-.]+)\s*\}\}`)

// Compile replaces every marker in tmpl with its stringified value from data
func Compile(tmpl string, data map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return markerRe.ReplaceAllStringFunc(tmpl, func(marker string) string {
		name := markerRe.FindStringSubmatch(marker)[1]
		v, ok := Lookup(data, name)
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// Variables returns the distinct marker names of tmpl in order of appearance
func Variables(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range markerRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Lookup resolves a dotted path such as "user.address.city" or "items.0.sku"
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	var cur any = data
	for _, part := range strings.Split(path, ".") {
		next, ok := step(cur, part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, key string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case map[any]any:
		v, ok := c[key]
		return v, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// Stringify converts a value to its locale-independent text form.
// Slices and maps are encoded as compact JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10)
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return compactJSON(normalize(v))
	case reflect.Pointer:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return ""
		}
		return Stringify(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// normalize converts map[any]any values produced by YAML decoding into
// map[string]any so they can be JSON encoded.
func normalize(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
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

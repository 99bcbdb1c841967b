package render

import (
	"testing"
	"time"
)

func TestCompile(t *testing.T) {
	data := map[string]any{
		"name":       "Mario",
		"count":      3,
		"price":      12.5,
		"big":        float64(1e21),
		"active":     true,
		"user":       map[string]any{"address": map[string]any{"city": "Roma"}},
		"items":      []any{map[string]any{"sku": "A1"}, map[string]any{"sku": "B2"}},
		"tags":       []string{"a", "<b>"},
		"meta":       map[string]any{"k": 1},
		"yaml":       map[any]any{"x": 1},
		"dotted.key": "direct",
		"nothing":    nil,
	}

	tests := []struct {
		tmpl string
		want string
	}{
		{"Hi {{name}}", "Hi Mario"},
		{"Hi {{ name }}!", "Hi Mario!"},
		{"{{count}} items at {{price}}", "3 items at 12.5"},
		{"{{big}}", "1000000000000000000000"},
		{"active={{active}}", "active=true"},
		{"{{user.address.city}}", "Roma"},
		{"{{items.1.sku}}", "B2"},
		{"{{items.5.sku}}", ""},
		{"{{tags}}", `["a","<b>"]`},
		{"{{meta}}", `{"k":1}`},
		{"{{yaml}}", `{"x":1}`},
		{"{{dotted.key}}", "direct"},
		{"{{missing}} and {{user.missing}}", " and "},
		{"[{{nothing}}]", "[]"},
		{"no markers", "no markers"},
		{"{{ bad marker }}", "{{ bad marker }}"},
	}

	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			if got := Compile(tt.tmpl, data); got != tt.want {
				t.Errorf("Compile(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	tmpl := "{{a}} {{b}} {{c.d}}"
	data := map[string]any{"a": 1, "b": []any{1, 2}, "c": map[string]any{"d": map[string]any{"z": 1, "a": 2}}}

	first := Compile(tmpl, data)
	for i := 0; i < 20; i++ {
		if got := Compile(tmpl, data); got != first {
			t.Fatalf("Compile not deterministic: %q vs %q", got, first)
		}
	}
	if first != `1 [1,2] {"a":2,"z":1}` {
		t.Errorf("unexpected output: %s", first)
	}
}

func TestCompileNilData(t *testing.T) {
	if got := Compile("Hello {{name}}", nil); got != "Hello " {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestStringifyTime(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got := Stringify(ts); got != "2024-05-01T10:00:00Z" {
		t.Errorf("unexpected time format: %s", got)
	}
}

func TestVariables(t *testing.T) {
	got := Variables("{{a}} {{ b.c }} {{a}} {{d}}")
	want := []string{"a", "b.c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("variable %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

package template

import (
	"sort"
	"strings"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/render"
)

// Engine renders templates with data
type Engine struct {
	defaultLocale string
}

// NewEngine creates a new template engine. defaultLocale is tried when the
// requested locale has no translation.
func NewEngine(defaultLocale string) *Engine {
	return &Engine{defaultLocale: defaultLocale}
}

// Render compiles every content field for locale using data as given
func (e *Engine) Render(tmpl *Template, data map[string]any, locale string) *RenderResult {
	return &RenderResult{
		Subject:  render.Compile(tmpl.Subject.Resolve(locale, e.defaultLocale), data),
		BodyHTML: render.Compile(tmpl.BodyHTML.Resolve(locale, e.defaultLocale), data),
		BodyText: render.Compile(tmpl.BodyText.Resolve(locale, e.defaultLocale), data),
	}
}

// Preview renders with the template's preview data merged under data.
// Caller values win on key collision.
func (e *Engine) Preview(tmpl *Template, data map[string]any, locale string) *RenderResult {
	return e.Render(tmpl, MergeData(tmpl.PreviewData, data), locale)
}

// Validate checks that every required variable resolves in data
func (e *Engine) Validate(tmpl *Template, data map[string]any) error {
	if missing := e.MissingVariables(tmpl, data); len(missing) > 0 {
		return errs.Validation("missing required variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MissingVariables returns required variables that do not resolve in data
func (e *Engine) MissingVariables(tmpl *Template, data map[string]any) []string {
	var missing []string
	for _, name := range tmpl.RequiredVariables() {
		if v, ok := render.Lookup(data, name); !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// UndeclaredVariables returns markers used in any field that are not
// declared in the template's variables.
func (e *Engine) UndeclaredVariables(tmpl *Template) []string {
	declared := make(map[string]bool, len(tmpl.Variables))
	for _, v := range tmpl.Variables {
		declared[v.Name] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, tr := range []Translations{tmpl.Subject, tmpl.BodyHTML, tmpl.BodyText} {
		for _, text := range tr {
			for _, name := range render.Variables(text) {
				root := name
				if i := strings.IndexByte(name, '.'); i > 0 && !declared[name] {
					root = name[:i]
				}
				if !declared[name] && !declared[root] && !seen[name] {
					seen[name] = true
					out = append(out, name)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// MergeData returns a shallow merge of base and override, override winning
func MergeData(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

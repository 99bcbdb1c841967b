package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

var codeRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]{0,99}$`)

// Template is the live, editable definition of a notification
type Template struct {
	ID          string           `json:"id" yaml:"-"`
	Code        string           `json:"code" yaml:"code"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Subject     Translations     `json:"subject,omitempty" yaml:"subject,omitempty"`
	BodyHTML    Translations     `json:"body_html,omitempty" yaml:"body_html,omitempty"`
	BodyText    Translations     `json:"body_text,omitempty" yaml:"body_text,omitempty"`
	Channels    []notify.Channel `json:"channels" yaml:"channels"`
	Variables   []VariableInfo   `json:"variables,omitempty" yaml:"variables,omitempty"`
	Conditions  map[string]any   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	PreviewData map[string]any   `json:"preview_data,omitempty" yaml:"preview_data,omitempty"`
	Version     int              `json:"version" yaml:"-"`
	IsActive    bool             `json:"is_active" yaml:"is_active"`
	CreatedBy   string           `json:"created_by,omitempty" yaml:"-"`
	UpdatedBy   string           `json:"updated_by,omitempty" yaml:"-"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty" yaml:"-"`
}

// VariableInfo documents a template variable
type VariableInfo struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Example     string `json:"example,omitempty" yaml:"example,omitempty"`
}

// Version is an immutable snapshot of a template's content
type Version struct {
	ID          string           `json:"id"`
	TemplateID  string           `json:"template_id"`
	Version     int              `json:"version"`
	Subject     Translations     `json:"subject,omitempty"`
	BodyHTML    Translations     `json:"body_html,omitempty"`
	BodyText    Translations     `json:"body_text,omitempty"`
	Channels    []notify.Channel `json:"channels"`
	Variables   []VariableInfo   `json:"variables,omitempty"`
	Conditions  map[string]any   `json:"conditions,omitempty"`
	ChangeNotes string           `json:"change_notes,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// RenderResult contains rendered template output
type RenderResult struct {
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html,omitempty"`
	BodyText string `json:"body_text,omitempty"`
}

// ListFilter contains filters for listing templates
type ListFilter struct {
	Limit          int
	Offset         int
	Search         string
	Channel        notify.Channel
	ActiveOnly     bool
	IncludeDeleted bool
}

// Stats contains template statistics
type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Deleted  int64 `json:"deleted"`
	Versions int64 `json:"versions"`
}

// Deleted reports whether the template was soft-deleted
func (t *Template) Deleted() bool {
	return t.DeletedAt != nil
}

// HasChannel reports whether the template applies to channel c
func (t *Template) HasChannel(c notify.Channel) bool {
	for _, ch := range t.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// Validate checks identity and channel fields and normalizes channels
func (t *Template) Validate() error {
	if !codeRe.MatchString(t.Code) {
		return errs.Validation("invalid template code %q: lowercase letters, digits, '_', '-' and '.' only", t.Code)
	}
	if t.Name == "" {
		t.Name = t.Code
	}
	if len(t.Channels) == 0 {
		return errs.Validation("template %q must have at least one channel", t.Code)
	}

	seen := make(map[notify.Channel]bool, len(t.Channels))
	channels := make([]notify.Channel, 0, len(t.Channels))
	for _, c := range t.Channels {
		c = notify.Channel(strings.ToLower(string(c)))
		if !c.Valid() {
			return errs.Validation("template %q: unknown channel %q", t.Code, c)
		}
		if !seen[c] {
			seen[c] = true
			channels = append(channels, c)
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	t.Channels = channels

	names := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		if v.Name == "" {
			return errs.Validation("template %q: variable name is required", t.Code)
		}
		if names[v.Name] {
			return errs.Validation("template %q: duplicate variable %q", t.Code, v.Name)
		}
		names[v.Name] = true
	}
	return nil
}

// RequiredVariables returns the names of required variables
func (t *Template) RequiredVariables() []string {
	var names []string
	for _, v := range t.Variables {
		if v.Required {
			names = append(names, v.Name)
		}
	}
	return names
}

// content holds the fields whose change creates a new version
type content struct {
	Subject    Translations     `json:"subject,omitempty"`
	BodyHTML   Translations     `json:"body_html,omitempty"`
	BodyText   Translations     `json:"body_text,omitempty"`
	Channels   []notify.Channel `json:"channels,omitempty"`
	Variables  []VariableInfo   `json:"variables,omitempty"`
	Conditions map[string]any   `json:"conditions,omitempty"`
}

func (t *Template) content() content {
	return content{
		Subject:    t.Subject.compact(),
		BodyHTML:   t.BodyHTML.compact(),
		BodyText:   t.BodyText.compact(),
		Channels:   t.Channels,
		Variables:  t.Variables,
		Conditions: t.Conditions,
	}
}

func (v *Version) content() content {
	return content{
		Subject:    v.Subject.compact(),
		BodyHTML:   v.BodyHTML.compact(),
		BodyText:   v.BodyText.compact(),
		Channels:   v.Channels,
		Variables:  v.Variables,
		Conditions: v.Conditions,
	}
}

// key returns a canonical encoding; map keys are sorted by encoding/json
func (c content) key() string {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%#v", c)
	}
	return string(data)
}

func (c content) equal(other content) bool {
	return c.key() == other.key()
}

// snapshot captures the template's current content as a version
func (t *Template) snapshot(id, notes, actor string, at time.Time) *Version {
	c := t.content()
	return &Version{
		ID:          id,
		TemplateID:  t.ID,
		Version:     t.Version,
		Subject:     c.Subject,
		BodyHTML:    c.BodyHTML,
		BodyText:    c.BodyText,
		Channels:    c.Channels,
		Variables:   c.Variables,
		Conditions:  c.Conditions,
		ChangeNotes: notes,
		CreatedBy:   actor,
		CreatedAt:   at,
	}
}

func (t *Template) apply(v *Version) {
	t.Subject = v.Subject.clone()
	t.BodyHTML = v.BodyHTML.clone()
	t.BodyText = v.BodyText.clone()
	t.Channels = append([]notify.Channel(nil), v.Channels...)
	t.Variables = append([]VariableInfo(nil), v.Variables...)
	t.Conditions = v.Conditions
}

// Translations maps a locale to text. The "" key holds the untranslated
// default. A plain string decodes into the default key.
type Translations map[string]string

// Text returns a translation map holding only the default text
func Text(s string) Translations {
	if s == "" {
		return nil
	}
	return Translations{"": s}
}

// Resolve picks the text for locale: exact match, then base language,
// then fallback, then the default key, then the first locale in sorted order.
func (tr Translations) Resolve(locale, fallback string) string {
	if len(tr) == 0 {
		return ""
	}
	for _, l := range candidates(locale, fallback) {
		if s, ok := tr[l]; ok {
			return s
		}
	}
	if s, ok := tr[""]; ok {
		return s
	}
	locales := make([]string, 0, len(tr))
	for l := range tr {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	return tr[locales[0]]
}

func candidates(locale, fallback string) []string {
	var out []string
	for _, l := range []string{locale, fallback} {
		if l == "" {
			continue
		}
		l = strings.ReplaceAll(l, "_", "-")
		out = append(out, l)
		if i := strings.IndexByte(l, '-'); i > 0 {
			out = append(out, l[:i])
		}
	}
	return out
}

func (tr Translations) compact() Translations {
	if len(tr) == 0 {
		return nil
	}
	out := make(Translations, len(tr))
	for k, v := range tr {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (tr Translations) clone() Translations {
	if tr == nil {
		return nil
	}
	out := make(Translations, len(tr))
	for k, v := range tr {
		out[k] = v
	}
	return out
}

// UnmarshalJSON accepts either a string or a locale map
func (tr *Translations) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*tr = Text(s)
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("translations must be a string or a locale map: %w", err)
	}
	*tr = m
	return nil
}

// UnmarshalYAML accepts either a string or a locale map
func (tr *Translations) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*tr = Text(node.Value)
		return nil
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("translations must be a string or a locale map: %w", err)
	}
	*tr = m
	return nil
}

// MarshalYAML writes untranslated text as a plain string
func (tr Translations) MarshalYAML() (any, error) {
	if s, ok := tr[""]; ok && len(tr) == 1 {
		return s, nil
	}
	return map[string]string(tr), nil
}

// Package headers rewrites the header block of outgoing email according
// to configured rules.
package headers

import (
	"fmt"
	"strings"
)

// Action defines the type of header manipulation
type Action string

const (
	ActionRemove  Action = "remove"
	ActionReplace Action = "replace"
	ActionAdd     Action = "add"
)

// RecipientPlaceholder in a rule value is replaced with the recipient
// address, e.g. for List-Unsubscribe.
const RecipientPlaceholder = "{{recipient}}"

// Rule defines a header manipulation rule
type Rule struct {
	Action  Action   `yaml:"action" json:"action"`
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"` // remove
	Header  string   `yaml:"header,omitempty" json:"header,omitempty"`   // replace, add
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`     // replace, add
}

// structural headers are built by the driver and covered by the DKIM
// signature; rules may not touch them
var protected = map[string]bool{
	"from":                      true,
	"to":                        true,
	"date":                      true,
	"message-id":                true,
	"mime-version":              true,
	"content-type":              true,
	"content-transfer-encoding": true,
	"dkim-signature":            true,
}

// Validate checks a rule
func (r Rule) Validate() error {
	var names []string
	switch r.Action {
	case ActionRemove:
		if len(r.Headers) == 0 {
			return fmt.Errorf("remove rule needs headers")
		}
		names = r.Headers
	case ActionReplace, ActionAdd:
		if r.Header == "" {
			return fmt.Errorf("%s rule needs header", r.Action)
		}
		if strings.ContainsAny(r.Value, "\r\n") {
			return fmt.Errorf("header %s: value must be a single line", r.Header)
		}
		names = []string{r.Header}
	default:
		return fmt.Errorf("unknown action %q (must be remove, replace or add)", r.Action)
	}
	for _, name := range names {
		if protected[strings.ToLower(name)] {
			return fmt.Errorf("header %s cannot be rewritten", name)
		}
		if name == "" || strings.ContainsAny(name, ": \t\r\n") {
			return fmt.Errorf("invalid header name %q", name)
		}
	}
	return nil
}

// Config contains header rules. Domains are keyed by recipient domain.
type Config struct {
	Global  []Rule            `yaml:"global,omitempty" json:"global,omitempty"`
	Domains map[string][]Rule `yaml:"domains,omitempty" json:"domains,omitempty"`
}

// Validate checks every rule
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	for i, r := range c.Global {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
	}
	for domain, rules := range c.Domains {
		for i, r := range rules {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("domains.%s[%d]: %w", domain, i, err)
			}
		}
	}
	return nil
}

// RulesFor returns global rules followed by the rules of domain
func (c *Config) RulesFor(domain string) []Rule {
	if c == nil {
		return nil
	}
	rules := append([]Rule(nil), c.Global...)
	return append(rules, c.Domains[strings.ToLower(domain)]...)
}

// HasRules returns true if any rules are configured
func (c *Config) HasRules() bool {
	if c == nil {
		return false
	}
	if len(c.Global) > 0 {
		return true
	}
	for _, rules := range c.Domains {
		if len(rules) > 0 {
			return true
		}
	}
	return false
}

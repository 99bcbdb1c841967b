package headers

import (
	"bytes"
	"strings"
)

// Rewriter applies header rules to built messages
type Rewriter struct {
	config *Config
}

// NewRewriter creates a rewriter. cfg must be validated.
func NewRewriter(cfg *Config) *Rewriter {
	return &Rewriter{config: cfg}
}

// Apply rewrites the headers of data for the given recipient address.
// The body is left untouched.
func (r *Rewriter) Apply(data []byte, recipient string) []byte {
	if r == nil || !r.config.HasRules() {
		return data
	}

	domain := recipient
	if at := strings.LastIndexByte(recipient, '@'); at >= 0 {
		domain = recipient[at+1:]
	}
	rules := r.config.RulesFor(domain)
	if len(rules) == 0 {
		return data
	}

	head, body := split(data)
	fields := parse(head)
	for _, rule := range rules {
		fields = apply(fields, rule, recipient)
	}
	return build(fields, body)
}

// field is one header with its folded continuation lines
type field struct {
	name  string
	value string
}

// split separates the header block from the body at the first blank line
func split(data []byte) ([]byte, []byte) {
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx != -1 {
		return data[:idx], data[idx+4:]
	}
	if idx := bytes.Index(data, []byte("\n\n")); idx != -1 {
		return data[:idx], data[idx+2:]
	}
	return data, nil
}

func parse(head []byte) []field {
	var fields []field
	for _, line := range bytes.Split(head, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(fields); n > 0 {
				fields[n-1].value += "\r\n" + string(line)
			}
			continue
		}
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || len(name) == 0 {
			continue
		}
		fields = append(fields, field{
			name:  string(bytes.TrimSpace(name)),
			value: string(bytes.TrimSpace(value)),
		})
	}
	return fields
}

func apply(fields []field, rule Rule, recipient string) []field {
	value := strings.ReplaceAll(rule.Value, RecipientPlaceholder, recipient)

	switch rule.Action {
	case ActionRemove:
		drop := make(map[string]bool, len(rule.Headers))
		for _, name := range rule.Headers {
			drop[strings.ToLower(name)] = true
		}
		kept := fields[:0]
		for _, f := range fields {
			if !drop[strings.ToLower(f.name)] {
				kept = append(kept, f)
			}
		}
		return kept

	case ActionReplace:
		// first occurrence only; appended when absent
		for i := range fields {
			if strings.EqualFold(fields[i].name, rule.Header) {
				fields[i].value = value
				return fields
			}
		}
		return append(fields, field{name: rule.Header, value: value})

	case ActionAdd:
		return append(fields, field{name: rule.Header, value: value})
	}
	return fields
}

func build(fields []field, body []byte) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.WriteString(f.name)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

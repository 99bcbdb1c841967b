package headers

import (
	"strings"
	"testing"
)

const message = "From: noreply@example.com\r\n" +
	"To: mario@example.it\r\n" +
	"Subject: Welcome\r\n" +
	"X-Mailer: herald\r\n" +
	"Received: from app.internal\r\n" +
	"\tby relay.internal\r\n" +
	"\r\n" +
	"Body text\r\n"

func TestRewriter_Remove(t *testing.T) {
	r := NewRewriter(&Config{Global: []Rule{
		{Action: ActionRemove, Headers: []string{"x-mailer", "Received"}},
	}})
	out := string(r.Apply([]byte(message), "mario@example.it"))

	if strings.Contains(out, "X-Mailer") {
		t.Error("X-Mailer header should be removed")
	}
	if strings.Contains(out, "relay.internal") {
		t.Error("Received continuation should be removed with its header")
	}
	if !strings.Contains(out, "Subject: Welcome\r\n") || !strings.HasSuffix(out, "\r\n\r\nBody text\r\n") {
		t.Errorf("headers or body not preserved:\n%s", out)
	}
}

func TestRewriter_ReplaceAndAdd(t *testing.T) {
	r := NewRewriter(&Config{Global: []Rule{
		{Action: ActionReplace, Header: "X-Mailer", Value: "Herald/2"},
		{Action: ActionReplace, Header: "X-Campaign", Value: "onboarding"},
		{Action: ActionAdd, Header: "List-Unsubscribe", Value: "<https://example.com/u?to={{recipient}}>"},
	}})
	out := string(r.Apply([]byte(message), "mario@example.it"))

	for _, want := range []string{
		"X-Mailer: Herald/2\r\n",
		"X-Campaign: onboarding\r\n",
		"List-Unsubscribe: <https://example.com/u?to=mario@example.it>\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "X-Mailer") != 1 {
		t.Error("replace should not duplicate the header")
	}
}

func TestRewriter_DomainRules(t *testing.T) {
	r := NewRewriter(&Config{
		Global: []Rule{{Action: ActionAdd, Header: "X-Global", Value: "1"}},
		Domains: map[string][]Rule{
			"example.it": {{Action: ActionAdd, Header: "X-Italy", Value: "1"}},
		},
	})

	out := string(r.Apply([]byte(message), "mario@EXAMPLE.it"))
	if !strings.Contains(out, "X-Global") || !strings.Contains(out, "X-Italy") {
		t.Errorf("expected global and domain rules:\n%s", out)
	}

	out = string(r.Apply([]byte(message), "anna@example.de"))
	if !strings.Contains(out, "X-Global") || strings.Contains(out, "X-Italy") {
		t.Errorf("expected only global rules:\n%s", out)
	}
}

func TestRewriter_NoRules(t *testing.T) {
	var nilRewriter *Rewriter
	for _, r := range []*Rewriter{nilRewriter, NewRewriter(nil), NewRewriter(&Config{})} {
		if got := string(r.Apply([]byte(message), "a@b.c")); got != message {
			t.Errorf("message changed without rules:\n%s", got)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"remove", Rule{Action: ActionRemove, Headers: []string{"X-Mailer"}}, false},
		{"add", Rule{Action: ActionAdd, Header: "X-Tag", Value: "a"}, false},
		{"remove without headers", Rule{Action: ActionRemove}, true},
		{"add without header", Rule{Action: ActionAdd, Value: "a"}, true},
		{"unknown action", Rule{Action: "rename", Header: "X"}, true},
		{"protected from", Rule{Action: ActionReplace, Header: "From", Value: "x@y.z"}, true},
		{"protected remove", Rule{Action: ActionRemove, Headers: []string{"message-id"}}, true},
		{"header injection", Rule{Action: ActionAdd, Header: "X-A", Value: "a\r\nBcc: x@y.z"}, true},
		{"bad name", Rule{Action: ActionAdd, Header: "X A", Value: "a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_HasRules(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		expected bool
	}{
		{"nil config", nil, false},
		{"empty config", &Config{}, false},
		{"global rules only", &Config{Global: []Rule{{Action: ActionAdd}}}, true},
		{"domain rules only", &Config{Domains: map[string][]Rule{"example.com": {{Action: ActionAdd}}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.HasRules() != tt.expected {
				t.Errorf("HasRules() = %v, want %v", tt.config.HasRules(), tt.expected)
			}
		})
	}
}

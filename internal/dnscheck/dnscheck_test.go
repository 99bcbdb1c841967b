package dnscheck

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if name == "broken.example.com" {
		return nil, errors.New("server misbehaving")
	}
	records, ok := f[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid simple", "example.com", false},
		{"valid subdomain", "sub.example.com", false},
		{"valid with dash", "my-domain.com", false},
		{"valid with numbers", "123.example.com", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 254)), true},
		{"invalid chars", "example!.com", true},
		{"starts with dash", "-example.com", true},
		{"ends with dash", "example-.com", true},
		{"double dot", "example..com", true},
		{"path injection", "../etc/passwd", true},
		{"null byte", "example\x00.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomain(%q) error = %v, wantErr %v", tt.domain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSelector(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantErr  bool
	}{
		{"valid simple", "default", false},
		{"valid with numbers", "key2024", false},
		{"valid with dash", "dkim-key", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 64)), true},
		{"invalid chars", "selector!", true},
		{"starts with dash", "-selector", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSelector(tt.selector)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSelector(%q) error = %v, wantErr %v", tt.selector, err, tt.wantErr)
			}
		})
	}
}

func TestCheckSender(t *testing.T) {
	resolver := fakeResolver{
		"example.com":                   {"google-site-verification=x", "v=spf1 include:amazonses.com -all"},
		"herald._domainkey.example.com": {"v=DKIM1; k=rsa; p=MIIBIjAN", "BgkqhkiG9w0"},
		"_dmarc.example.com":            {"v=DMARC1; p=reject; rua=mailto:d@example.com"},
		"permissive.com":                {"v=spf1 +all"},
		"herald._domainkey.nokey.com":   {"v=DKIM1; k=rsa; p="},
		"_dmarc.permissive.com":         {"v=DMARC1; p=none"},
		"herald._domainkey.ed.com":      {"v=DKIM1; k=ed25519; p=abc"},
	}
	c := New(resolver)
	ctx := context.Background()

	report, err := c.CheckSender(ctx, "example.com", "herald", "MIIBIjANBgkqhkiG9w0")
	if err != nil {
		t.Fatalf("CheckSender() error = %v", err)
	}
	if !report.OK() {
		t.Errorf("report = %+v, want all ok", report.Results)
	}
	for _, r := range report.Results {
		if r.Status != StatusOK {
			t.Errorf("%s = %s (%s)", r.Type, r.Status, r.Message)
		}
	}

	tests := []struct {
		name  string
		check CheckResult
		want  Status
	}{
		{"key mismatch", c.CheckDKIM(ctx, "example.com", "herald", "OTHER"), StatusError},
		{"missing key", c.CheckDKIM(ctx, "nokey.com", "herald", ""), StatusError},
		{"ed25519", c.CheckDKIM(ctx, "ed.com", "herald", ""), StatusOK},
		{"no dkim", c.CheckDKIM(ctx, "example.com", "other", ""), StatusNotFound},
		{"spf +all", c.CheckSPF(ctx, "permissive.com"), StatusWarning},
		{"dmarc none", c.CheckDMARC(ctx, "permissive.com"), StatusWarning},
		{"no spf", c.CheckSPF(ctx, "nokey.com"), StatusNotFound},
		{"lookup failure", c.CheckSPF(ctx, "broken.example.com"), StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.check.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", tt.check.Status, tt.want, tt.check.Message)
			}
		})
	}

	if _, err := c.CheckSender(ctx, "bad domain", "herald", ""); err == nil {
		t.Error("CheckSender() with invalid domain should fail")
	}
}

func TestTag(t *testing.T) {
	record := "v=DKIM1; k=rsa; p=MIIB IjAN\t; t=s"
	if got := Tag(record, "p"); got != "MIIBIjAN" {
		t.Errorf("Tag(p) = %q", got)
	}
	if got := Tag(record, "x"); got != "" {
		t.Errorf("Tag(x) = %q, want empty", got)
	}
}

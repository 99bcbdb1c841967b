// Package dnscheck verifies that an email sender domain publishes the
// records the smtp and ses drivers rely on.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var ErrInvalidDomain = errors.New("invalid domain name")

var (
	domainRegex   = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is valid
func ValidateSelector(selector string) error {
	if selector == "" {
		return errors.New("selector is required")
	}
	if len(selector) > 63 || !selectorRegex.MatchString(selector) {
		return errors.New("invalid selector format")
	}
	return nil
}

// Status of a single check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report contains all check results for a sender domain
type Report struct {
	Domain  string        `json:"domain"`
	Results []CheckResult `json:"results"`
}

// OK reports whether no check failed. Warnings pass.
func (r *Report) OK() bool {
	for _, c := range r.Results {
		if c.Status == StatusError || c.Status == StatusNotFound {
			return false
		}
	}
	return true
}

// Resolver looks up TXT records; *net.Resolver satisfies it
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Checker runs sender domain checks
type Checker struct {
	resolver Resolver
}

// New creates a checker. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// CheckSender checks SPF, DKIM and DMARC for domain. When publicKey is
// set, the published DKIM key must match it.
func (c *Checker) CheckSender(ctx context.Context, domain, selector, publicKey string) (*Report, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if err := ValidateSelector(selector); err != nil {
		return nil, err
	}

	return &Report{
		Domain: domain,
		Results: []CheckResult{
			c.CheckSPF(ctx, domain),
			c.CheckDKIM(ctx, domain, selector, publicKey),
			c.CheckDMARC(ctx, domain),
		},
	}, nil
}

// lookup returns the TXT records of name, or a finished result on failure
func (c *Checker) lookup(ctx context.Context, name string, result CheckResult, missing string) ([]string, *CheckResult) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			result.Message = missing
			return nil, &result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return nil, &result
	}
	return records, nil
}

// CheckSPF checks the SPF record of domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF"}
	const missing = "No SPF record found (recommended to add)"

	records, failed := c.lookup(ctx, domain, result, missing)
	if failed != nil {
		return *failed
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt
		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all (allows any sender) - consider using ~all or -all"
		case strings.Contains(txt, "-all"):
			result.Message = "SPF configured with strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "SPF configured with soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = missing
	return result
}

// CheckDKIM checks the DKIM record of selector._domainkey.domain
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector, publicKey string) CheckResult {
	result := CheckResult{Type: fmt.Sprintf("DKIM (%s._domainkey)", selector)}

	records, failed := c.lookup(ctx, selector+"._domainkey."+domain, result,
		fmt.Sprintf("No DKIM record found for selector '%s'", selector))
	if failed != nil {
		return *failed
	}

	// long keys are split across strings
	record := strings.Join(records, "")
	result.Value = truncate(record, 100)

	if !strings.Contains(record, "v=DKIM1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DKIM record"
		return result
	}

	published := Tag(record, "p")
	switch {
	case published == "":
		result.Status = StatusError
		result.Message = "DKIM record missing public key (p=)"
	case publicKey != "" && published != publicKey:
		result.Status = StatusError
		result.Message = "Published key does not match the configured signing key"
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("DKIM configured with %s key", strings.ToUpper(keyType(record)))
		if publicKey != "" {
			result.Message += ", matches the signing key"
		}
	}
	return result
}

func keyType(record string) string {
	if k := Tag(record, "k"); k != "" {
		return k
	}
	return "rsa"
}

// CheckDMARC checks the DMARC record of domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC"}

	records, failed := c.lookup(ctx, "_dmarc."+domain, result, "No DMARC record found (recommended to add)")
	if failed != nil {
		return *failed
	}

	record := strings.Join(records, "")
	result.Value = record

	if !strings.HasPrefix(record, "v=DMARC1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DMARC record"
		return result
	}

	result.Status = StatusOK
	switch Tag(record, "p") {
	case "reject":
		result.Message = "DMARC configured with reject policy (strict)"
	case "quarantine":
		result.Message = "DMARC configured with quarantine policy"
	case "none":
		result.Status = StatusWarning
		result.Message = "DMARC configured with none policy (monitoring only)"
	}
	return result
}

// Tag returns the value of a tag=value pair in a semicolon separated
// record, with folding whitespace removed
func Tag(record, name string) string {
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.TrimSpace(k) == name {
			return strings.Join(strings.Fields(v), "")
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

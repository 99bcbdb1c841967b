// Package ipfilter restricts HTTP endpoints to configured client networks
package ipfilter

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed prefixes
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New creates a filter from IPs and CIDRs. Invalid entries are logged and
// skipped; an empty list allows everyone.
func New(allowed []string, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &Filter{logger: logger}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, err := parsePrefix(entry)
		if err != nil {
			logger.Warn("invalid entry in allowed_ips", "entry", entry, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, p)
	}
	return f
}

func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Enabled reports whether filtering is active
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.prefixes)
}

// IsAllowed reports whether addr is allowed
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsAllowedString parses s and checks it
func (f *Filter) IsAllowedString(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return f.IsAllowed(addr)
}

// ClientAddr extracts the client address of r. X-Forwarded-For and
// X-Real-IP take precedence over RemoteAddr.
func ClientAddr(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr, true
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr, true
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// Middleware rejects requests from addresses outside the allowed networks
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := ClientAddr(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !f.IsAllowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package ipfilter

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		wantCount int
	}{
		{"empty list", []string{}, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR range", []string{"10.0.0.0/8"}, 1},
		{"multiple entries", []string{"192.168.1.1", "10.0.0.0/8", "172.16.0.0/12"}, 3},
		{"with whitespace", []string{"  192.168.1.1  ", " 10.0.0.0/8 "}, 2},
		{"invalid entries ignored", []string{"192.168.1.1", "invalid", "10.0.0.0/33"}, 1},
		{"IPv6", []string{"::1", "2001:db8::/32"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowed, nil)
			if f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
			if f.Enabled() != (tt.wantCount > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestIsAllowed(t *testing.T) {
	f := New([]string{"192.168.1.100", "10.0.0.0/8", "::1", "fe80::/10"}, nil)

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.20.30.40", true},
		{"11.0.0.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"2001:db8::1", false},
		{"::ffff:10.1.2.3", true},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := f.IsAllowedString(tt.ip); got != tt.want {
				t.Errorf("IsAllowedString(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestEmptyFilterAllowsAll(t *testing.T) {
	f := New(nil, nil)
	if !f.IsAllowed(netip.MustParseAddr("8.8.8.8")) {
		t.Error("empty filter should allow all")
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"x-forwarded-for", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "10.0.0.1"},
		{"x-real-ip", "127.0.0.1:1", map[string]string{"X-Real-IP": "10.0.0.5"}, "10.0.0.5"},
		{"bad forwarded falls back", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "nope"}, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, ok := ClientAddr(r)
			if !ok {
				t.Fatal("ClientAddr() failed")
			}
			if got.String() != tt.want {
				t.Errorf("ClientAddr() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	f := New([]string{"10.0.0.0/8"}, nil)
	h := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		remoteAddr string
		want       int
	}{
		{"10.1.1.1:5000", http.StatusOK},
		{"192.168.0.1:5000", http.StatusForbidden},
		{"not-an-ip", http.StatusForbidden},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		r.RemoteAddr = tt.remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.remoteAddr, rec.Code, tt.want)
		}
	}
}

package main

import (
	"strings"
	"testing"

	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/sandbox"
)

func setInitFlags(t *testing.T) {
	t.Helper()
	initHostname = "notify.example.com"
	initDomain = "example.com"
	initDataDir = t.TempDir()
	initAPIKey = "testapikey"
	initMode = "production"
	initACME = false
	initACMEEmail = ""
}

func TestGenerateRandomString(t *testing.T) {
	for _, length := range []int{8, 16, 32, 64} {
		if got := generateRandomString(length); len(got) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(got))
		}
	}

	if generateRandomString(32) == generateRandomString(32) {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestGenerateConfig(t *testing.T) {
	setInitFlags(t)

	out := generateConfig("")

	for _, check := range []string{
		`hostname: "notify.example.com"`,
		`api_key: "testapikey"`,
		`from: "noreply@example.com"`,
		`# tls:`,
	} {
		if !strings.Contains(out, check) {
			t.Errorf("generated config missing: %s", check)
		}
	}

	cfg, err := config.Parse([]byte(out))
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.API.APIKey != "testapikey" {
		t.Errorf("api key = %q", cfg.API.APIKey)
	}
	if cfg.SandboxConfig().Active() {
		t.Error("production mode should not activate the sandbox")
	}
	if cfg.DispatchConfig().DefaultDrivers[notify.ChannelSMS] != "twilio" {
		t.Errorf("default drivers = %v", cfg.DispatchConfig().DefaultDrivers)
	}
}

func TestGenerateConfigSandbox(t *testing.T) {
	setInitFlags(t)
	initMode = "sandbox"

	cfg, err := config.Parse([]byte(generateConfig("")))
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	sb := cfg.SandboxConfig()
	for _, ch := range notify.Channels {
		if got := sb.ModeFor(ch).Mode; got != sandbox.ModeSandbox {
			t.Errorf("%s mode = %s, want sandbox", ch, got)
		}
	}
}

func TestGenerateConfigWithDKIM(t *testing.T) {
	setInitFlags(t)

	keyPath := initDataDir + "/dkim/example.com.key"
	cfg, err := config.Parse([]byte(generateConfig(keyPath)))
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	d := cfg.Providers.SMTP.DKIM
	if !d.Enabled || d.KeyFile != keyPath || d.Domain != "example.com" {
		t.Errorf("dkim = %+v", d)
	}
}

func TestGenerateConfigWithACME(t *testing.T) {
	setInitFlags(t)
	initACME = true
	initACMEEmail = "admin@example.com"

	cfg, err := config.Parse([]byte(generateConfig("")))
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	acme := cfg.API.TLS.ACME
	if !acme.Enabled || acme.Email != initACMEEmail || len(acme.Domains) != 1 || acme.Domains[0] != initHostname {
		t.Errorf("acme = %+v", acme)
	}
	if !cfg.HasTLS() {
		t.Error("HasTLS() = false with ACME enabled")
	}
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		addr string
		tls  bool
		want string
	}{
		{":8080", false, "http://localhost:8080"},
		{"127.0.0.1:9000", false, "http://127.0.0.1:9000"},
		{":443", true, "https://localhost:443"},
	}
	for _, tt := range tests {
		if got := localURL(tt.addr, tt.tls); got != tt.want {
			t.Errorf("localURL(%q, %v) = %q, want %q", tt.addr, tt.tls, got, tt.want)
		}
	}
}

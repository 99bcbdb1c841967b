// Package tls builds the TLS configuration of the HTTP API, from PEM files
// or from Let's Encrypt through ACME.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// Config selects where certificates come from
type Config struct {
	CertFile string
	KeyFile  string
	ACME     ACMEConfig
}

// ACMEConfig configures automatic certificates
type ACMEConfig struct {
	Enabled  bool
	Email    string
	Domains  []string
	CacheDir string
}

// Enabled reports whether TLS is configured at all
func (c Config) Enabled() bool {
	return c.ACME.Enabled || (c.CertFile != "" && c.KeyFile != "")
}

// Server holds the resolved TLS configuration
type Server struct {
	Config *tls.Config
	acme   *autocert.Manager
}

// New resolves cfg. ACME wins over static files when both are set.
func New(cfg Config) (*Server, error) {
	if cfg.ACME.Enabled {
		if len(cfg.ACME.Domains) == 0 {
			return nil, fmt.Errorf("acme requires at least one domain")
		}
		cacheDir := cfg.ACME.CacheDir
		if cacheDir == "" {
			cacheDir = "certs"
		}
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      cfg.ACME.Email,
			HostPolicy: autocert.HostWhitelist(cfg.ACME.Domains...),
			Cache:      autocert.DirCache(cacheDir),
		}
		return &Server{
			Config: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tls.VersionTLS12,
				NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
			},
			acme: m,
		}, nil
	}

	conf, err := LoadCertificate(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &Server{Config: conf}, nil
}

// ChallengeHandler wraps fallback with the HTTP-01 challenge responder.
// Without ACME it returns fallback unchanged.
func (s *Server) ChallengeHandler(fallback http.Handler) http.Handler {
	if s.acme == nil {
		return fallback
	}
	return s.acme.HTTPHandler(fallback)
}

// LoadCertificate loads a TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertificateInfo describes a certificate on disk
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// GetCertificateInfo reads certificate info from a PEM file
func GetCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateInfo{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(time.Until(cert.NotAfter).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}, nil
}

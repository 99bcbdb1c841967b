// Package dkim signs outgoing email for the SMTP sender and manages the
// signing keys.
package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// Algorithm names accepted by GenerateKey
const (
	AlgorithmRSA     = "rsa"
	AlgorithmEd25519 = "ed25519"
)

// Key is a signing key with its DNS identity
type Key struct {
	Signer   crypto.Signer
	Domain   string
	Selector string
}

// GenerateKey creates an RSA 2048 or Ed25519 key
func GenerateKey(algorithm, domain, selector string) (*Key, error) {
	var signer crypto.Signer
	switch algorithm {
	case AlgorithmRSA, "":
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		signer = k
	case AlgorithmEd25519:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		signer = k
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", algorithm)
	}
	return &Key{Signer: signer, Domain: domain, Selector: selector}, nil
}

// Save writes the private key as PKCS#8 PEM with 0600 permissions
func (k *Key) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(k.Signer)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// DNSName returns the TXT record name
func (k *Key) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", k.Selector, k.Domain)
}

// DNSRecord returns the TXT record value
func (k *Key) DNSRecord() (string, error) {
	switch pub := k.Signer.Public().(type) {
	case ed25519.PublicKey:
		return "v=DKIM1; k=ed25519; p=" + base64.StdEncoding.EncodeToString(pub), nil
	case *rsa.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return "", err
		}
		return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der), nil
	}
	return "", fmt.Errorf("unsupported public key type %T", k.Signer.Public())
}

// LoadKey reads a PEM private key (PKCS#1 or PKCS#8)
func LoadKey(path, domain, selector string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ParseKey(data)
	if err != nil {
		return nil, err
	}
	return &Key{Signer: signer, Domain: domain, Selector: selector}, nil
}

// ParseKey decodes a PEM encoded RSA or Ed25519 private key
func ParseKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		}
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return nil, fmt.Errorf("unsupported key type: %s", block.Type)
}

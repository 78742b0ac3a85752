// Package dkim signs outgoing messages with DKIM.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

var defaultHeaderKeys = []string{
	"from",
	"to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// Config selects the signing identity. A zero Config disables signing.
type Config struct {
	// Selector is the DKIM selector published in DNS.
	Selector string
	// Domain overrides the domain taken from the sender address.
	Domain string
	// PrivateKey holds a PEM encoded key inline.
	PrivateKey string
	// KeyPath points to a PEM encoded key file, used when PrivateKey is empty.
	KeyPath string
	// HeaderKeys overrides the signed header fields.
	HeaderKeys []string
}

// Enabled reports whether any signing setting is present.
func (c Config) Enabled() bool {
	return c.Selector != "" || c.Domain != "" || c.PrivateKey != "" || c.KeyPath != ""
}

// Signer applies DKIM signatures to messages.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// New builds a Signer from cfg. It returns nil, nil when cfg is disabled.
func New(cfg Config) (*Signer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	selector := strings.TrimSpace(cfg.Selector)
	if selector == "" {
		return nil, errors.New("dkim: selector is required when enabling DKIM")
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.KeyPath != "":
		data, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: provide a private key or a key path")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}

	headerKeys := cfg.HeaderKeys
	if len(headerKeys) == 0 {
		headerKeys = defaultHeaderKeys
	}

	return &Signer{
		domain:     strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector:   selector,
		key:        key,
		headerKeys: headerKeys,
	}, nil
}

// Selector returns the configured selector.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}

	return s.selector
}

// Sign returns message with a DKIM-Signature header prepended. Messages that
// already carry one are returned unchanged, as is everything when s is nil.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = extractDomain(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(normalizeLineEndings(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}

	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}

	return nil, errors.New("no private key found in PEM data")
}

func extractDomain(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, "<"); i >= 0 && strings.HasSuffix(address, ">") {
		address = address[i+1 : len(address)-1]
	}
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}

	return ""
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)

	return bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:")) || bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:"))
}

func normalizeLineEndings(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}

	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}

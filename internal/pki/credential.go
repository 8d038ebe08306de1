package pki

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// ErrInvalidPEM is returned when PEM data holds no certificate.
var ErrInvalidPEM = errors.New("invalid PEM data")

// Credential is a certificate together with its private key.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
}

// Subject returns the certificate subject as a DN string.
func (c *Credential) Subject() string {
	return c.Certificate.Subject.String()
}

// NotAfter returns the end of the certificate validity window.
func (c *Credential) NotAfter() time.Time {
	return c.Certificate.NotAfter
}

// Bundle encodes the credential as a password protected PKCS#12 archive.
// The certificate and key are bound to each other by a shared local key ID.
func (c *Credential) Bundle(random io.Reader, password string) ([]byte, error) {
	if c.Certificate == nil || c.PrivateKey == nil {
		return nil, errors.New("credential is incomplete")
	}

	data, err := pkcs12.Modern.WithRand(randomOrDefault(random)).Encode(c.PrivateKey, c.Certificate, nil, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PKCS#12 bundle: %w", err)
	}
	return data, nil
}

// PEM renders the public certificate as Base64 DER between the standard
// BEGIN/END CERTIFICATE lines, wrapped at 64 columns.
func (c *Credential) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Certificate.Raw})
}

// OpenBundle decodes a PKCS#12 archive produced by Bundle.
func OpenBundle(data []byte, password string) (*Credential, error) {
	key, cert, _, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return &Credential{Certificate: cert, PrivateKey: rsaKey}, nil
}

// ParseCertificatePEM decodes the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrInvalidPEM
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return cert, nil
	}
}

// Package pki implements the certificate engine of the private CA: key and
// serial generation, X.509 extension construction, certificate signing and
// credential packaging.
package pki

import (
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"
)

// Default validity periods, in years.
const (
	DefaultAuthorityYears  = 50
	DefaultSelfSignedYears = 2
	DefaultIssuedYears     = 1
)

// DefaultPurposes are the extended key usages given to every certificate
// the lifecycle manager creates.
var DefaultPurposes = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

// BuildRequest describes one certificate to be assembled and signed.
// Leave Issuer and IssuerKey nil to self-sign with SubjectKey.
type BuildRequest struct {
	Subject    pkix.Name
	SubjectKey *rsa.PrivateKey
	Serial     *big.Int

	Issuer    *x509.Certificate
	IssuerKey *rsa.PrivateKey

	Years    int
	IsCA     bool
	Purposes []x509.ExtKeyUsage
	AltNames []string

	Random io.Reader
	Now    time.Time
}

// Build assembles the certificate described by req, attaches the Authority
// and Subject Key Identifier, Basic Constraints, Extended Key Usage and
// Subject Alternative Name extensions, and signs it with SHA-256/RSA using
// the issuer's private key.
func Build(req BuildRequest) (*x509.Certificate, error) {
	if req.SubjectKey == nil {
		return nil, errors.New("subject key is required")
	}
	if req.Serial == nil || req.Serial.Sign() <= 0 {
		return nil, errors.New("serial number must be positive")
	}
	if req.Years <= 0 {
		return nil, fmt.Errorf("invalid validity period: %d years", req.Years)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	subjectRaw, err := asn1.Marshal(req.Subject.ToRDNSequence())
	if err != nil {
		return nil, fmt.Errorf("failed to encode subject name: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:       req.Serial,
		Subject:            req.Subject,
		NotBefore:          now,
		NotAfter:           now.AddDate(req.Years, 0, 0),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	// Resolve the signing side. Self-signed certificates are their own issuer.
	parent := template
	issuerKey := req.SubjectKey
	issuerRaw := subjectRaw
	issuerSerial := req.Serial
	if req.Issuer != nil {
		if req.IssuerKey == nil {
			return nil, errors.New("issuer key is required when an issuer certificate is given")
		}
		parent = req.Issuer
		issuerKey = req.IssuerKey
		issuerRaw = req.Issuer.RawSubject
		issuerSerial = req.Issuer.SerialNumber
	}

	aki, err := AuthorityKeyIDExtension(&issuerKey.PublicKey, issuerRaw, issuerSerial)
	if err != nil {
		return nil, err
	}
	ski, err := SubjectKeyIDExtension(&req.SubjectKey.PublicKey)
	if err != nil {
		return nil, err
	}
	bc, err := BasicConstraintsExtension(req.IsCA)
	if err != nil {
		return nil, err
	}
	template.ExtraExtensions = []pkix.Extension{aki, ski, bc}

	if eku, ok, err := ExtendedKeyUsageExtension(req.Purposes); err != nil {
		return nil, err
	} else if ok {
		template.ExtraExtensions = append(template.ExtraExtensions, eku)
	}

	if san, ok, err := SubjectAltNameExtension(req.AltNames); err != nil {
		return nil, err
	} else if ok {
		template.ExtraExtensions = append(template.ExtraExtensions, san)
	}

	der, err := x509.CreateCertificate(randomOrDefault(req.Random), template, parent, &req.SubjectKey.PublicKey, issuerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed certificate: %w", err)
	}
	return cert, nil
}

// Options are the caller-facing parameters for creating a credential.
type Options struct {
	Subject  pkix.Name
	AltNames []string
	Purposes []x509.ExtKeyUsage
	KeyBits  int
	Years    int

	Random io.Reader
	Now    time.Time
}

func (o Options) keyBits() int {
	if o.KeyBits == 0 {
		return DefaultKeyBits
	}
	return o.KeyBits
}

func (o Options) years(fallback int) int {
	if o.Years == 0 {
		return fallback
	}
	return o.Years
}

// CreateAuthority creates a self-signed root CA credential.
func CreateAuthority(opts Options) (*Credential, error) {
	return selfSigned(opts, true, opts.years(DefaultAuthorityYears))
}

// CreateSelfSigned creates a self-signed end-entity credential.
func CreateSelfSigned(opts Options) (*Credential, error) {
	return selfSigned(opts, false, opts.years(DefaultSelfSignedYears))
}

func selfSigned(opts Options, isCA bool, years int) (*Credential, error) {
	random := randomOrDefault(opts.Random)

	key, err := GenerateKey(random, opts.keyBits())
	if err != nil {
		return nil, err
	}
	serial, err := NewSerial(random)
	if err != nil {
		return nil, err
	}

	cert, err := Build(BuildRequest{
		Subject:    opts.Subject,
		SubjectKey: key,
		Serial:     serial,
		Years:      years,
		IsCA:       isCA,
		Purposes:   opts.Purposes,
		AltNames:   opts.AltNames,
		Random:     random,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Credential{Certificate: cert, PrivateKey: key}, nil
}

// Issue creates an end-entity credential signed by issuer.
func Issue(issuer *Credential, opts Options) (*Credential, error) {
	if issuer == nil || issuer.Certificate == nil || issuer.PrivateKey == nil {
		return nil, errors.New("issuer credential is incomplete")
	}
	random := randomOrDefault(opts.Random)

	key, err := GenerateKey(random, opts.keyBits())
	if err != nil {
		return nil, err
	}
	serial, err := NewSerial(random)
	if err != nil {
		return nil, err
	}

	cert, err := Build(BuildRequest{
		Subject:    opts.Subject,
		SubjectKey: key,
		Serial:     serial,
		Issuer:     issuer.Certificate,
		IssuerKey:  issuer.PrivateKey,
		Years:      opts.years(DefaultIssuedYears),
		Purposes:   opts.Purposes,
		AltNames:   opts.AltNames,
		Random:     random,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Credential{Certificate: cert, PrivateKey: key}, nil
}

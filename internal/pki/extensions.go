package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"net"
)

// Extension OIDs (RFC 5280, 4.2.1).
var (
	OIDSubjectKeyID     = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDAuthorityKeyID   = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}
)

// Key purpose OIDs (RFC 5280, 4.2.1.12).
var purposeOIDs = map[x509.ExtKeyUsage]asn1.ObjectIdentifier{
	x509.ExtKeyUsageServerAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	x509.ExtKeyUsageClientAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	x509.ExtKeyUsageCodeSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	x509.ExtKeyUsageEmailProtection: {1, 3, 6, 1, 5, 5, 7, 3, 4},
	x509.ExtKeyUsageTimeStamping:    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	x509.ExtKeyUsageOCSPSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

// GeneralName tags used in SAN and AKI.
const (
	nameTypeDNS       = 2
	nameTypeDirectory = 4
	nameTypeIP        = 7
)

// ErrUnknownPurpose is returned for an extended key usage with no known OID.
var ErrUnknownPurpose = errors.New("unknown extended key usage")

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

type authorityKeyIdentifier struct {
	KeyIdentifier       []byte          `asn1:"optional,tag:0"`
	AuthorityCertIssuer []asn1.RawValue `asn1:"optional,tag:1"`
	AuthorityCertSerial *big.Int        `asn1:"optional,tag:2"`
}

// AuthorityKeyID is the decoded form of an Authority Key Identifier extension.
type AuthorityKeyID struct {
	KeyID  []byte
	Issuer pkix.RDNSequence
	Serial *big.Int
}

// KeyIdentifier returns the RFC 5280 method 1 key identifier: the SHA-1 hash
// of the subjectPublicKey bit string.
func KeyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	var spki struct {
		Algorithm        pkix.AlgorithmIdentifier
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("failed to decode public key info: %w", err)
	}

	sum := sha1.Sum(spki.SubjectPublicKey.Bytes)
	return sum[:], nil
}

// AuthorityKeyIDExtension builds the Authority Key Identifier from the
// issuer's public key, encoded subject name and serial number. When
// self-signing these are the subject's own values.
func AuthorityKeyIDExtension(issuerPub crypto.PublicKey, issuerRawSubject []byte, issuerSerial *big.Int) (pkix.Extension, error) {
	keyID, err := KeyIdentifier(issuerPub)
	if err != nil {
		return pkix.Extension{}, err
	}

	aki := authorityKeyIdentifier{
		KeyIdentifier: keyID,
		AuthorityCertIssuer: []asn1.RawValue{{
			Class:      asn1.ClassContextSpecific,
			Tag:        nameTypeDirectory,
			IsCompound: true,
			Bytes:      issuerRawSubject,
		}},
		AuthorityCertSerial: issuerSerial,
	}

	value, err := asn1.Marshal(aki)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode authority key identifier: %w", err)
	}
	return pkix.Extension{Id: OIDAuthorityKeyID, Value: value}, nil
}

// SubjectKeyIDExtension builds the Subject Key Identifier for pub.
func SubjectKeyIDExtension(pub crypto.PublicKey) (pkix.Extension, error) {
	keyID, err := KeyIdentifier(pub)
	if err != nil {
		return pkix.Extension{}, err
	}
	value, err := asn1.Marshal(keyID)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode subject key identifier: %w", err)
	}
	return pkix.Extension{Id: OIDSubjectKeyID, Value: value}, nil
}

// BasicConstraintsExtension builds the critical Basic Constraints extension.
// CA path length is left unconstrained.
func BasicConstraintsExtension(isCA bool) (pkix.Extension, error) {
	value, err := asn1.Marshal(basicConstraints{IsCA: isCA, MaxPathLen: -1})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode basic constraints: %w", err)
	}
	return pkix.Extension{Id: OIDBasicConstraints, Critical: true, Value: value}, nil
}

// ExtendedKeyUsageExtension builds the EKU extension. ok is false when
// purposes is empty and the extension should be omitted.
func ExtendedKeyUsageExtension(purposes []x509.ExtKeyUsage) (ext pkix.Extension, ok bool, err error) {
	if len(purposes) == 0 {
		return pkix.Extension{}, false, nil
	}

	oids := make([]asn1.ObjectIdentifier, 0, len(purposes))
	for _, p := range purposes {
		oid, found := purposeOIDs[p]
		if !found {
			return pkix.Extension{}, false, fmt.Errorf("%w: %d", ErrUnknownPurpose, p)
		}
		oids = append(oids, oid)
	}

	value, err := asn1.Marshal(oids)
	if err != nil {
		return pkix.Extension{}, false, fmt.Errorf("failed to encode extended key usage: %w", err)
	}
	return pkix.Extension{Id: OIDExtendedKeyUsage, Value: value}, true, nil
}

// ClassifyNames splits SAN entries into DNS names and IP addresses. A name
// that parses as a literal IPv4 or IPv6 address is an IP; anything else is DNS.
func ClassifyNames(names []string) (dns []string, ips []net.IP) {
	for _, name := range names {
		if ip := net.ParseIP(name); ip != nil {
			ips = append(ips, ip)
			continue
		}
		dns = append(dns, name)
	}
	return dns, ips
}

// SubjectAltNameExtension builds the SAN extension, preserving the order of
// names. ok is false when names is empty and the extension should be omitted.
func SubjectAltNameExtension(names []string) (ext pkix.Extension, ok bool, err error) {
	if len(names) == 0 {
		return pkix.Extension{}, false, nil
	}

	raw := make([]asn1.RawValue, 0, len(names))
	for _, name := range names {
		if ip := net.ParseIP(name); ip != nil {
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			raw = append(raw, asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: nameTypeIP, Bytes: ip})
			continue
		}
		raw = append(raw, asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: nameTypeDNS, Bytes: []byte(name)})
	}

	value, err := asn1.Marshal(raw)
	if err != nil {
		return pkix.Extension{}, false, fmt.Errorf("failed to encode subject alternative name: %w", err)
	}
	return pkix.Extension{Id: OIDSubjectAltName, Value: value}, true, nil
}

// ParseAuthorityKeyID decodes the Authority Key Identifier of cert, including
// the issuer name and serial that the standard library does not expose.
func ParseAuthorityKeyID(cert *x509.Certificate) (*AuthorityKeyID, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(OIDAuthorityKeyID) {
			continue
		}

		var aki authorityKeyIdentifier
		if _, err := asn1.Unmarshal(ext.Value, &aki); err != nil {
			return nil, fmt.Errorf("failed to decode authority key identifier: %w", err)
		}

		out := &AuthorityKeyID{KeyID: aki.KeyIdentifier, Serial: aki.AuthorityCertSerial}
		for _, gn := range aki.AuthorityCertIssuer {
			if gn.Class != asn1.ClassContextSpecific || gn.Tag != nameTypeDirectory {
				continue
			}
			if _, err := asn1.Unmarshal(gn.Bytes, &out.Issuer); err != nil {
				return nil, fmt.Errorf("failed to decode authority issuer name: %w", err)
			}
			break
		}
		return out, nil
	}
	return nil, fmt.Errorf("certificate has no authority key identifier")
}

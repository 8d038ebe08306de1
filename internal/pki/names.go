package pki

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedName is returned when a distinguished name string cannot be parsed.
var ErrMalformedName = errors.New("malformed distinguished name")

// ParseDistinguishedName parses a comma separated DN such as
// "CN=panel.example.local,O=Acme,C=US" into a pkix.Name. Commas inside a
// value must be escaped with a backslash.
func ParseDistinguishedName(dn string) (pkix.Name, error) {
	var name pkix.Name

	parts := splitEscaped(dn, ',')
	if strings.TrimSpace(dn) == "" {
		return name, fmt.Errorf("%w: empty name", ErrMalformedName)
	}

	for _, part := range parts {
		key, value, ok := strings.Cut(part, "=")
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return pkix.Name{}, fmt.Errorf("%w: %q", ErrMalformedName, part)
		}

		switch key {
		case "CN":
			if name.CommonName != "" {
				return pkix.Name{}, fmt.Errorf("%w: duplicate CN", ErrMalformedName)
			}
			name.CommonName = value
		case "O":
			name.Organization = append(name.Organization, value)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, value)
		case "L":
			name.Locality = append(name.Locality, value)
		case "ST", "S":
			name.Province = append(name.Province, value)
		case "C":
			name.Country = append(name.Country, value)
		case "STREET":
			name.StreetAddress = append(name.StreetAddress, value)
		case "POSTALCODE":
			name.PostalCode = append(name.PostalCode, value)
		case "SERIALNUMBER":
			name.SerialNumber = value
		default:
			return pkix.Name{}, fmt.Errorf("%w: unsupported attribute %q", ErrMalformedName, key)
		}
	}

	return name, nil
}

// splitEscaped splits s on sep, honouring backslash escapes.
func splitEscaped(s string, sep byte) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i+1])
			i++
			continue
		}
		if c == sep {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(parts, cur.String())
}

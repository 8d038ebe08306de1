package pki

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
)

const (
	// MinKeyBits is the smallest RSA modulus accepted for server or client
	// authentication certificates.
	MinKeyBits = 2048
	// DefaultKeyBits is the key strength used when none is configured.
	DefaultKeyBits = 2048
)

// ErrWeakKey is returned when a key strength below MinKeyBits is requested.
var ErrWeakKey = errors.New("key strength below minimum")

// GenerateKey generates a fresh RSA key pair of the given strength using
// only the supplied random source.
func GenerateKey(random io.Reader, bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("%w: %d bits (minimum %d)", ErrWeakKey, bits, MinKeyBits)
	}

	priv, err := rsa.GenerateKey(randomOrDefault(random), bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return priv, nil
}

package pki

import (
	"crypto/rand"
	"io"
)

// SecureRandom returns the platform's cryptographically secure generator.
// Every issuance takes the reader explicitly so that callers (and tests) can
// substitute their own source.
func SecureRandom() io.Reader {
	return rand.Reader
}

func randomOrDefault(r io.Reader) io.Reader {
	if r == nil {
		return SecureRandom()
	}
	return r
}

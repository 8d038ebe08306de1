package pki

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// serialSpan is the width of the serial range [1, 2^63-1).
var serialSpan = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(2))

// NewSerial draws a uniformly random certificate serial number in
// [1, 2^63-1). Serials are not monotonic and are not checked for
// duplicates; for a single-root private CA the collision odds are
// negligible.
func NewSerial(random io.Reader) (*big.Int, error) {
	n, err := rand.Int(randomOrDefault(random), serialSpan)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return n.Add(n, big.NewInt(1)), nil
}

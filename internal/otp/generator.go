package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// codeSpace is the inclusive-exclusive range of 6-digit codes.
const (
	codeMin   = 100000
	codeRange = 900000
)

// GenerateCode returns a cryptographically random 6-digit code in
// [100000, 1000000). It fails only if the secure RNG is unavailable, which
// is an environment fault, not a business outcome.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("secure RNG unavailable: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

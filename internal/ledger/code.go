package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateCode produces a zero-padded numeric code of the given length
// from crypto/rand. "007123" is a valid 6-digit code.
func GenerateCode(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

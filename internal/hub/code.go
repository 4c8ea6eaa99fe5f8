package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const CodeLength = 6

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// GenerateCode returns a zero-padded 6-digit code from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating join code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

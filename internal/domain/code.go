package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	apperrors "triplab/pkg/errors"
)

// Shareable code alphabet. 0, O, 1, I and L are left out so codes can be read aloud.
const (
	CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

// GenerateCode returns a random shareable code.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode reports whether code, once normalized, is a well-formed shareable code.
func IsValidCode(code string) bool {
	c := NormalizeCode(code)
	if len(c) != CodeLength {
		return false
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(CodeAlphabet, c[i]) < 0 {
			return false
		}
	}
	return true
}

// ValidateCode returns the normalized code or a validation error.
func ValidateCode(code string) (string, error) {
	if !IsValidCode(code) {
		return "", apperrors.NewValidationError("Invalid trip code", map[string]interface{}{
			"code": code,
		})
	}
	return NormalizeCode(code), nil
}

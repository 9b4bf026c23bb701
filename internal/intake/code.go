package intake

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet drops 0, O, 1, I and L so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength = 7
	minCodeLength     = 4
	maxCodeLength     = 16
)

// GenerateCode returns a random resume code of length n drawn from CodeAlphabet.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}
	if n < minCodeLength || n > maxCodeLength {
		return "", fmt.Errorf("code length %d out of range", n)
	}
	alphabetSize := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(CodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases a user-typed code and strips the spaces and
// dashes people add when copying it.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, code)
	return strings.ToUpper(code)
}

// ValidCode reports whether code is a plausible normalized resume code.
// Any upper-case alphanumeric is accepted so codes issued with an older
// alphabet still resolve.
func ValidCode(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

package lobby

import (
	"math/rand/v2"
	"strings"
)

// codeCharset leaves out characters that are easy to misread (0/O, 1/I/L).
const codeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength = 6

	// maxCodeAttempts bounds the search for an unused code.
	maxCodeAttempts = 100
)

// CodeGenerator produces candidate lobby codes. Uniqueness is checked by the registry.
type CodeGenerator func() string

// RandomCode draws a code from codeCharset.
func RandomCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for range codeLength {
		b.WriteByte(codeCharset[rand.IntN(len(codeCharset))]) //nolint:gosec // not a secret
	}
	return b.String()
}

// NormalizeCode upper-cases and trims a code typed by a player.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

package room

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet is the unambiguous alphabet for room codes. 0, O, 1, I and L
// are omitted so codes survive being read aloud or scribbled down.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a room code.
const CodeLength = 4

// GenerateCode returns a fresh 4-character room code. Codes are not checked
// for uniqueness here; the caller retries on create conflicts.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// nothing sensible to do but give up loudly.
			panic(err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String()
}

// CanonicalCode uppercases a code. All lookups and comparisons are
// case-insensitive with uppercase canonical.
func CanonicalCode(code string) string {
	return strings.ToUpper(code)
}

// ValidCode reports whether code is 4 characters from the code alphabet,
// in any case.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range CanonicalCode(code) {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

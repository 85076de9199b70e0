package room

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAlphabetOmitsAmbiguousChars(t *testing.T) {
	for _, r := range "0O1IL" {
		assert.False(t, strings.ContainsRune(CodeAlphabet, r),
			"alphabet must not contain %q", r)
	}
	assert.Len(t, CodeAlphabet, 31)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := GenerateCode()
		assert.Len(t, code, CodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, r),
				"code %q contains %q outside the alphabet", code, r)
		}
		seen[code] = true
	}
	// 200 draws from ~923k should essentially never all collide
	assert.Greater(t, len(seen), 150)
}

func TestCanonicalCode(t *testing.T) {
	assert.Equal(t, "HQK3", CanonicalCode("hqk3"))
	assert.Equal(t, "HQK3", CanonicalCode("HqK3"))
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("HQK3"))
	assert.True(t, ValidCode("hqk3"))
	assert.False(t, ValidCode("HQ"))
	assert.False(t, ValidCode("HQK30"))
	assert.False(t, ValidCode("HQK0"), "0 is not in the alphabet")
	assert.False(t, ValidCode("HQKI"), "I is not in the alphabet")
	assert.False(t, ValidCode("HQ-3"))
}

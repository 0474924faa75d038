package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"외화금액", "외화잔액", 1},
		{"통화 코드", "통화코드", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"->"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b))
			assert.Equal(t, tt.want, Levenshtein(tt.b, tt.a))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("currency", "currency"))
	assert.Equal(t, 0.75, Similarity("외화금액", "외화잔액"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 1.0, Similarity("", ""))
}

func TestTokenOverlap(t *testing.T) {
	assert.Equal(t, 0.5, TokenOverlap("abc", "abd"))
	assert.Equal(t, 1.0, TokenOverlap("ABC", "cba"))
	assert.Equal(t, 0.0, TokenOverlap("...", "---"))
	assert.InDelta(t, 1.0/3.0, TokenOverlap("통화", "통 금"), 1e-9)
}

func TestNormalize(t *testing.T) {
	// decomposed jamo compose to the same syllables
	decomposed := "\u1110\u1169\u11bc\u1112\u116a"
	assert.Equal(t, "통화", normalize(decomposed))
	assert.Equal(t, "amt in fc", normalize("  Amt in FC "))
}

package contexteng

import (
	"math"
	"strings"
)

// bigrams builds the character-bigram set of a string. Bigrams behave better
// than whitespace tokens for Korean text.
func bigrams(s string) map[string]bool {
	runes := []rune(strings.ToLower(strings.Join(strings.Fields(s), " ")))
	set := make(map[string]bool, len(runes))
	if len(runes) == 1 {
		set[string(runes)] = true
	}
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}

// Jaccard computes set overlap of character bigrams, in [0,1].
func Jaccard(a, b string) float64 {
	sa, sb := bigrams(a), bigrams(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for g := range sa {
		if sb[g] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// Cosine computes cosine similarity of two vectors, 0 on mismatch.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

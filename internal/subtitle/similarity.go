package subtitle

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// Similarity scores two texts from 0 to 100 by edit distance over their
// NFKC-normalized, whitespace-free runes. Two empty texts score 100.
func Similarity(a, b string) int {
	a, b = normalizeText(a), normalizeText(b)

	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 100
	}

	// integer math so an exact percentage is never rounded down a point
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (longest - dist) / longest
}

func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

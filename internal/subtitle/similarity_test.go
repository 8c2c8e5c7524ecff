package subtitle

import (
	"strings"
	"testing"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "hello", "hello", 100},
		{"both empty", "", "", 100},
		{"one empty", "abc", "", 0},
		{"one substitution in four", "abcd", "abce", 75},
		{"whitespace ignored", "hello world", "helloworld", 100},
		{"full width folded", "ＡＢＣ", "ABC", 100},
		{"unrelated", "abc", "xyz", 0},
		{"multibyte runes", "字幕测试", "字幕测验", 75},
		{"exact 45 of 20 runes", strings.Repeat("a", 20), strings.Repeat("a", 9) + strings.Repeat("b", 11), 45},
		{"exact 20 of 5 runes", "abcde", "awxyz", 20},
		{"truncates inexact", "abc", "abd", 66},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Similarity(tt.b, tt.a); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %d, want %d (not symmetric)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestSimilarityMonotonic(t *testing.T) {
	base := "the quick brown fox"
	closer := Similarity(base, "the quick brown box")
	farther := Similarity(base, "the slow brown box")
	if closer <= farther {
		t.Errorf("more shared content scored lower: %d <= %d", closer, farther)
	}
}

func TestSimilarityExactPercentages(t *testing.T) {
	for n := 1; n <= 60; n++ {
		for d := 0; d <= n; d++ {
			if 100*(n-d)%n != 0 {
				continue
			}
			a := strings.Repeat("a", n)
			b := strings.Repeat("a", n-d) + strings.Repeat("b", d)
			want := 100 * (n - d) / n
			if got := Similarity(a, b); got != want {
				t.Errorf("len %d dist %d: Similarity = %d, want %d", n, d, got, want)
			}
		}
	}
}

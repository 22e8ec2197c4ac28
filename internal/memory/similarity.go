package memory

import "math"

// Similarity scores how close two strings are on a 0..100 scale:
// round((1 - editDistance/maxLen) * 100). Symmetric; identical strings
// score 100, and comparing against an empty string scores 0.
func Similarity(a, b string) int {
	if a == b {
		return 100
	}

	runesA := []rune(a)
	runesB := []rune(b)
	lenA, lenB := len(runesA), len(runesB)
	if lenA == 0 || lenB == 0 {
		return 0
	}

	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}

	distance := levenshtein(runesA, runesB)
	return int(math.Round((1 - float64(distance)/float64(maxLen)) * 100))
}

// levenshtein computes the edit distance with the two-row method, keeping
// the working rows sized by the shorter string.
func levenshtein(a, b []rune) int {
	if len(b) > len(a) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			best := curr[j-1] + 1 // insertion
			if deletion := prev[j] + 1; deletion < best {
				best = deletion
			}
			if substitution := prev[j-1] + cost; substitution < best {
				best = substitution
			}
			curr[j] = best
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

package memory

import (
	"regexp"
	"strings"
)

var (
	whitespaceRE = regexp.MustCompile(`\s+`)

	// Curly quotes and typographic dashes collapse onto their ASCII
	// equivalents so that copy-edited and raw strings hash identically.
	punctuationNormalizer = strings.NewReplacer(
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
		"“", `"`, "”", `"`, "„", `"`,
		"‒", "-", "–", "-", "—", "-", "−", "-",
	)
)

// normalizeText produces the canonical form used by the exact-match index
// and by similarity scans: trimmed, lower-cased, whitespace collapsed,
// quotes and dashes normalized.
func normalizeText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return ""
	}
	text = punctuationNormalizer.Replace(text)
	return whitespaceRE.ReplaceAllString(text, " ")
}

package confidence

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Metrics holds the eight sub-scores, each in [0,100].
type Metrics struct {
	LengthRatio         int `json:"length_ratio"`
	PlaceholderMatch    int `json:"placeholder_match"`
	NumberMatch         int `json:"number_match"`
	PunctuationMatch    int `json:"punctuation_match"`
	CapitalizationMatch int `json:"capitalization_match"`
	ConsistencyScore    int `json:"consistency_score"`
	FormatPreservation  int `json:"format_preservation"`
	EmotionMatch        int `json:"emotion_match"`
}

var (
	// placeholderPattern covers the token shapes game engines use:
	// {name}, {{name}}, ${name}, #{name}, [[name]], <tag>, printf verbs.
	placeholderPattern = regexp.MustCompile(
		`\{\{[^{}]*\}\}|\$\{[^{}]*\}|#\{[^{}]*\}|\{[^{}]*\}|\[\[[^\[\]]*\]\]|</?[a-zA-Z][^<>]*/?>|%[0-9.]*[a-zA-Z@]`)

	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

	tagPattern = regexp.MustCompile(`</?[a-zA-Z][^<>]*/?>`)

	camelCasePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`)

	sentencePattern = regexp.MustCompile(`[.!?…]+`)
)

func extractPlaceholders(text string) []string {
	return placeholderPattern.FindAllString(text, -1)
}

// extractNumbers returns numeric tokens with decimal commas normalized to
// dots, so 3,14 and 3.14 compare equal. Thousands separators are folded
// too: a deliberate trade-off, the metric cares about digits surviving
// translation, not locale formatting.
func extractNumbers(text string) []string {
	tokens := numberPattern.FindAllString(text, -1)
	normalized := make([]string, len(tokens))
	for i, tok := range tokens {
		normalized[i] = strings.ReplaceAll(tok, ",", ".")
	}
	return normalized
}

func extractTags(text string) []string {
	tokens := tagPattern.FindAllString(text, -1)
	normalized := make([]string, len(tokens))
	for i, tok := range tokens {
		normalized[i] = strings.ToLower(tok)
	}
	return normalized
}

// multisetMatch counts how many source tokens survive in the target,
// respecting duplicates. It also reports which tokens went missing.
func multisetMatch(source, target []string) (matched, total int, missing []string) {
	total = len(source)
	if total == 0 {
		return 0, 0, nil
	}

	remaining := make(map[string]int, len(target))
	for _, tok := range target {
		remaining[tok]++
	}
	for _, tok := range source {
		if remaining[tok] > 0 {
			remaining[tok]--
			matched++
			continue
		}
		missing = append(missing, tok)
	}
	return matched, total, missing
}

func ratioScore(matched, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(matched) / float64(total) * 100))
}

func lengthRatioScore(original, translated string) int {
	srcLen := utf8.RuneCountInString(original)
	tgtLen := utf8.RuneCountInString(translated)
	if srcLen == 0 {
		return 100
	}

	ratio := float64(tgtLen) / float64(srcLen)
	switch {
	case ratio >= 0.7 && ratio <= 1.5:
		return 100
	case ratio >= 0.5 && ratio <= 2.0:
		return 80
	case ratio >= 0.3 && ratio <= 3.0:
		return 50
	default:
		return 20
	}
}

func placeholderScore(original, translated string) (int, []string) {
	matched, total, missing := multisetMatch(extractPlaceholders(original), extractPlaceholders(translated))
	return ratioScore(matched, total), missing
}

func numberScore(original, translated string) (int, []string) {
	matched, total, missing := multisetMatch(extractNumbers(original), extractNumbers(translated))
	return ratioScore(matched, total), missing
}

func formatScore(original, translated string) (int, []string) {
	matched, total, missing := multisetMatch(extractTags(original), extractTags(translated))
	return ratioScore(matched, total), missing
}

// terminalRunes includes the full-width forms CJK targets end sentences
// with, so a correct ja/zh translation is not flagged for using 。 or ！.
const terminalRunes = ".!?…。！？"

func endsWithTerminal(text string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(terminalRunes, last)
}

func endsWith(text string, marks string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(marks, last)
}

func containsAny(text string, marks string) bool {
	return strings.ContainsAny(text, marks)
}

func punctuationScore(original, translated string) int {
	score := 100

	if endsWith(original, "!！") && !containsAny(translated, "!！") {
		score -= 20
	}
	if endsWith(original, "?？") && !containsAny(translated, "?？") {
		score -= 30
	}

	srcTerminal := endsWithTerminal(original)
	tgtTerminal := endsWithTerminal(translated)
	if srcTerminal && !tgtTerminal {
		score -= 60
	}
	if tgtTerminal && !srcTerminal && score > 80 {
		score = 80
	}

	return clampScore(score)
}

func capitalizationScore(original, translated string) int {
	if isFullyUpper(original) && !isFullyUpper(translated) && hasCasedLetter(translated) {
		return 60
	}
	srcFirst, srcOK := firstLetter(original)
	tgtFirst, tgtOK := firstLetter(translated)
	if srcOK && tgtOK && unicode.IsUpper(srcFirst) && unicode.IsLower(tgtFirst) {
		return 80
	}
	return 100
}

// isFullyUpper reports whether the text carries at least two upper-case
// letters and no lower-case ones. Caseless scripts never qualify.
func isFullyUpper(text string) bool {
	upper := 0
	for _, r := range text {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return upper >= 2
}

func hasCasedLetter(text string) bool {
	for _, r := range text {
		if unicode.IsUpper(r) || unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func firstLetter(text string) (rune, bool) {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return r, true
		}
	}
	return 0, false
}

func countSentences(text string) int {
	return len(sentencePattern.FindAllString(text, -1))
}

// isPlaceholderOnly reports whether stripping placeholder tokens and
// whitespace leaves nothing behind.
func isPlaceholderOnly(text string) bool {
	stripped := placeholderPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(stripped) == ""
}

// consistencyFindings carries the facts issue generation needs from the
// consistency metric.
type consistencyFindings struct {
	unchanged       bool
	glossaryMisses  []string
	memoryAgreement int
	memoryChecked   bool
}

func (s *Scorer) consistencyScore(original, translated string, sctx *Context) (int, consistencyFindings) {
	score := 100
	var findings consistencyFindings

	trimmed := strings.TrimSpace(original)
	if original == translated && utf8.RuneCountInString(trimmed) > 3 && !isPlaceholderOnly(trimmed) {
		score -= 30
		findings.unchanged = true
	}

	srcSentences := countSentences(original)
	tgtSentences := countSentences(translated)
	if srcSentences > 0 && tgtSentences > 0 {
		ratio := float64(tgtSentences) / float64(srcSentences)
		if ratio < 0.5 || ratio > 2 {
			score -= 15
		}
	}

	for _, term := range camelCasePattern.FindAllString(original, -1) {
		if !strings.Contains(translated, term) {
			score -= 5
		}
	}

	if sctx != nil {
		lowerSrc := strings.ToLower(original)
		lowerTgt := strings.ToLower(translated)
		for srcTerm, tgtTerm := range sctx.Glossary {
			if srcTerm == "" || tgtTerm == "" {
				continue
			}
			if strings.Contains(lowerSrc, strings.ToLower(srcTerm)) && !strings.Contains(lowerTgt, strings.ToLower(tgtTerm)) {
				score -= 5
				findings.glossaryMisses = append(findings.glossaryMisses, srcTerm)
			}
		}
	}

	if s.memory != nil {
		if agreement, ok := s.memory.TargetAgreement(original, translated); ok {
			findings.memoryChecked = true
			findings.memoryAgreement = agreement
			switch {
			case agreement >= 80:
				score += 10
			case agreement < 50:
				score -= 20
			}
		}
	}

	return clampScore(score), findings
}

func (s *Scorer) emotionScore(original, translated string) int {
	srcEmotion, srcErr := s.emotions.Analyze(original)
	tgtEmotion, tgtErr := s.emotions.Analyze(translated)
	if srcErr != nil || tgtErr != nil {
		return 85
	}

	switch {
	case srcEmotion.Primary == tgtEmotion.Primary && srcEmotion.Intensity == tgtEmotion.Intensity:
		return 100
	case srcEmotion.Primary == tgtEmotion.Primary:
		return 90
	case srcEmotion.Primary == Neutral:
		return 85
	case emotionsRelated(srcEmotion.Primary, tgtEmotion.Primary):
		return 75
	default:
		return 50
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

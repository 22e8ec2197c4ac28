package confidence

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Issue codes, stable across releases so downstream tooling can key on them.
const (
	CodeEmptyTranslation     = "EMPTY_TRANSLATION"
	CodeMissingPlaceholder   = "MISSING_PLACEHOLDER"
	CodeNumberMismatch       = "NUMBER_MISMATCH"
	CodePunctuationMismatch  = "PUNCTUATION_MISMATCH"
	CodeLengthAnomaly        = "LENGTH_ANOMALY"
	CodeCaseMismatch         = "CASE_MISMATCH"
	CodeTagsLost             = "TAGS_LOST"
	CodeUnchangedTranslation = "UNCHANGED_TRANSLATION"
	CodeGlossaryViolation    = "GLOSSARY_VIOLATION"
	CodeMemoryInconsistent   = "MEMORY_INCONSISTENT"
	CodeEmotionShift         = "EMOTION_SHIFT"
	CodeLimitExceeded        = "LIMIT_EXCEEDED"
)

// Issue is one detected quality problem with a fixed remediation hint.
type Issue struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

var suggestions = map[string]string{
	CodeEmptyTranslation:     "Provide a translation; empty strings ship as blanks in game.",
	CodeMissingPlaceholder:   "Copy every placeholder token from the source verbatim into the translation.",
	CodeNumberMismatch:       "Carry every number from the source into the translation.",
	CodePunctuationMismatch:  "Match the source's terminal punctuation, including ! and ?.",
	CodeLengthAnomaly:        "Review for truncation or padding; the length is far from the source.",
	CodeCaseMismatch:         "Match the source's capitalization, especially for menu entries.",
	CodeTagsLost:             "Keep every markup tag from the source; lost tags break text rendering.",
	CodeUnchangedTranslation: "The translation is identical to the source; confirm it was actually translated.",
	CodeGlossaryViolation:    "Use the glossary's mandated term for this game.",
	CodeMemoryInconsistent:   "This conflicts with how near-identical strings were translated before.",
	CodeEmotionShift:         "The emotional tone changed; re-read the scene and adjust word choice.",
	CodeLimitExceeded:        "Shorten the translation to fit the UI's character limit.",
}

func newIssue(code, message string) Issue {
	return Issue{Code: code, Message: message, Suggestion: suggestions[code]}
}

// suggestionList deduplicates the issues' hints, preserving issue order.
func suggestionList(issues []Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(issues))
	list := make([]string, 0, len(issues))
	for _, issue := range issues {
		if issue.Suggestion == "" {
			continue
		}
		if _, ok := seen[issue.Suggestion]; ok {
			continue
		}
		seen[issue.Suggestion] = struct{}{}
		list = append(list, issue.Suggestion)
	}
	return list
}

// buildIssues converts metric outcomes into the deterministic issue list.
// Order is fixed: placeholder and markup problems first since they break
// games outright, style problems last.
func buildIssues(
	metrics Metrics,
	missingPlaceholders, missingNumbers, missingTags []string,
	findings consistencyFindings,
	translated string,
	sctx *Context,
) []Issue {
	var issues []Issue

	if metrics.PlaceholderMatch < 100 {
		issues = append(issues, newIssue(CodeMissingPlaceholder,
			fmt.Sprintf("placeholders missing from translation: %s", strings.Join(missingPlaceholders, ", "))))
	}
	if metrics.FormatPreservation < 100 {
		issues = append(issues, newIssue(CodeTagsLost,
			fmt.Sprintf("markup tags missing from translation: %s", strings.Join(missingTags, ", "))))
	}
	if metrics.NumberMatch < 100 {
		issues = append(issues, newIssue(CodeNumberMismatch,
			fmt.Sprintf("numbers missing from translation: %s", strings.Join(missingNumbers, ", "))))
	}
	if metrics.PunctuationMatch < 100 {
		issues = append(issues, newIssue(CodePunctuationMismatch, "terminal punctuation differs from the source"))
	}
	if metrics.LengthRatio <= 50 {
		issues = append(issues, newIssue(CodeLengthAnomaly, "translation length is far outside the expected range"))
	}
	if metrics.CapitalizationMatch < 100 {
		issues = append(issues, newIssue(CodeCaseMismatch, "capitalization differs from the source"))
	}
	if findings.unchanged {
		issues = append(issues, newIssue(CodeUnchangedTranslation, "translation is identical to the source text"))
	}
	for _, term := range findings.glossaryMisses {
		issues = append(issues, newIssue(CodeGlossaryViolation,
			fmt.Sprintf("glossary term %q was not translated with its mandated equivalent", term)))
	}
	if findings.memoryChecked && findings.memoryAgreement < 50 {
		issues = append(issues, newIssue(CodeMemoryInconsistent,
			fmt.Sprintf("disagrees with remembered translations of near-identical strings (agreement %d%%)", findings.memoryAgreement)))
	}
	if metrics.EmotionMatch <= 50 {
		issues = append(issues, newIssue(CodeEmotionShift, "emotional tone shifted between source and translation"))
	}
	if sctx != nil && sctx.CharacterLimit > 0 {
		if length := utf8.RuneCountInString(translated); length > sctx.CharacterLimit {
			issues = append(issues, newIssue(CodeLimitExceeded,
				fmt.Sprintf("translation is %d characters, limit is %d", length, sctx.CharacterLimit)))
		}
	}

	return issues
}

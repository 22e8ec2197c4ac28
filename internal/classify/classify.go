// Package classify sorts game strings into content types so the
// orchestrator can order work and pick sensible defaults. Classification is
// heuristic and local: string shape, casing, punctuation and length, plus
// language detection to down-prioritize strings already in the target
// language.
package classify

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"loclab.gg/stringsmith/internal/langdetect"
)

// ContentType is the kind of game text a string holds.
type ContentType string

const (
	TypeDialogue ContentType = "dialogue"
	TypeUI       ContentType = "ui"
	TypeMenu     ContentType = "menu"
	TypeItem     ContentType = "item"
	TypeSystem   ContentType = "system"
	TypeLore     ContentType = "lore"
)

// Priority orders translation work.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Classification is the outcome for one string.
type Classification struct {
	Type     ContentType `json:"type"`
	Priority Priority    `json:"priority"`
}

// Hints carries optional batch-level context.
type Hints struct {
	// TargetLanguage enables the already-translated check: strings detected
	// as already being in the target language drop to low priority.
	TargetLanguage string
}

// Classifier assigns a content type and priority to each text, positionally.
type Classifier interface {
	ClassifyBatch(ctx context.Context, texts []string, hints Hints) ([]Classification, error)
}

var (
	placeholderPattern = regexp.MustCompile(`\{\{[^{}]*\}\}|\$\{[^{}]*\}|#\{[^{}]*\}|\{[^{}]*\}|\[\[[^\[\]]*\]\]|</?[a-zA-Z][^<>]*/?>|%[0-9.]*[a-zA-Z@]`)
	itemNamePattern    = regexp.MustCompile(`^[A-Z][a-z]+( (of|the|[A-Z][a-z]+))* ?(\+\d+|[IVX]+)?$`)
)

// Heuristic is the default Classifier.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) ClassifyBatch(ctx context.Context, texts []string, hints Hints) ([]Classification, error) {
	results := make([]Classification, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		results[i] = classifyOne(text)
		if results[i].Priority != PriorityLow && hints.TargetLanguage != "" &&
			langdetect.Matches(text, hints.TargetLanguage) {
			// Already in the target language: translating is a no-op.
			results[i].Priority = PriorityLow
		}
	}
	return results, nil
}

func classifyOne(text string) Classification {
	trimmed := strings.TrimSpace(text)
	length := utf8.RuneCountInString(trimmed)

	switch {
	case trimmed == "", isNonLinguistic(trimmed):
		return Classification{Type: TypeSystem, Priority: PriorityLow}
	case isAllCapsShort(trimmed, length):
		return Classification{Type: TypeMenu, Priority: PriorityHigh}
	case length >= 200 && hasSentencePunctuation(trimmed):
		return Classification{Type: TypeLore, Priority: PriorityMedium}
	case length >= 40 && hasSentencePunctuation(trimmed):
		return Classification{Type: TypeDialogue, Priority: PriorityHigh}
	case strings.Contains(trimmed, " ") && itemNamePattern.MatchString(trimmed):
		return Classification{Type: TypeItem, Priority: PriorityMedium}
	default:
		return Classification{Type: TypeUI, Priority: PriorityMedium}
	}
}

// isNonLinguistic reports placeholder-only, numeric-only and symbol-only
// strings: nothing in them needs a translator.
func isNonLinguistic(text string) bool {
	stripped := placeholderPattern.ReplaceAllString(text, "")
	for _, r := range stripped {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isAllCapsShort(text string, length int) bool {
	if length > 24 {
		return false
	}
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

func hasSentencePunctuation(text string) bool {
	return strings.ContainsAny(text, ".!?…。！？")
}

package language

import (
	"fmt"
	"strings"
)

// NormalizeTag normalizes a language tag to lowercase and "-" separators.
// Returns an empty string when the value is blank or contains invalid characters.
func NormalizeTag(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}

	trimmed = strings.ReplaceAll(trimmed, "_", "-")
	parts := strings.Split(trimmed, "-")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !isAlphaLower(part) {
			return ""
		}
		normalized = append(normalized, part)
	}

	if len(normalized) == 0 {
		return ""
	}
	return strings.Join(normalized, "-")
}

// NormalizeCode returns the primary language subtag (for example, "en" from "en-US").
func NormalizeCode(raw string) string {
	tag := NormalizeTag(raw)
	if tag == "" {
		return ""
	}
	if dash := strings.IndexByte(tag, '-'); dash >= 0 {
		return tag[:dash]
	}
	return tag
}

// Pair is a normalized (source, target) language pair. Memories, snapshots
// and database rows are keyed by it.
type Pair struct {
	Source string
	Target string
}

// NewPair normalizes both tags and rejects blank or identical pairs.
func NewPair(source, target string) (Pair, error) {
	src := NormalizeTag(source)
	tgt := NormalizeTag(target)
	if src == "" {
		return Pair{}, fmt.Errorf("invalid source language %q", source)
	}
	if tgt == "" {
		return Pair{}, fmt.Errorf("invalid target language %q", target)
	}
	if src == tgt {
		return Pair{}, fmt.Errorf("source and target language are both %q", src)
	}
	return Pair{Source: src, Target: tgt}, nil
}

// Key returns the stable identifier used for snapshot files and index keys,
// for example "en_it".
func (p Pair) Key() string {
	return p.Source + "_" + p.Target
}

func (p Pair) String() string {
	return p.Source + "->" + p.Target
}

func isAlphaLower(value string) bool {
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

package language

import "testing"

func TestNormalizeTag(t *testing.T) {
	t.Parallel()

	if got := NormalizeTag(" EN_us "); got != "en-us" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("zh-Hans"); got != "zh-hans" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("en--US"); got != "en-us" {
		t.Fatalf("unexpected collapsed tag: %q", got)
	}
	if got := NormalizeTag("en_123"); got != "" {
		t.Fatalf("expected invalid tag to normalize to empty string, got %q", got)
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	if got := NormalizeCode(" EN-us "); got != "en" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if got := NormalizeCode("zh"); got != "zh" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if got := NormalizeCode(" "); got != "" {
		t.Fatalf("expected empty code for blank input, got %q", got)
	}
}

func TestNewPair(t *testing.T) {
	t.Parallel()

	pair, err := NewPair(" EN ", "it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.Source != "en" || pair.Target != "it" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if got := pair.Key(); got != "en_it" {
		t.Fatalf("unexpected pair key: %q", got)
	}

	if _, err := NewPair("", "it"); err == nil {
		t.Fatal("expected error for blank source")
	}
	if _, err := NewPair("en", "EN"); err == nil {
		t.Fatal("expected error for identical languages")
	}
}

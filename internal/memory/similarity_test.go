package memory

import "testing"

func TestSimilaritySelfAndEmpty(t *testing.T) {
	t.Parallel()

	if got := Similarity("Start Game", "Start Game"); got != 100 {
		t.Fatalf("expected identical strings to score 100, got %d", got)
	}
	if got := Similarity("", ""); got != 100 {
		t.Fatalf("expected two empty strings to score 100, got %d", got)
	}
	if got := Similarity("options", ""); got != 0 {
		t.Fatalf("expected empty comparison to score 0, got %d", got)
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"kitten", "sitting"},
		{"start game", "start gane"},
		{"Save", "Load"},
		{"continue", "continua"},
		{"a", "abcdefgh"},
	}
	for _, pair := range pairs {
		ab := Similarity(pair[0], pair[1])
		ba := Similarity(pair[1], pair[0])
		if ab != ba {
			t.Fatalf("similarity not symmetric for %q/%q: %d vs %d", pair[0], pair[1], ab, ba)
		}
		if ab < 0 || ab > 100 {
			t.Fatalf("similarity out of bounds for %q/%q: %d", pair[0], pair[1], ab)
		}
	}
}

func TestSimilarityKnownDistances(t *testing.T) {
	t.Parallel()

	// kitten->sitting needs 3 edits over max length 7.
	if got := Similarity("kitten", "sitting"); got != 57 {
		t.Fatalf("expected 57 for kitten/sitting, got %d", got)
	}
	// One substitution over length 10.
	if got := Similarity("start game", "start gane"); got != 90 {
		t.Fatalf("expected 90 for single substitution, got %d", got)
	}
}

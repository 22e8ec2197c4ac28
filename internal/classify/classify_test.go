package classify

import (
	"context"
	"testing"
)

func TestClassifyBatch_Types(t *testing.T) {
	t.Parallel()

	texts := []string{
		"{player_hp}/{player_max_hp}",
		"42",
		"NEW GAME",
		"I have been waiting for you, traveler. The roads are dangerous at night.",
		"Sword of the Fallen King",
		"Attack",
	}

	results, err := NewHeuristic().ClassifyBatch(context.Background(), texts, Hints{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(results) != len(texts) {
		t.Fatalf("unexpected result count: got %d want %d", len(results), len(texts))
	}

	want := []Classification{
		{Type: TypeSystem, Priority: PriorityLow},
		{Type: TypeSystem, Priority: PriorityLow},
		{Type: TypeMenu, Priority: PriorityHigh},
		{Type: TypeDialogue, Priority: PriorityHigh},
		{Type: TypeItem, Priority: PriorityMedium},
		{Type: TypeUI, Priority: PriorityMedium},
	}
	for i, got := range results {
		if got != want[i] {
			t.Fatalf("text %q: got %+v want %+v", texts[i], got, want[i])
		}
	}
}

func TestClassifyBatch_LongProseIsLore(t *testing.T) {
	t.Parallel()

	lore := "In the first age, before the sundering of the world, the elder kings raised " +
		"seven towers upon the cliffs of Morn. Each tower held a flame that never died, " +
		"and the people believed that as long as the flames burned, no shadow could cross the sea."

	results, err := NewHeuristic().ClassifyBatch(context.Background(), []string{lore}, Hints{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if results[0].Type != TypeLore || results[0].Priority != PriorityMedium {
		t.Fatalf("unexpected classification: %+v", results[0])
	}
}

func TestClassifyBatch_AlreadyTargetLanguageIsLowPriority(t *testing.T) {
	t.Parallel()

	// Unmistakably Italian prose, long enough for reliable detection.
	text := "Questa è una lunga frase scritta interamente in lingua italiana per essere riconosciuta."

	results, err := NewHeuristic().ClassifyBatch(context.Background(), []string{text}, Hints{TargetLanguage: "it"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if results[0].Priority != PriorityLow {
		t.Fatalf("expected low priority for already-translated text, got %+v", results[0])
	}

	// Without the hint the same text keeps its shape-based priority.
	results, err = NewHeuristic().ClassifyBatch(context.Background(), []string{text}, Hints{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if results[0].Priority == PriorityLow {
		t.Fatalf("hint-free classification should not be low: %+v", results[0])
	}
}

func TestClassifyBatch_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHeuristic().ClassifyBatch(ctx, []string{"a", "b"}, Hints{})
	if err == nil {
		t.Fatal("expected context error")
	}
}

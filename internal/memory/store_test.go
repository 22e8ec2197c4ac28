package memory

import (
	"context"
	"errors"
	"testing"

	"loclab.gg/stringsmith/internal/language"
)

func testPair(t *testing.T) language.Pair {
	t.Helper()
	pair, err := language.NewPair("en", "it")
	if err != nil {
		t.Fatalf("build pair: %v", err)
	}
	return pair
}

func TestFindExactNormalizesLookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "Start  Game", "Avvia Gioco", AddOptions{Provider: "deepl", Confidence: 0.8}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for _, query := range []string{"start game", " START GAME ", "Start\tGame"} {
		unit := store.FindExact(query)
		if unit == nil {
			t.Fatalf("expected exact match for %q", query)
		}
		if unit.TargetText != "Avvia Gioco" {
			t.Fatalf("unexpected target for %q: %q", query, unit.TargetText)
		}
	}

	if unit := store.FindExact("Start Games"); unit != nil {
		t.Fatalf("expected no exact match, got %+v", unit)
	}
}

func TestFindExactNormalizesPunctuation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "It’s over — go home", "È finita, vai a casa", AddOptions{Confidence: 0.7}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if unit := store.FindExact("It's over - go home"); unit == nil {
		t.Fatal("expected quote/dash-normalized lookup to hit")
	}
}

func TestAddUpsertKeepsMaxConfidence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store := Open(ctx, testPair(t))
	if _, err := store.Add(ctx, "Options", "Opzioni", AddOptions{Confidence: 0.5}); err != nil {
		t.Fatalf("add: %v", err)
	}
	unit, err := store.Add(ctx, "Options", "Opzioni", AddOptions{Confidence: 0.9})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if unit.Confidence != 0.9 {
		t.Fatalf("expected confidence raised to 0.9, got %v", unit.Confidence)
	}

	reversed := Open(ctx, testPair(t))
	if _, err := reversed.Add(ctx, "Options", "Opzioni", AddOptions{Confidence: 0.9}); err != nil {
		t.Fatalf("add: %v", err)
	}
	unit, err = reversed.Add(ctx, "Options", "Opzioni", AddOptions{Confidence: 0.5})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if unit.Confidence != 0.9 {
		t.Fatalf("expected confidence to stay at 0.9, got %v", unit.Confidence)
	}
	if store.Len() != 1 || reversed.Len() != 1 {
		t.Fatalf("expected upserts to keep a single unit, got %d and %d", store.Len(), reversed.Len())
	}
}

func TestAddUpsertVerificationIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "Continue", "Continua", AddOptions{Verified: true, Confidence: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	unit, err := store.Add(ctx, "Continue", "Prosegui", AddOptions{Confidence: 0.4})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !unit.Verified {
		t.Fatal("expected verification to survive an unverified upsert")
	}
	if unit.TargetText != "Prosegui" {
		t.Fatalf("expected target text to take the latest write, got %q", unit.TargetText)
	}
	if unit.Confidence != 1 {
		t.Fatalf("expected confidence to stay at 1, got %v", unit.Confidence)
	}
}

func TestAddRejectsEmptyText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "   ", "x", AddOptions{}); err == nil {
		t.Fatal("expected error for blank source")
	}
	if _, err := store.Add(ctx, "x", " \t", AddOptions{}); err == nil {
		t.Fatal("expected error for blank target")
	}
}

func TestAddBatchSkipsExistingSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "Start Game", "Avvia Gioco", AddOptions{Provider: "deepl", Confidence: 0.9}); err != nil {
		t.Fatalf("add: %v", err)
	}

	added := store.AddBatch(ctx, []Entry{
		{Source: "start game", Target: "OVERWRITE"},
		{Source: "Options", Target: "Opzioni"},
		{Source: "  ", Target: "blank"},
	}, "google", 0.7)

	if added != 1 {
		t.Fatalf("expected 1 inserted, got %d", added)
	}
	if unit := store.FindExact("Start Game"); unit.TargetText != "Avvia Gioco" {
		t.Fatalf("bulk insert must not overwrite, got %q", unit.TargetText)
	}
	if unit := store.FindExact("Options"); unit == nil || unit.Provider != "google" {
		t.Fatalf("expected new unit from batch, got %+v", unit)
	}
}

func TestIncrementUsageIsBatched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	unit, err := store.Add(ctx, "Start Game", "Avvia Gioco", AddOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.IncrementUsage(unit.ID); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.IncrementUsage("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got := store.FindExact("Start Game")
	if got.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", got.UsageCount)
	}
	if !store.dirty {
		t.Fatal("expected store to be marked dirty until the next save")
	}

	if err := store.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.dirty {
		t.Fatal("expected save to clear the dirty flag")
	}
}

func TestVerifyForcesFullConfidence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	unit, err := store.Add(ctx, "Quit", "Esci", AddOptions{Confidence: 0.4})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	verified, err := store.Verify(ctx, unit.ID, "Abbandona")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.Verified || verified.Confidence != 1.0 {
		t.Fatalf("expected verified unit at confidence 1.0, got %+v", verified)
	}
	if verified.TargetText != "Abbandona" {
		t.Fatalf("expected corrected target, got %q", verified.TargetText)
	}

	if _, err := store.Verify(ctx, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveKeepsIndexConsistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	unit, err := store.Add(ctx, "Inventory", "Inventario", AddOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Remove(ctx, unit.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := store.FindExact("Inventory"); got != nil {
		t.Fatalf("expected index entry gone after remove, got %+v", got)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d units", store.Len())
	}
	if err := store.Remove(ctx, unit.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double remove, got %v", err)
	}
}

func TestSearchRanksAndTruncates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	seed := []struct {
		source   string
		target   string
		verified bool
	}{
		{"Start Game", "Avvia Gioco", false},
		{"Start Gane", "Avvia Partita", true},
		{"Start Games", "Avvia Giochi", false},
		{"Completely Different", "Tutt'altro", false},
	}
	for _, unit := range seed {
		if _, err := store.Add(ctx, unit.source, unit.target, AddOptions{Verified: unit.verified, Confidence: 0.8}); err != nil {
			t.Fatalf("seed %q: %v", unit.source, err)
		}
	}

	matches := store.Search("Start Game", DefaultSearchParams())
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches above the threshold, got %d", len(matches))
	}
	if !matches[0].Unit.Verified {
		t.Fatalf("expected the verified unit first, got %+v", matches[0].Unit)
	}

	params := DefaultSearchParams()
	params.PreferVerified = false
	matches = store.Search("Start Game", params)
	if matches[0].Similarity != 100 || matches[0].Unit.SourceText != "Start Game" {
		t.Fatalf("expected the exact hit first by similarity, got %+v", matches[0])
	}

	params.MaxResults = 1
	if matches = store.Search("Start Game", params); len(matches) != 1 {
		t.Fatalf("expected truncation to 1 result, got %d", len(matches))
	}

	params = DefaultSearchParams()
	params.MinSimilarity = 95
	matches = store.Search("Start Game", params)
	if len(matches) != 1 || matches[0].Similarity != 100 {
		t.Fatalf("expected threshold 95 to keep only the exact hit, got %+v", matches)
	}
}

func TestSearchContextFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "Attack", "Attacco", AddOptions{Context: "combat"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.Add(ctx, "Attak", "Attacca", AddOptions{Context: "menu"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	params := DefaultSearchParams()
	params.ContextFilter = "combat"
	matches := store.Search("Attack", params)
	if len(matches) != 1 || matches[0].Unit.Context != "combat" {
		t.Fatalf("expected only the combat unit, got %+v", matches)
	}
}

func TestTargetAgreement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := Open(ctx, testPair(t))

	if _, err := store.Add(ctx, "Start Game", "Avvia Gioco", AddOptions{Confidence: 0.9}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A near-identical source with an agreeing target.
	sim, ok := store.TargetAgreement("Start Gane", "Avvia Gioco")
	if !ok {
		t.Fatal("expected a qualifying neighbor")
	}
	if sim != 100 {
		t.Fatalf("expected full target agreement, got %d", sim)
	}

	// The unit's own source must not count as its own neighbor.
	if _, ok := store.TargetAgreement("Start Game", "Qualcosa"); ok {
		t.Fatal("expected no neighbor when only the same source exists")
	}

	if _, ok := store.TargetAgreement("Loading", "Caricamento"); ok {
		t.Fatal("expected no neighbor for unrelated text")
	}
}

package tmx

import (
	"context"
	"strings"
	"testing"

	"loclab.gg/stringsmith/internal/language"
	"loclab.gg/stringsmith/internal/memory"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	pair, err := language.NewPair("en", "it")
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	return memory.Open(context.Background(), pair)
}

func TestExport_EmitsUnitsWithProvenance(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()
	if _, err := store.Add(ctx, "New Game", "Nuova Partita", memory.AddOptions{
		Provider:   "deepl",
		Confidence: 0.92,
		Context:    "main menu",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.Add(ctx, "Attack & Defend", "Attacca & Difendi", memory.AddOptions{
		Provider:   "google",
		Confidence: 0.8,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	data, err := Export(store)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		`<tmx version="1.4">`,
		`srclang="en"`,
		`<!DOCTYPE tmx SYSTEM "tmx14.dtd">`,
		`xml:lang="en"`,
		`xml:lang="it"`,
		`<seg>Nuova Partita</seg>`,
		`<prop type="context">main menu</prop>`,
		`<prop type="provider">deepl</prop>`,
		`<prop type="confidence">0.92</prop>`,
		`<prop type="verified">false</prop>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q in:\n%s", want, out)
		}
	}

	// Markup characters in segment text must be escaped.
	if !strings.Contains(out, "Attack &amp; Defend") {
		t.Fatalf("ampersand not escaped:\n%s", out)
	}
}

func TestImport_AddsVerifiedPairsAndSkipsDuplicates(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()
	if _, err := store.Add(ctx, "Options", "Opzioni", memory.AddOptions{Provider: "deepl", Confidence: 0.7}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE tmx SYSTEM "tmx14.dtd">
<tmx version="1.4">
  <header creationtool="other-tool" creationtoolversion="2" datatype="plaintext"
    segtype="sentence" adminlang="en" srclang="en" o-tmf="other"></header>
  <body>
    <tu tuid="a">
      <tuv xml:lang="en"><seg>Options</seg></tuv>
      <tuv xml:lang="it"><seg>Impostazioni</seg></tuv>
    </tu>
    <tu tuid="b">
      <tuv xml:lang="it"><seg>Esci</seg></tuv>
      <tuv xml:lang="en"><seg>Quit</seg></tuv>
    </tu>
    <tu tuid="c">
      <tuv xml:lang="en"><seg>  </seg></tuv>
      <tuv xml:lang="it"><seg>vuoto</seg></tuv>
    </tu>
  </body>
</tmx>`

	added, err := Import(ctx, store, []byte(doc), "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if added != 1 {
		t.Fatalf("unexpected added count: got %d want 1", added)
	}

	// The duplicate keeps its original target and provider.
	existing := store.FindExact("Options")
	if existing == nil || existing.TargetText != "Opzioni" || existing.Provider != "deepl" {
		t.Fatalf("duplicate was overwritten: %+v", existing)
	}

	// Reversed variant order still lands source side up, verified, 0.9.
	imported := store.FindExact("Quit")
	if imported == nil {
		t.Fatalf("imported unit not found")
	}
	if imported.TargetText != "Esci" || !imported.Verified || imported.Confidence != 0.9 {
		t.Fatalf("unexpected imported unit: %+v", imported)
	}
	if imported.Provider != ImportProvider {
		t.Fatalf("unexpected provider: %q", imported.Provider)
	}
}

func TestImport_RejectsMalformedXML(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if _, err := Import(context.Background(), store, []byte("<tmx><body>"), ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := newStore(t)
	pairs := map[string]string{
		"New Game":        "Nuova Partita",
		"Load Game":       "Carica Partita",
		"{count} arrows":  "{count} frecce",
		"A \"quoted\" <b>": "Una \"citazione\" <b>",
	}
	for src, tgt := range pairs {
		if _, err := source.Add(ctx, src, tgt, memory.AddOptions{Provider: "deepl", Confidence: 0.9}); err != nil {
			t.Fatalf("add %q: %v", src, err)
		}
	}

	data, err := Export(source)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dest := newStore(t)
	added, err := Import(ctx, dest, data, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if added != len(pairs) {
		t.Fatalf("unexpected added count: got %d want %d", added, len(pairs))
	}
	for src, tgt := range pairs {
		unit := dest.FindExact(src)
		if unit == nil {
			t.Fatalf("round trip lost %q", src)
		}
		if unit.TargetText != tgt {
			t.Fatalf("round trip garbled %q: got %q want %q", src, unit.TargetText, tgt)
		}
	}
}

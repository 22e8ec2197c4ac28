// Package tmx reads and writes Translation Memory eXchange 1.4 documents,
// the interchange format CAT tools expect. Export captures the whole store
// including usage metadata; Import only ever adds pairs, never overwrites.
package tmx

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"loclab.gg/stringsmith/internal/language"
	"loclab.gg/stringsmith/internal/memory"
)

// ImportProvider labels units that arrived through a TMX file.
const ImportProvider = "tmx_import"

// tmxDate is the ISO 8601 basic format TMX mandates for date attributes.
const tmxDate = "20060102T150405Z"

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

type document struct {
	XMLName xml.Name `xml:"tmx"`
	Version string   `xml:"version,attr"`
	Header  header   `xml:"header"`
	Body    body     `xml:"body"`
}

type header struct {
	CreationTool        string `xml:"creationtool,attr"`
	CreationToolVersion string `xml:"creationtoolversion,attr"`
	DataType            string `xml:"datatype,attr"`
	SegType             string `xml:"segtype,attr"`
	AdminLang           string `xml:"adminlang,attr"`
	SrcLang             string `xml:"srclang,attr"`
	OTMF                string `xml:"o-tmf,attr"`
}

type body struct {
	Units []unit `xml:"tu"`
}

type unit struct {
	TUID         string    `xml:"tuid,attr,omitempty"`
	CreationDate string    `xml:"creationdate,attr,omitempty"`
	ChangeDate   string    `xml:"changedate,attr,omitempty"`
	UsageCount   string    `xml:"usagecount,attr,omitempty"`
	Props        []prop    `xml:"prop,omitempty"`
	Variants     []variant `xml:"tuv"`
}

type prop struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type variant struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Seg  string `xml:"seg"`
}

// Export renders the store as a TMX 1.4 document. Unit order follows the
// store; context, provider, confidence and verification travel as <prop>
// elements so a re-import into another tool keeps the provenance.
func Export(store *memory.Store) ([]byte, error) {
	if store == nil {
		return nil, fmt.Errorf("export tmx: nil store")
	}
	pair := store.Pair()

	doc := document{
		Version: "1.4",
		Header: header{
			CreationTool:        "stringsmith",
			CreationToolVersion: "1.0",
			DataType:            "plaintext",
			SegType:             "sentence",
			AdminLang:           "en",
			SrcLang:             pair.Source,
			OTMF:                "stringsmith TM",
		},
	}

	for _, u := range store.Units() {
		tu := unit{
			TUID:         u.ID,
			CreationDate: u.CreatedAt.UTC().Format(tmxDate),
			ChangeDate:   u.UpdatedAt.UTC().Format(tmxDate),
			Variants: []variant{
				{Lang: pair.Source, Seg: u.SourceText},
				{Lang: pair.Target, Seg: u.TargetText},
			},
		}
		if u.UsageCount > 0 {
			tu.UsageCount = strconv.Itoa(u.UsageCount)
		}
		if u.Context != "" {
			tu.Props = append(tu.Props, prop{Type: "context", Value: u.Context})
		}
		if u.Provider != "" {
			tu.Props = append(tu.Props, prop{Type: "provider", Value: u.Provider})
		}
		tu.Props = append(tu.Props,
			prop{Type: "confidence", Value: strconv.FormatFloat(u.Confidence, 'f', -1, 64)},
			prop{Type: "verified", Value: strconv.FormatBool(u.Verified)},
		)
		doc.Body.Units = append(doc.Body.Units, tu)
	}

	payload, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export tmx: %w", err)
	}

	var out strings.Builder
	out.WriteString(xml.Header)
	out.WriteString("<!DOCTYPE tmx SYSTEM \"tmx14.dtd\">\n")
	out.Write(payload)
	out.WriteString("\n")
	return []byte(out.String()), nil
}

// Import parses a TMX document and adds every pair whose source text is not
// already in the store. Human-maintained TMX files are assumed reviewed, so
// imported units arrive verified with confidence 0.9. Returns the number of
// units actually added.
func Import(ctx context.Context, store *memory.Store, data []byte, provider string) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("import tmx: nil store")
	}
	if provider == "" {
		provider = ImportProvider
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("import tmx: %w", err)
	}

	pair := store.Pair()
	var entries []memory.Entry
	for _, tu := range doc.Body.Units {
		entry, ok := entryFromUnit(tu, pair)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	added := store.ImportEntries(ctx, entries, memory.AddOptions{
		Provider:   provider,
		Confidence: 0.9,
		Verified:   true,
	})
	if err := store.Save(ctx); err != nil {
		return added, fmt.Errorf("import tmx: save: %w", err)
	}
	return added, nil
}

// entryFromUnit picks the source and target variant out of a tu. A variant
// whose language matches the store's source wins; with no language match
// the first variant is taken as the source, the way most tools emit them.
func entryFromUnit(tu unit, pair language.Pair) (memory.Entry, bool) {
	if len(tu.Variants) < 2 {
		return memory.Entry{}, false
	}

	first, second := tu.Variants[0], tu.Variants[1]
	source, target := first.Seg, second.Seg
	switch {
	case matchesLang(first.Lang, pair.Source):
	case matchesLang(second.Lang, pair.Source), matchesLang(first.Lang, pair.Target):
		source, target = second.Seg, first.Seg
	}

	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)
	if source == "" || target == "" {
		return memory.Entry{}, false
	}
	return memory.Entry{Source: source, Target: target}, true
}

func matchesLang(tag, want string) bool {
	return language.NormalizeTag(tag) == want
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"loclab.gg/stringsmith/internal/cli"
	"loclab.gg/stringsmith/internal/memory"
	"loclab.gg/stringsmith/internal/memory/tmx"
)

func runMemory(args []string) int {
	fs := flag.NewFlagSet("memory", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Source language of the memory")
	target := fs.String("target", "", "Target language of the memory")
	stats := fs.Bool("stats", false, "Print memory statistics")
	exportFormat := fs.String("export", "", "Export the memory: tmx or json")
	importPath := fs.String("import", "", "Import a TMX file into the memory")
	search := fs.String("search", "", "Fuzzy-search stored source texts")
	minSimilarity := fs.Int("min", 0, "Minimum similarity for search results (default 70)")
	limit := fs.Int("limit", 0, "Maximum search results (default 5)")
	output := fs.String("output", "", "Export destination file (stdout when empty)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "memory does not accept positional arguments")
		return 2
	}

	pair, err := parseLanguagePair(*source, *target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	modes := 0
	for _, selected := range []bool{*stats, *exportFormat != "", *importPath != "", *search != ""} {
		if selected {
			modes++
		}
	}
	if modes > 1 {
		fmt.Fprintln(os.Stderr, "pick one of --stats, --export, --import or --search")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	stores := newStores(cfg, pool, zerolog.Nop())
	store, err := stores.Get(ctx, pair.Source, pair.Target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open translation memory: %v\n", err)
		return 1
	}

	switch {
	case *exportFormat != "":
		return runMemoryExport(store, *exportFormat, *output)
	case *importPath != "":
		return runMemoryImport(ctx, store, *importPath)
	case *search != "":
		return runMemorySearch(store, *search, *minSimilarity, *limit, outputFormat)
	default:
		return runMemoryStats(store, outputFormat)
	}
}

func runMemoryStats(store *memory.Store, outputFormat string) int {
	stats := store.Stats()

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"pair", store.Pair().String()},
		{"total_units", fmt.Sprintf("%d", stats.TotalUnits)},
		{"verified_units", fmt.Sprintf("%d", stats.VerifiedUnits)},
		{"total_usage_count", fmt.Sprintf("%d", stats.TotalUsageCount)},
		{"average_confidence", fmt.Sprintf("%.2f", stats.AverageConfidence)},
	}
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render stats table: %v\n", err)
		return 1
	}

	if len(stats.ByProvider) > 0 {
		fmt.Println()
		providerRows := make([][]string, 0, len(stats.ByProvider))
		for provider, count := range stats.ByProvider {
			providerRows = append(providerRows, []string{provider, fmt.Sprintf("%d", count)})
		}
		sort.Slice(providerRows, func(i, j int) bool { return providerRows[i][0] < providerRows[j][0] })
		if err := writeTable([]string{"provider", "units"}, providerRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render provider table: %v\n", err)
			return 1
		}
	}
	return 0
}

func runMemoryExport(store *memory.Store, format, output string) int {
	var payload []byte
	var err error

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "tmx":
		payload, err = tmx.Export(store)
	case "json":
		payload, err = json.MarshalIndent(store.Units(), "", "  ")
	default:
		fmt.Fprintln(os.Stderr, "--export must be tmx or json")
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to export memory: %v\n", err)
		return 1
	}

	if output == "" || output == "-" {
		if _, err := os.Stdout.Write(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write export: %v\n", err)
			return 1
		}
		return 0
	}
	if err := os.WriteFile(output, payload, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write export: %v\n", err)
		return 1
	}
	fmt.Printf("memory export pair=%s format=%s units=%d file=%s\n",
		store.Pair().Key(), strings.ToLower(strings.TrimSpace(format)), store.Stats().TotalUnits, output)
	return 0
}

func runMemoryImport(ctx context.Context, store *memory.Store, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read TMX file: %v\n", err)
		return 1
	}

	added, err := tmx.Import(ctx, store, data, tmx.ImportProvider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to import TMX: %v\n", err)
		return 1
	}

	fmt.Printf("memory import pair=%s file=%s added=%d total=%d\n",
		store.Pair().Key(), path, added, store.Stats().TotalUnits)
	return 0
}

func runMemorySearch(store *memory.Store, query string, minSimilarity, limit int, outputFormat string) int {
	params := memory.DefaultSearchParams()
	if minSimilarity > 0 {
		params.MinSimilarity = minSimilarity
	}
	if limit > 0 {
		params.MaxResults = limit
	}

	matches := store.Search(query, params)

	if outputFormat == outputFormatJSON {
		if err := printJSON(matches); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if len(matches) == 0 {
		fmt.Println("no matches")
		return 0
	}

	rows := make([][]string, 0, len(matches))
	for _, match := range matches {
		verified := ""
		if match.Unit.Verified {
			verified = "yes"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", match.Similarity),
			truncateForTable(match.Unit.SourceText, 48),
			truncateForTable(match.Unit.TargetText, 48),
			match.Unit.Provider,
			verified,
		})
	}
	if err := writeTable([]string{"similarity", "source", "target", "provider", "verified"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render search table: %v\n", err)
		return 1
	}
	return 0
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loclab.gg/stringsmith/internal/batch"
	"loclab.gg/stringsmith/internal/cli"
	"loclab.gg/stringsmith/internal/confidence"
	"loclab.gg/stringsmith/internal/export"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/logging"
)

func runTranslate(args []string) int {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "", "Input file: JSON array of strings/items, or one string per line")
	source := fs.String("source", "", "Source language (BCP 47, for example: en, zh-TW)")
	target := fs.String("target", "", "Target language (BCP 47, for example: ja, pt-BR)")
	provider := fs.String("provider", "", "Translation provider (deepl, google, libretranslate, openai, mock)")
	output := fs.String("output", "", "Write translated items to this file (\"-\" for stdout)")
	format := fs.String("format", "json", "Output format: json, csv, tsv or xliff")
	name := fs.String("name", "", "Job name (defaults to the input file name)")
	jobContext := fs.String("context", "", "Game context passed to providers, for example: fantasy RPG")
	batchSize := fs.Int("batch-size", 0, "Strings per provider call (0 uses the configured default)")
	parallel := fs.Int("parallel", 0, "Concurrent provider calls (0 uses the configured default)")
	maxRetries := fs.Int("max-retries", 0, "Retries per failed chunk (0 uses the configured default, -1 disables retries)")
	qualityThreshold := fs.Int("quality-threshold", 0, "Flag items scoring below this (0 uses the default)")
	skipLowPriority := fs.Bool("skip-low-priority", false, "Skip strings classified as low priority")
	skipValidation := fs.Bool("skip-validation", false, "Skip the confidence scoring stage")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall job timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "translate does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return 2
	}

	pair, err := parseLanguagePair(*source, *target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	exportFormat, err := export.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	inputs, err := readInputs(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		return 1
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Input file contains no strings")
		return 1
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := connectPool(dbCtx, cfg)
	dbCancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "Interrupted, cancelling job...")
		cancel()
	}()

	stores := newStores(cfg, pool, logger)
	store, err := stores.Get(ctx, pair.Source, pair.Target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open translation memory: %v\n", err)
		return 1
	}

	registry := gateway.NewRegistryFromConfig(cfg, openKeySource(cfg))
	providerName := strings.TrimSpace(*provider)
	if providerName == "" {
		providerName = registry.DefaultProvider()
	}
	resolved, err := registry.Provider(providerName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	orchOpts := []batch.OrchestratorOption{
		batch.WithLogger(logger),
		batch.WithDefaults(batchDefaults(cfg)),
		batch.WithProviderResolver(registry.Provider),
		batch.WithObserver(printJobEvents),
	}
	if pool != nil {
		orchOpts = append(orchOpts, batch.WithPersistFunc(jobPersister(pool)))
	}
	orch := batch.New(store, resolved, orchOpts...)

	jobName := strings.TrimSpace(*name)
	if jobName == "" {
		jobName = *input
	}

	opts := batch.Options{
		BatchSize:        *batchSize,
		ParallelBatches:  *parallel,
		MaxRetries:       *maxRetries,
		QualityThreshold: *qualityThreshold,
		SkipLowPriority:  *skipLowPriority,
		SkipValidation:   *skipValidation,
		Provider:         providerName,
		Context:          strings.TrimSpace(*jobContext),
	}

	job, err := orch.CreateJobInputs(jobName, inputs, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create job: %v\n", err)
		return 1
	}

	if err := orch.Start(ctx, job.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Job failed: %v\n", err)
		return 1
	}

	final, err := orch.Job(job.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read job result: %v\n", err)
		return 1
	}

	printJobStats(final)

	if *output != "" {
		if err := writeJobExport(final, exportFormat, *output); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
			return 1
		}
	}

	if final.Status != batch.StatusCompleted {
		return 1
	}
	return 0
}

// fileItem mirrors the submission item shape so the same JSON files work
// against the CLI and the HTTP API.
type fileItem struct {
	Text           string `json:"text"`
	Key            string `json:"key,omitempty"`
	CharacterLimit int    `json:"character_limit,omitempty"`
}

type fileSubmission struct {
	Items []fileItem `json:"items"`
}

// readInputs loads job items from a file. JSON documents may be an array of
// strings, an array of {text, key, character_limit} objects, or an object
// with an "items" array; anything else is treated as plain text, one string
// per line.
func readInputs(path string) ([]batch.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\uFEFF'
	})
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return parseJSONInputs([]byte(trimmed))
	}
	return parseLineInputs(trimmed), nil
}

func parseJSONInputs(data []byte) ([]batch.Input, error) {
	var texts []string
	if err := json.Unmarshal(data, &texts); err == nil {
		inputs := make([]batch.Input, 0, len(texts))
		for _, text := range texts {
			inputs = append(inputs, batch.Input{Text: text})
		}
		return inputs, nil
	}

	var items []fileItem
	if err := json.Unmarshal(data, &items); err != nil {
		var submission fileSubmission
		if err := json.Unmarshal(data, &submission); err != nil {
			return nil, fmt.Errorf("JSON input must be an array of strings, an array of items, or {\"items\": [...]}")
		}
		items = submission.Items
	}

	inputs := make([]batch.Input, 0, len(items))
	for _, item := range items {
		input := batch.Input{Text: item.Text}
		if item.Key != "" || item.CharacterLimit > 0 {
			input.Metadata = make(map[string]string, 2)
			if item.Key != "" {
				input.Metadata["key"] = item.Key
			}
			if item.CharacterLimit > 0 {
				input.Metadata["character_limit"] = fmt.Sprintf("%d", item.CharacterLimit)
			}
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func parseLineInputs(text string) []batch.Input {
	lines := strings.Split(text, "\n")
	inputs := make([]batch.Input, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		inputs = append(inputs, batch.Input{Text: line})
	}
	return inputs
}

// printJobEvents narrates status transitions and failures on stderr while
// the run loop owns stdout for the final stats.
func printJobEvents(event batch.Event) {
	switch e := event.(type) {
	case batch.StatusEvent:
		fmt.Fprintf(os.Stderr, "Job %s: %s\n", e.JobID[:8], e.To)
	case batch.ItemEvent:
		if e.Item.Status == batch.ItemFailed {
			fmt.Fprintf(os.Stderr, "  item %d failed: %s\n", e.Item.Index, e.Item.Error)
		}
	}
}

func printJobStats(job batch.Job) {
	var duration time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration = job.CompletedAt.Sub(*job.StartedAt)
	}

	fmt.Printf(
		"translate job=%s pair=%s->%s provider=%s status=%s total=%d translated=%d from_memory=%d failed=%d skipped=%d avg_quality=%d tokens=%d duration=%s\n",
		job.ID,
		job.SourceLanguage,
		job.TargetLanguage,
		job.Provider,
		job.Status,
		len(job.Items),
		job.Results.Translated,
		job.Results.FromMemory,
		job.Results.Failed,
		job.Results.Skipped,
		job.Results.AverageQualityScore,
		job.Results.TokensUsed,
		formatDurationSeconds(duration),
	)

	levels := map[confidence.Level]int{}
	unscored := 0
	for _, item := range job.Items {
		if item.Status != batch.ItemCompleted {
			continue
		}
		if item.Quality == nil {
			unscored++
			continue
		}
		levels[item.Quality.Level]++
	}
	fmt.Printf(
		"quality perfect=%d high=%d medium=%d low=%d critical=%d unscored=%d\n",
		levels[confidence.LevelPerfect],
		levels[confidence.LevelHigh],
		levels[confidence.LevelMedium],
		levels[confidence.LevelLow],
		levels[confidence.LevelCritical],
		unscored,
	)
}

func writeJobExport(job batch.Job, format export.Format, path string) error {
	payload, err := export.Render(job, format)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(payload)
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

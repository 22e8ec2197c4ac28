package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"loclab.gg/stringsmith/internal/batch"
	"loclab.gg/stringsmith/internal/cli"
	"loclab.gg/stringsmith/internal/config"
	"loclab.gg/stringsmith/internal/db"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/keyring"
	"loclab.gg/stringsmith/internal/language"
	"loclab.gg/stringsmith/internal/memory"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func truncateForTable(value string, maxLen int) string {
	trimmed := strings.TrimSpace(value)
	if maxLen <= 0 {
		return trimmed
	}
	if utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}

	runes := []rune(trimmed)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// connectPool opens the job/memory database when DATABASE_URL is set. A nil
// pool means the service runs on local snapshots only.
func connectPool(ctx context.Context, cfg *config.Config) (*db.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// newStores assembles the memory registry: database persistence when a pool
// is available, snapshot files in SnapshotDir as the fallback tier.
func newStores(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) *memory.Stores {
	opts := []memory.Option{
		memory.WithSnapshotFallback(memory.NewSnapshots(cfg.SnapshotDir)),
		memory.WithLogger(logger),
	}
	if pool != nil {
		opts = append(opts, memory.WithPersister(pool.Memories()))
	}
	return memory.NewStores(opts...)
}

// openKeySource returns the encrypted keyring when a passphrase is
// configured, or a nil source so environment keys alone apply.
func openKeySource(cfg *config.Config) gateway.KeySource {
	if strings.TrimSpace(cfg.KeyringPassphrase) == "" {
		return nil
	}
	ring, err := keyring.Open(cfg.SnapshotDir, cfg.KeyringPassphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: keyring unavailable: %v\n", err)
		return nil
	}
	return ring
}

func batchDefaults(cfg *config.Config) batch.Options {
	return batch.Options{
		BatchSize:           cfg.BatchSize,
		ParallelBatches:     cfg.ParallelBatches,
		MaxRetries:          cfg.MaxRetries,
		TimeoutPerItem:      cfg.TimeoutPerItem,
		DelayBetweenBatches: cfg.DelayBetweenBatches,
	}
}

// jobPersister adapts the pool's job history upsert to the orchestrator's
// persistence hook.
func jobPersister(pool *db.Pool) batch.PersistFunc {
	return func(ctx context.Context, job batch.Job) error {
		results, err := json.Marshal(job.Results)
		if err != nil {
			return fmt.Errorf("marshal job results: %w", err)
		}

		var errorMessage *string
		if message := strings.TrimSpace(job.Error); message != "" {
			errorMessage = &message
		}

		return pool.UpsertJob(ctx, db.UpsertJobParams{
			JobUUID:      job.ID,
			Name:         job.Name,
			SourceLang:   job.SourceLanguage,
			TargetLang:   job.TargetLanguage,
			Provider:     job.Provider,
			Status:       string(job.Status),
			TotalItems:   len(job.Items),
			Results:      results,
			ErrorMessage: errorMessage,
			CreatedAt:    job.CreatedAt,
			StartedAt:    job.StartedAt,
			CompletedAt:  job.CompletedAt,
		})
	}
}

func parseLanguagePair(sourceRaw, targetRaw string) (language.Pair, error) {
	pair, err := language.NewPair(sourceRaw, targetRaw)
	if err != nil {
		return language.Pair{}, fmt.Errorf("invalid language pair: %w", err)
	}
	return pair, nil
}

func formatDurationSeconds(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}

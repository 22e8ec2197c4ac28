package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPAddr        string        `envconfig:"STRINGSMITH_HTTP_ADDR" default:":8380"`
	ShutdownTimeout time.Duration `envconfig:"STRINGSMITH_SHUTDOWN_TIMEOUT" default:"10s"`

	// DatabaseURL is optional: when empty the service persists memories
	// through local snapshots only.
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"STRINGSMITH_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"STRINGSMITH_DB_MAX_CONNS" default:"8"`

	SnapshotDir string `envconfig:"STRINGSMITH_SNAPSHOT_DIR" default:"./data"`

	Provider          string `envconfig:"STRINGSMITH_PROVIDER" default:"mock"`
	DeepLKey          string `envconfig:"STRINGSMITH_DEEPL_KEY" default:""`
	GoogleKey         string `envconfig:"STRINGSMITH_GOOGLE_KEY" default:""`
	LibreKey          string `envconfig:"STRINGSMITH_LIBRE_KEY" default:""`
	LibreEndpoint     string `envconfig:"STRINGSMITH_LIBRE_ENDPOINT" default:"https://libretranslate.com"`
	OpenAIKey         string `envconfig:"STRINGSMITH_OPENAI_KEY" default:""`
	OpenAIBaseURL     string `envconfig:"STRINGSMITH_OPENAI_BASE_URL" default:""`
	OpenAIModel       string `envconfig:"STRINGSMITH_OPENAI_MODEL" default:"gpt-4o-mini"`
	KeyringPassphrase string `envconfig:"STRINGSMITH_KEYRING_PASSPHRASE" default:""`

	BatchSize           int           `envconfig:"STRINGSMITH_BATCH_SIZE" default:"40"`
	ParallelBatches     int           `envconfig:"STRINGSMITH_PARALLEL_BATCHES" default:"3"`
	MaxRetries          int           `envconfig:"STRINGSMITH_MAX_RETRIES" default:"3"`
	TimeoutPerItem      time.Duration `envconfig:"STRINGSMITH_TIMEOUT_PER_ITEM" default:"30s"`
	DelayBetweenBatches time.Duration `envconfig:"STRINGSMITH_DELAY_BETWEEN_BATCHES" default:"500ms"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("STRINGSMITH_HTTP_ADDR is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("STRINGSMITH_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("STRINGSMITH_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("STRINGSMITH_DB_MIN_CONNS (%d) cannot exceed STRINGSMITH_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.SnapshotDir) == "" {
		return fmt.Errorf("STRINGSMITH_SNAPSHOT_DIR is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("STRINGSMITH_BATCH_SIZE must be >= 1")
	}
	if c.ParallelBatches < 1 {
		return fmt.Errorf("STRINGSMITH_PARALLEL_BATCHES must be >= 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("STRINGSMITH_MAX_RETRIES must be >= 0")
	}
	if c.TimeoutPerItem <= 0 {
		return fmt.Errorf("STRINGSMITH_TIMEOUT_PER_ITEM must be positive")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}

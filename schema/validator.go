package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed job_submission.schema.json
var jobSubmissionSchemaJSON string

// JobSubmission is a validated batch translation job request.
type JobSubmission struct {
	Name           string             `json:"name,omitempty"`
	SourceLanguage string             `json:"source_language"`
	TargetLanguage string             `json:"target_language"`
	Provider       string             `json:"provider,omitempty"`
	Items          []SubmissionItem   `json:"items"`
	Options        *SubmissionOptions `json:"options,omitempty"`
}

// SubmissionItem is one string to translate plus optional table metadata.
type SubmissionItem struct {
	Text           string `json:"text"`
	Key            string `json:"key,omitempty"`
	CharacterLimit int    `json:"character_limit,omitempty"`
}

// SubmissionOptions mirrors the orchestrator knobs a caller may override.
// MaxRetries is a pointer so an explicit 0 survives next to "not set".
type SubmissionOptions struct {
	BatchSize             int               `json:"batch_size,omitempty"`
	ParallelBatches       int               `json:"parallel_batches,omitempty"`
	MaxRetries            *int              `json:"max_retries,omitempty"`
	TimeoutPerItemMS      int               `json:"timeout_per_item_ms,omitempty"`
	DelayBetweenBatchesMS int               `json:"delay_between_batches_ms,omitempty"`
	QualityThreshold      int               `json:"quality_threshold,omitempty"`
	SkipLowPriority       bool              `json:"skip_low_priority,omitempty"`
	SkipValidation        bool              `json:"skip_validation,omitempty"`
	Context               string            `json:"context,omitempty"`
	Glossary              map[string]string `json:"glossary,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateJobSubmission(payload json.RawMessage) (*JobSubmission, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var submission JobSubmission
	if err := json.Unmarshal(normalized, &submission); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&submission); err != nil {
		return nil, err
	}

	return &submission, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("job_submission.schema.json", strings.NewReader(jobSubmissionSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("job_submission.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

// validateSemantics covers what the schema grammar cannot: whitespace-only
// strings and identical language pairs. Authoritative pair validation
// happens in internal/language when the job is created.
func validateSemantics(submission *JobSubmission) error {
	if submission == nil {
		return fmt.Errorf("payload is nil")
	}

	source := strings.TrimSpace(submission.SourceLanguage)
	target := strings.TrimSpace(submission.TargetLanguage)
	if source == "" {
		return fmt.Errorf("source_language must not be empty")
	}
	if target == "" {
		return fmt.Errorf("target_language must not be empty")
	}
	if strings.EqualFold(source, target) {
		return fmt.Errorf("source_language and target_language must differ")
	}

	for i, item := range submission.Items {
		if strings.TrimSpace(item.Text) == "" {
			return fmt.Errorf("items[%d].text must not be empty", i)
		}
	}

	return nil
}

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobRecord is one batch job history row.
type JobRecord struct {
	JobUUID      string
	Name         string
	SourceLang   string
	TargetLang   string
	Provider     string
	Status       string
	TotalItems   int
	Results      json.RawMessage
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// UpsertJobParams controls job history upserts. The orchestrator writes the
// same row several times as a job advances, so every mutable column takes
// the incoming value.
type UpsertJobParams struct {
	JobUUID      string
	Name         string
	SourceLang   string
	TargetLang   string
	Provider     string
	Status       string
	TotalItems   int
	Results      json.RawMessage
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (p *Pool) UpsertJob(ctx context.Context, row UpsertJobParams) error {
	if strings.TrimSpace(row.JobUUID) == "" {
		return fmt.Errorf("job UUID is required")
	}

	const q = `
INSERT INTO loc.jobs (
	job_uuid,
	name,
	source_lang,
	target_lang,
	provider,
	status,
	total_items,
	results,
	error_message,
	created_at,
	started_at,
	completed_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (job_uuid)
DO UPDATE SET
	name = EXCLUDED.name,
	status = EXCLUDED.status,
	total_items = EXCLUDED.total_items,
	results = EXCLUDED.results,
	error_message = EXCLUDED.error_message,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	updated_at = now()
`

	if _, err := p.Exec(
		ctx,
		q,
		row.JobUUID,
		row.Name,
		row.SourceLang,
		row.TargetLang,
		row.Provider,
		row.Status,
		row.TotalItems,
		[]byte(row.Results),
		row.ErrorMessage,
		row.CreatedAt,
		row.StartedAt,
		row.CompletedAt,
	); err != nil {
		return fmt.Errorf("upsert job %s: %w", row.JobUUID, err)
	}
	return nil
}

func (p *Pool) GetJob(ctx context.Context, jobUUID string) (JobRecord, error) {
	const q = `
SELECT
	j.job_uuid::text,
	j.name,
	j.source_lang,
	j.target_lang,
	j.provider,
	j.status,
	j.total_items,
	j.results,
	j.error_message,
	j.created_at,
	j.started_at,
	j.completed_at
FROM loc.jobs j
WHERE j.job_uuid = $1::uuid
`

	row, err := scanJobRecord(p.QueryRow(ctx, q, jobUUID))
	if IsNoRows(err) {
		return JobRecord{}, ErrNoRows
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("query job %s: %w", jobUUID, err)
	}
	return row, nil
}

func (p *Pool) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
SELECT
	j.job_uuid::text,
	j.name,
	j.source_lang,
	j.target_lang,
	j.provider,
	j.status,
	j.total_items,
	j.results,
	j.error_message,
	j.created_at,
	j.started_at,
	j.completed_at
FROM loc.jobs j
ORDER BY j.created_at DESC, j.job_id DESC
LIMIT $1
`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	records := make([]JobRecord, 0, limit)
	for rows.Next() {
		record, err := scanJobRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(scanner rowScanner) (JobRecord, error) {
	var (
		record  JobRecord
		results []byte
	)
	if err := scanner.Scan(
		&record.JobUUID,
		&record.Name,
		&record.SourceLang,
		&record.TargetLang,
		&record.Provider,
		&record.Status,
		&record.TotalItems,
		&results,
		&record.ErrorMessage,
		&record.CreatedAt,
		&record.StartedAt,
		&record.CompletedAt,
	); err != nil {
		return JobRecord{}, err
	}
	if len(results) > 0 {
		record.Results = json.RawMessage(results)
	}
	return record, nil
}

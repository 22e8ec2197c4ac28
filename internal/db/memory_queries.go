package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loclab.gg/stringsmith/internal/language"
	"loclab.gg/stringsmith/internal/memory"
)

// Memories adapts the pool to the memory.Persister contract so a store can
// load from and save to Postgres without importing this package.
func (p *Pool) Memories() memory.Persister {
	return &memoryPersister{pool: p}
}

type memoryPersister struct {
	pool *Pool
}

func (m *memoryPersister) Load(ctx context.Context, pair language.Pair) (*memory.Snapshot, error) {
	const memoryQ = `
SELECT
	tm.memory_id,
	tm.memory_uuid::text,
	tm.name,
	tm.created_at,
	tm.updated_at
FROM loc.translation_memories tm
WHERE tm.source_lang = $1
  AND tm.target_lang = $2
`

	var (
		memoryID int64
		snap     memory.Snapshot
	)
	err := m.pool.QueryRow(ctx, memoryQ, pair.Source, pair.Target).Scan(
		&memoryID,
		&snap.ID,
		&snap.Name,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query translation memory %s: %w", pair.Key(), err)
	}
	snap.SourceLanguage = pair.Source
	snap.TargetLanguage = pair.Target

	const unitsQ = `
SELECT
	u.unit_uuid::text,
	u.source_text,
	u.target_text,
	u.context,
	u.domain_id,
	u.provider,
	u.confidence,
	u.verified,
	u.usage_count,
	u.metadata,
	u.created_at,
	u.updated_at
FROM loc.translation_units u
WHERE u.memory_id = $1
ORDER BY u.created_at ASC, u.unit_id ASC
`

	rows, err := m.pool.Query(ctx, unitsQ, memoryID)
	if err != nil {
		return nil, fmt.Errorf("query translation units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			unit     memory.Unit
			unitCtx  *string
			domainID *string
			metadata []byte
		)
		if err := rows.Scan(
			&unit.ID,
			&unit.SourceText,
			&unit.TargetText,
			&unitCtx,
			&domainID,
			&unit.Provider,
			&unit.Confidence,
			&unit.Verified,
			&unit.UsageCount,
			&metadata,
			&unit.CreatedAt,
			&unit.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan translation unit row: %w", err)
		}
		unit.SourceLanguage = pair.Source
		unit.TargetLanguage = pair.Target
		if unitCtx != nil {
			unit.Context = *unitCtx
		}
		if domainID != nil {
			unit.DomainID = *domainID
		}
		if len(metadata) > 0 {
			var meta memory.Metadata
			if err := json.Unmarshal(metadata, &meta); err != nil {
				return nil, fmt.Errorf("decode unit metadata: %w", err)
			}
			unit.Metadata = &meta
		}
		snap.Units = append(snap.Units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translation unit rows: %w", err)
	}

	return &snap, nil
}

// Save replaces the stored memory with the snapshot: the memory row is
// upserted on its language pair, every unit is upserted on its UUID, and
// units absent from the snapshot are deleted.
func (m *memoryPersister) Save(ctx context.Context, snap *memory.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("save translation memory: snapshot is nil")
	}

	tx, err := m.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const memoryQ = `
INSERT INTO loc.translation_memories (
	memory_uuid,
	name,
	source_lang,
	target_lang,
	created_at,
	updated_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
ON CONFLICT (source_lang, target_lang)
DO UPDATE SET
	name = EXCLUDED.name,
	updated_at = EXCLUDED.updated_at
RETURNING memory_id
`

	var memoryID int64
	if err := tx.QueryRow(
		ctx,
		memoryQ,
		snap.ID,
		snap.Name,
		snap.SourceLanguage,
		snap.TargetLanguage,
		snap.CreatedAt,
		snap.UpdatedAt,
	).Scan(&memoryID); err != nil {
		return fmt.Errorf("upsert translation memory %s_%s: %w", snap.SourceLanguage, snap.TargetLanguage, err)
	}

	const unitQ = `
INSERT INTO loc.translation_units (
	unit_uuid,
	memory_id,
	source_text,
	target_text,
	context,
	domain_id,
	provider,
	confidence,
	verified,
	usage_count,
	metadata,
	created_at,
	updated_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (unit_uuid)
DO UPDATE SET
	source_text = EXCLUDED.source_text,
	target_text = EXCLUDED.target_text,
	context = EXCLUDED.context,
	domain_id = EXCLUDED.domain_id,
	provider = EXCLUDED.provider,
	confidence = EXCLUDED.confidence,
	verified = EXCLUDED.verified,
	usage_count = EXCLUDED.usage_count,
	metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at
`

	unitUUIDs := make([]string, 0, len(snap.Units))
	for i := range snap.Units {
		unit := &snap.Units[i]

		var metadata []byte
		if unit.Metadata != nil {
			metadata, err = json.Marshal(unit.Metadata)
			if err != nil {
				return fmt.Errorf("encode unit metadata: %w", err)
			}
		}

		if _, err := tx.Exec(
			ctx,
			unitQ,
			unit.ID,
			memoryID,
			unit.SourceText,
			unit.TargetText,
			nullableText(unit.Context),
			nullableText(unit.DomainID),
			unit.Provider,
			unit.Confidence,
			unit.Verified,
			unit.UsageCount,
			metadata,
			unit.CreatedAt,
			unit.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert translation unit %s: %w", unit.ID, err)
		}
		unitUUIDs = append(unitUUIDs, unit.ID)
	}

	// An empty snapshot produces the literal '{}', which matches nothing,
	// so the delete clears every remaining unit of the memory.
	const pruneQ = `
DELETE FROM loc.translation_units
WHERE memory_id = $1
  AND NOT (unit_uuid = ANY($2::uuid[]))
`

	if _, err := tx.Exec(ctx, pruneQ, memoryID, uuidArrayLiteral(unitUUIDs)); err != nil {
		return fmt.Errorf("prune stale translation units: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// uuidArrayLiteral renders ids as a Postgres array literal, keeping the
// whole set inside a single text parameter. UUIDs never need quoting.
func uuidArrayLiteral(ids []string) string {
	return "{" + strings.Join(ids, ",") + "}"
}

func nullableText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

package db

import (
	"encoding/json"
	"time"
)

// TranslationMemory maps loc.translation_memories, one row per language pair.
type TranslationMemory struct {
	MemoryID   int64     `gorm:"column:memory_id;primaryKey;autoIncrement"`
	MemoryUUID string    `gorm:"column:memory_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name       string    `gorm:"column:name;type:text;not null;default:''"`
	SourceLang string    `gorm:"column:source_lang;type:text;not null;uniqueIndex:translation_memories_pair_key,priority:1"`
	TargetLang string    `gorm:"column:target_lang;type:text;not null;uniqueIndex:translation_memories_pair_key,priority:2"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TranslationMemory) TableName() string { return "loc.translation_memories" }

// TranslationUnit maps loc.translation_units. unit_uuid is the application
// identity; rows are replaced wholesale on every memory save.
type TranslationUnit struct {
	UnitID     int64           `gorm:"column:unit_id;primaryKey;autoIncrement"`
	UnitUUID   string          `gorm:"column:unit_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	MemoryID   int64           `gorm:"column:memory_id;type:bigint;not null;index"`
	SourceText string          `gorm:"column:source_text;type:text;not null"`
	TargetText string          `gorm:"column:target_text;type:text;not null"`
	Context    *string         `gorm:"column:context;type:text"`
	DomainID   *string         `gorm:"column:domain_id;type:text"`
	Provider   string          `gorm:"column:provider;type:text;not null;default:''"`
	Confidence float64         `gorm:"column:confidence;type:double precision;not null;default:0"`
	Verified   bool            `gorm:"column:verified;type:boolean;not null;default:false"`
	UsageCount int             `gorm:"column:usage_count;type:integer;not null;default:0"`
	Metadata   json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TranslationUnit) TableName() string { return "loc.translation_units" }

// Job maps loc.jobs, the append-mostly batch job history.
type Job struct {
	JobID        int64           `gorm:"column:job_id;primaryKey;autoIncrement"`
	JobUUID      string          `gorm:"column:job_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name         string          `gorm:"column:name;type:text;not null;default:''"`
	SourceLang   string          `gorm:"column:source_lang;type:text;not null"`
	TargetLang   string          `gorm:"column:target_lang;type:text;not null"`
	Provider     string          `gorm:"column:provider;type:text;not null;default:''"`
	Status       string          `gorm:"column:status;type:text;not null;default:pending"`
	TotalItems   int             `gorm:"column:total_items;type:integer;not null;default:0"`
	Results      json.RawMessage `gorm:"column:results;type:jsonb"`
	ErrorMessage *string         `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	StartedAt    *time.Time      `gorm:"column:started_at;type:timestamptz"`
	CompletedAt  *time.Time      `gorm:"column:completed_at;type:timestamptz"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Job) TableName() string { return "loc.jobs" }

func autoMigrateModels() []any {
	return []any{
		&TranslationMemory{},
		&TranslationUnit{},
		&Job{},
	}
}

package batch

import (
	"strconv"
	"sync"
	"time"

	"loclab.gg/stringsmith/internal/classify"
	"loclab.gg/stringsmith/internal/confidence"
)

// Status is the job-level state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusClassifying Status = "classifying"
	StatusTranslating Status = "translating"
	StatusValidating  Status = "validating"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// ItemStatus is the per-string state.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemTranslating ItemStatus = "translating"
	ItemCompleted   ItemStatus = "completed"
	ItemFailed      ItemStatus = "failed"
	ItemSkipped     ItemStatus = "skipped"
)

// Item is one source string moving through the pipeline.
type Item struct {
	ID             string                   `json:"id"`
	Index          int                      `json:"index"`
	SourceText     string                   `json:"sourceText"`
	TranslatedText string                   `json:"translatedText,omitempty"`
	Status         ItemStatus               `json:"status"`
	Classification *classify.Classification `json:"classification,omitempty"`
	Quality        *confidence.Result       `json:"quality,omitempty"`
	FromMemory     bool                     `json:"fromMemory"`
	Error          string                   `json:"error,omitempty"`
	Metadata       map[string]string        `json:"metadata,omitempty"`
}

// characterLimit reads the per-item display budget from metadata, 0 when
// absent.
func (it *Item) characterLimit() int {
	if it.Metadata == nil {
		return 0
	}
	limit, err := strconv.Atoi(it.Metadata["character_limit"])
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// Options tune one job. Zero numeric fields take the defaults; the Skip
// booleans default to running the full pipeline.
type Options struct {
	BatchSize           int               `json:"batchSize"`
	ParallelBatches     int               `json:"parallelBatches"`
	TimeoutPerItem      time.Duration     `json:"timeoutPerItem"`
	MaxRetries          int               `json:"maxRetries"`
	DelayBetweenBatches time.Duration     `json:"delayBetweenBatches"`
	QualityThreshold    int               `json:"qualityThreshold"`
	SkipClassification  bool              `json:"skipClassification"`
	SkipLowPriority     bool              `json:"skipLowPriority"`
	SkipValidation      bool              `json:"skipValidation"`
	Provider            string            `json:"provider,omitempty"`
	Context             string            `json:"context,omitempty"`
	Glossary            map[string]string `json:"glossary,omitempty"`
}

// DefaultOptions are the stock job settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:           40,
		ParallelBatches:     3,
		TimeoutPerItem:      30 * time.Second,
		MaxRetries:          3,
		DelayBetweenBatches: 500 * time.Millisecond,
		QualityThreshold:    70,
	}
}

// mergedOver fills zero fields of o from base. MaxRetries keeps an explicit
// -1 as "no retries" so callers can turn retrying off.
func (o Options) mergedOver(base Options) Options {
	merged := base
	if o.BatchSize > 0 {
		merged.BatchSize = o.BatchSize
	}
	if o.ParallelBatches > 0 {
		merged.ParallelBatches = o.ParallelBatches
	}
	if o.TimeoutPerItem > 0 {
		merged.TimeoutPerItem = o.TimeoutPerItem
	}
	if o.MaxRetries > 0 {
		merged.MaxRetries = o.MaxRetries
	} else if o.MaxRetries < 0 {
		merged.MaxRetries = 0
	}
	if o.DelayBetweenBatches > 0 {
		merged.DelayBetweenBatches = o.DelayBetweenBatches
	}
	if o.QualityThreshold > 0 {
		merged.QualityThreshold = o.QualityThreshold
	}
	merged.SkipClassification = o.SkipClassification
	merged.SkipLowPriority = o.SkipLowPriority
	merged.SkipValidation = o.SkipValidation
	if o.Provider != "" {
		merged.Provider = o.Provider
	}
	if o.Context != "" {
		merged.Context = o.Context
	}
	if o.Glossary != nil {
		merged.Glossary = o.Glossary
	}
	return merged
}

// QualityIssue flags one item scoring under the job's quality threshold.
type QualityIssue struct {
	ItemID     string `json:"itemId"`
	Index      int    `json:"index"`
	SourceText string `json:"sourceText"`
	Score      int    `json:"score"`
	Level      string `json:"level"`
}

// Results accumulate over the run and are final once the job is terminal.
type Results struct {
	Translated          int            `json:"translated"`
	FromMemory          int            `json:"fromMemory"`
	Failed              int            `json:"failed"`
	Skipped             int            `json:"skipped"`
	TokensUsed          int            `json:"tokensUsed"`
	EstimatedCost       float64        `json:"estimatedCost"`
	AverageQualityScore int            `json:"averageQualityScore"`
	QualityIssues       []QualityIssue `json:"qualityIssues,omitempty"`
}

// Progress is the live snapshot published to observers.
type Progress struct {
	Total                  int           `json:"total"`
	Completed              int           `json:"completed"`
	Failed                 int           `json:"failed"`
	Skipped                int           `json:"skipped"`
	FromMemory             int           `json:"fromMemory"`
	Percentage             int           `json:"percentage"`
	EstimatedTimeRemaining time.Duration `json:"estimatedTimeRemaining"`
	CurrentItem            string        `json:"currentItem,omitempty"`
	StatusMessage          string        `json:"statusMessage,omitempty"`
	IsRateLimited          bool          `json:"isRateLimited"`
}

// Job owns its items exclusively; the job is the unit of pause and
// cancellation.
type Job struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SourceLanguage string     `json:"sourceLanguage"`
	TargetLanguage string     `json:"targetLanguage"`
	Provider       string     `json:"provider"`
	Status         Status     `json:"status"`
	Items          []*Item    `json:"items"`
	Progress       Progress   `json:"progress"`
	Options        Options    `json:"options"`
	Results        Results    `json:"results"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Error          string     `json:"error,omitempty"`

	mu sync.Mutex
}

// Snapshot copies the job for readers outside the run loop.
func (j *Job) Snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Job {
	copied := Job{
		ID:             j.ID,
		Name:           j.Name,
		SourceLanguage: j.SourceLanguage,
		TargetLanguage: j.TargetLanguage,
		Provider:       j.Provider,
		Status:         j.Status,
		Progress:       j.Progress,
		Options:        j.Options,
		Results:        j.Results,
		CreatedAt:      j.CreatedAt,
		Error:          j.Error,
	}
	if j.StartedAt != nil {
		started := *j.StartedAt
		copied.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		copied.CompletedAt = &completed
	}
	copied.Items = make([]*Item, len(j.Items))
	for i, item := range j.Items {
		cloned := *item
		copied.Items[i] = &cloned
	}
	copied.Results.QualityIssues = append([]QualityIssue(nil), j.Results.QualityIssues...)
	return copied
}

func (j *Job) pendingItemsLocked() []*Item {
	var pending []*Item
	for _, item := range j.Items {
		if item.Status == ItemPending {
			pending = append(pending, item)
		}
	}
	return pending
}

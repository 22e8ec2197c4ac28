package memory

import (
	"math"
	"time"
)

// Unit is one stored (source, target) translation pair plus metadata.
// Identity within a store is the normalized source text; see normalizeText.
type Unit struct {
	ID             string    `json:"id"`
	SourceText     string    `json:"sourceText"`
	TargetText     string    `json:"targetText"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	Context        string    `json:"context,omitempty"`
	DomainID       string    `json:"domainId,omitempty"`
	Provider       string    `json:"provider"`
	Confidence     float64   `json:"confidence"`
	Verified       bool      `json:"verified"`
	UsageCount     int       `json:"usageCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

type Metadata struct {
	CharacterLimit int      `json:"characterLimit,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// Entry is an unsaved translation pair, the input shape for bulk inserts.
type Entry struct {
	Source string
	Target string
}

// Stats are derived from the unit collection on every save.
type Stats struct {
	TotalUnits        int            `json:"totalUnits"`
	VerifiedUnits     int            `json:"verifiedUnits"`
	TotalUsageCount   int            `json:"totalUsageCount"`
	AverageConfidence float64        `json:"averageConfidence"`
	ByProvider        map[string]int `json:"byProvider"`
	ByContext         map[string]int `json:"byContext"`
}

func computeStats(units []*Unit) Stats {
	stats := Stats{
		ByProvider: make(map[string]int),
		ByContext:  make(map[string]int),
	}

	var confidenceSum float64
	for _, unit := range units {
		stats.TotalUnits++
		if unit.Verified {
			stats.VerifiedUnits++
		}
		stats.TotalUsageCount += unit.UsageCount
		confidenceSum += unit.Confidence
		stats.ByProvider[unit.Provider]++
		if unit.Context != "" {
			stats.ByContext[unit.Context]++
		}
	}

	if stats.TotalUnits > 0 {
		stats.AverageConfidence = math.Round(confidenceSum/float64(stats.TotalUnits)*100) / 100
	}
	return stats
}

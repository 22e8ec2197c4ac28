// Package confidence scores machine translations of game text with a
// deterministic heuristic: eight sub-metrics over placeholders, numbers,
// markup, punctuation, casing, length, consistency and emotional tone,
// weighted into one 0-100 score with a severity level and issue list.
//
// No call leaves the process. The scorer is a pure function of its inputs
// and its injected collaborators, so identical input always produces the
// identical result.
package confidence

import (
	"math"
	"sort"
	"strings"
)

// Level buckets a score for triage.
type Level string

const (
	LevelCritical Level = "critical"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelPerfect  Level = "perfect"
)

// LevelOf maps a score to its severity bucket.
func LevelOf(score int) Level {
	switch {
	case score < 40:
		return LevelCritical
	case score < 60:
		return LevelLow
	case score < 75:
		return LevelMedium
	case score < 90:
		return LevelHigh
	default:
		return LevelPerfect
	}
}

// Context carries optional scoring inputs beyond the two strings.
type Context struct {
	SourceLanguage string
	TargetLanguage string
	// Glossary maps mandated source terms to their required translations.
	Glossary map[string]string
	// CharacterLimit is the UI's display budget; 0 means unlimited.
	CharacterLimit int
}

// Result is the outcome of scoring one translation. Suggestions collect the
// issues' remediation hints for callers that only render a checklist.
type Result struct {
	Score       int      `json:"score"`
	Level       Level    `json:"level"`
	Metrics     Metrics  `json:"metrics"`
	Issues      []Issue  `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// MemoryConsistencyChecker compares a translation against remembered
// translations of near-identical sources. ok is false when no close
// neighbor exists.
type MemoryConsistencyChecker interface {
	TargetAgreement(source, translated string) (agreement int, ok bool)
}

// Scorer computes confidence results. Collaborators are injected; the
// zero-option scorer uses the lexicon emotion analyzer and no memory.
type Scorer struct {
	emotions EmotionAnalyzer
	memory   MemoryConsistencyChecker
}

type Option func(*Scorer)

// WithEmotionAnalyzer replaces the default lexicon analyzer.
func WithEmotionAnalyzer(analyzer EmotionAnalyzer) Option {
	return func(s *Scorer) {
		if analyzer != nil {
			s.emotions = analyzer
		}
	}
}

// WithMemoryChecker enables the memory-consistency part of the consistency
// metric.
func WithMemoryChecker(checker MemoryConsistencyChecker) Option {
	return func(s *Scorer) {
		s.memory = checker
	}
}

func New(opts ...Option) *Scorer {
	s := &Scorer{emotions: NewLexiconAnalyzer()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metric weights. Placeholders and numbers dominate: losing either breaks
// gameplay text, not just style.
const (
	weightLength         = 0.10
	weightPlaceholder    = 0.25
	weightNumber         = 0.20
	weightPunctuation    = 0.10
	weightCapitalization = 0.05
	weightConsistency    = 0.10
	weightFormat         = 0.15
	weightEmotion        = 0.05
)

// Calculate scores one translation against its source.
func (s *Scorer) Calculate(original, translated string, sctx *Context) Result {
	if strings.TrimSpace(translated) == "" {
		issues := []Issue{newIssue(CodeEmptyTranslation, "translation is empty")}
		return Result{
			Score:       0,
			Level:       LevelCritical,
			Issues:      issues,
			Suggestions: suggestionList(issues),
		}
	}

	var (
		metrics             Metrics
		missingPlaceholders []string
		missingNumbers      []string
		missingTags         []string
	)

	metrics.LengthRatio = lengthRatioScore(original, translated)
	metrics.PlaceholderMatch, missingPlaceholders = placeholderScore(original, translated)
	metrics.NumberMatch, missingNumbers = numberScore(original, translated)
	metrics.PunctuationMatch = punctuationScore(original, translated)
	metrics.CapitalizationMatch = capitalizationScore(original, translated)
	metrics.FormatPreservation, missingTags = formatScore(original, translated)
	metrics.EmotionMatch = s.emotionScore(original, translated)

	consistency, findings := s.consistencyScore(original, translated, sctx)
	metrics.ConsistencyScore = consistency

	weighted := weightLength*float64(metrics.LengthRatio) +
		weightPlaceholder*float64(metrics.PlaceholderMatch) +
		weightNumber*float64(metrics.NumberMatch) +
		weightPunctuation*float64(metrics.PunctuationMatch) +
		weightCapitalization*float64(metrics.CapitalizationMatch) +
		weightConsistency*float64(metrics.ConsistencyScore) +
		weightFormat*float64(metrics.FormatPreservation) +
		weightEmotion*float64(metrics.EmotionMatch)

	score := int(math.Round(weighted))

	// Hard caps: a high style score must not mask a broken string.
	if metrics.PlaceholderMatch < 100 && score > 60 {
		score = 60
	}
	if metrics.NumberMatch < 100 && score > 70 {
		score = 70
	}
	if metrics.FormatPreservation < 100 && score > 75 {
		score = 75
	}
	score = clampScore(score)

	issues := buildIssues(metrics, missingPlaceholders, missingNumbers, missingTags, findings, translated, sctx)
	return Result{
		Score:       score,
		Level:       LevelOf(score),
		Metrics:     metrics,
		Issues:      issues,
		Suggestions: suggestionList(issues),
	}
}

// Pair is one (source, translation) input for batch scoring.
type Pair struct {
	Original   string
	Translated string
	Context    *Context
}

// IssueCount is one issue code with its frequency across a batch.
type IssueCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Summary aggregates a batch of results.
type Summary struct {
	Total     int           `json:"total"`
	MeanScore int           `json:"mean_score"`
	Levels    map[Level]int `json:"levels"`
	TopIssues []IssueCount  `json:"top_issues,omitempty"`
}

// CalculateBatch scores every pair and aggregates level counts, the mean
// score and the five most frequent issue codes.
func (s *Scorer) CalculateBatch(pairs []Pair) Summary {
	summary := Summary{
		Total:  len(pairs),
		Levels: make(map[Level]int),
	}
	if len(pairs) == 0 {
		return summary
	}

	sum := 0
	issueCounts := make(map[string]int)
	for _, pair := range pairs {
		result := s.Calculate(pair.Original, pair.Translated, pair.Context)
		sum += result.Score
		summary.Levels[result.Level]++
		for _, issue := range result.Issues {
			issueCounts[issue.Code]++
		}
	}

	summary.MeanScore = int(math.Round(float64(sum) / float64(len(pairs))))
	summary.TopIssues = topIssues(issueCounts, 5)
	return summary
}

// topIssues returns the n most frequent codes, ties broken alphabetically
// so output is stable.
func topIssues(counts map[string]int, n int) []IssueCount {
	ranked := make([]IssueCount, 0, len(counts))
	for code, count := range counts {
		ranked = append(ranked, IssueCount{Code: code, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Code < ranked[j].Code
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	if len(ranked) == 0 {
		return nil
	}
	return ranked
}

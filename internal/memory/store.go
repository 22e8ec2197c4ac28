package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"loclab.gg/stringsmith/internal/globaltime"
	"loclab.gg/stringsmith/internal/language"
)

var ErrNotFound = errors.New("translation unit not found")

// Persister stores and retrieves whole memories. Load returns (nil, nil)
// when no memory exists yet for the pair.
type Persister interface {
	Load(ctx context.Context, pair language.Pair) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Store is the translation memory for one language pair: an ordered unit
// collection plus a normalized-text hash index for exact matches. All
// methods are safe for concurrent use; the index and the collection are
// consistent whenever a call returns.
type Store struct {
	pair language.Pair

	mu        sync.Mutex
	id        string
	units     []*Unit
	index     map[string]*Unit
	createdAt time.Time
	updatedAt time.Time
	dirty     bool

	persister Persister
	fallback  *Snapshots
	log       zerolog.Logger
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithPersister sets the primary persistence collaborator.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithSnapshotFallback sets the local snapshot store used when the primary
// persister fails.
func WithSnapshotFallback(snaps *Snapshots) Option {
	return func(s *Store) { s.fallback = snaps }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open loads the memory for a language pair, or creates an empty one. Load
// failures degrade to an empty store with a warning; they never abort.
func Open(ctx context.Context, pair language.Pair, opts ...Option) *Store {
	s := &Store{
		pair:      pair,
		id:        uuid.NewString(),
		index:     make(map[string]*Unit),
		createdAt: globaltime.UTC(),
		updatedAt: globaltime.UTC(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.persister != nil {
		snap, err := s.persister.Load(ctx, pair)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("pair", pair.String()).
				Msg("memory load failed, trying snapshot")
		case snap != nil:
			s.restore(snap)
			return s
		}
	}

	if s.fallback != nil {
		snap, err := s.fallback.Load(ctx, pair)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("pair", pair.String()).
				Msg("snapshot load failed, starting with empty memory")
		case snap != nil:
			s.restore(snap)
			return s
		}
	}

	return s
}

func (s *Store) restore(snap *Snapshot) {
	if snap.ID != "" {
		s.id = snap.ID
	}
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}

	s.units = make([]*Unit, 0, len(snap.Units))
	s.index = make(map[string]*Unit, len(snap.Units))
	for i := range snap.Units {
		unit := snap.Units[i]
		key := s.key(normalizeText(unit.SourceText))
		if _, exists := s.index[key]; exists {
			continue
		}
		stored := unit
		s.units = append(s.units, &stored)
		s.index[key] = &stored
	}
}

func (s *Store) Pair() language.Pair {
	return s.pair
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// FindExact returns a copy of the unit whose normalized source text matches,
// or nil. Casing, surrounding space and typographic punctuation differences
// do not break the match.
func (s *Store) FindExact(sourceText string) *Unit {
	norm := normalizeText(sourceText)
	if norm == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unit, ok := s.index[s.key(norm)]
	if !ok {
		return nil
	}
	clone := *unit
	return &clone
}

// SearchParams tune fuzzy lookups. Zero MinSimilarity and MaxResults take
// the defaults (70 and 5); PreferVerified is honored as given.
type SearchParams struct {
	MinSimilarity  int
	MaxResults     int
	PreferVerified bool
	ContextFilter  string
	DomainFilter   string
}

func DefaultSearchParams() SearchParams {
	return SearchParams{MinSimilarity: 70, MaxResults: 5, PreferVerified: true}
}

// Match is one fuzzy search hit.
type Match struct {
	Unit       Unit `json:"unit"`
	Similarity int  `json:"similarity"`
}

// Search ranks stored units against the query: the exact-index hit scores
// 100, every other unit is scored by Levenshtein similarity over normalized
// text. Results below MinSimilarity are dropped; verified units rank first
// when PreferVerified, similarity descending otherwise.
func (s *Store) Search(sourceText string, params SearchParams) []Match {
	norm := normalizeText(sourceText)
	if norm == "" {
		return nil
	}
	if params.MinSimilarity <= 0 {
		params.MinSimilarity = 70
	}
	if params.MaxResults <= 0 {
		params.MaxResults = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]Match, 0, params.MaxResults)

	exact := s.index[s.key(norm)]
	if exact != nil && s.passesFilters(exact, params) {
		matches = append(matches, Match{Unit: *exact, Similarity: 100})
	}

	for _, unit := range s.units {
		if unit == exact {
			continue
		}
		if !s.passesFilters(unit, params) {
			continue
		}
		sim := Similarity(norm, normalizeText(unit.SourceText))
		if sim >= params.MinSimilarity {
			matches = append(matches, Match{Unit: *unit, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if params.PreferVerified && matches[i].Unit.Verified != matches[j].Unit.Verified {
			return matches[i].Unit.Verified
		}
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > params.MaxResults {
		matches = matches[:params.MaxResults]
	}
	return matches
}

func (s *Store) passesFilters(unit *Unit, params SearchParams) bool {
	if params.ContextFilter != "" && unit.Context != params.ContextFilter {
		return false
	}
	if params.DomainFilter != "" && unit.DomainID != params.DomainFilter {
		return false
	}
	return true
}

// AddOptions carry the non-text fields of an upsert.
type AddOptions struct {
	Context    string
	DomainID   string
	Provider   string
	Confidence float64
	Verified   bool
	Metadata   *Metadata
}

// Add upserts a pair. An existing exact match keeps the higher confidence,
// takes the new target text, and only ever gains verification. New units
// start with a zero usage count. The memory is persisted before Add
// returns; persistence failures are logged and absorbed.
func (s *Store) Add(ctx context.Context, sourceText, targetText string, opts AddOptions) (Unit, error) {
	norm := normalizeText(sourceText)
	if norm == "" {
		return Unit{}, fmt.Errorf("add translation: empty source text")
	}
	if strings.TrimSpace(targetText) == "" {
		return Unit{}, fmt.Errorf("add translation: empty target text")
	}

	s.mu.Lock()
	now := globaltime.UTC()

	unit, exists := s.index[s.key(norm)]
	if exists {
		unit.TargetText = targetText
		if opts.Confidence > unit.Confidence {
			unit.Confidence = opts.Confidence
		}
		if opts.Verified {
			unit.Verified = true
		}
		if opts.Provider != "" {
			unit.Provider = opts.Provider
		}
		if opts.Context != "" {
			unit.Context = opts.Context
		}
		if opts.DomainID != "" {
			unit.DomainID = opts.DomainID
		}
		if opts.Metadata != nil {
			unit.Metadata = opts.Metadata
		}
		unit.UpdatedAt = now
	} else {
		unit = &Unit{
			ID:             uuid.NewString(),
			SourceText:     sourceText,
			TargetText:     targetText,
			SourceLanguage: s.pair.Source,
			TargetLanguage: s.pair.Target,
			Context:        opts.Context,
			DomainID:       opts.DomainID,
			Provider:       opts.Provider,
			Confidence:     opts.Confidence,
			Verified:       opts.Verified,
			UsageCount:     0,
			CreatedAt:      now,
			UpdatedAt:      now,
			Metadata:       opts.Metadata,
		}
		s.units = append(s.units, unit)
		s.index[s.key(norm)] = unit
	}

	s.updatedAt = now
	clone := *unit
	s.persistLocked(ctx)
	s.mu.Unlock()

	return clone, nil
}

// AddBatch bulk-inserts pairs, skipping any whose source already has an
// exact match. Returns the number inserted; persists once at the end.
func (s *Store) AddBatch(ctx context.Context, entries []Entry, provider string, confidence float64) int {
	return s.ImportEntries(ctx, entries, AddOptions{Provider: provider, Confidence: confidence})
}

// ImportEntries is the bulk insert behind AddBatch and the TMX importer:
// existing sources are never overwritten, and the memory is persisted once
// after the last insert.
func (s *Store) ImportEntries(ctx context.Context, entries []Entry, opts AddOptions) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := globaltime.UTC()
	added := 0
	for _, entry := range entries {
		norm := normalizeText(entry.Source)
		if norm == "" || strings.TrimSpace(entry.Target) == "" {
			continue
		}
		key := s.key(norm)
		if _, exists := s.index[key]; exists {
			continue
		}
		unit := &Unit{
			ID:             uuid.NewString(),
			SourceText:     entry.Source,
			TargetText:     entry.Target,
			SourceLanguage: s.pair.Source,
			TargetLanguage: s.pair.Target,
			Context:        opts.Context,
			DomainID:       opts.DomainID,
			Provider:       opts.Provider,
			Confidence:     opts.Confidence,
			Verified:       opts.Verified,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.units = append(s.units, unit)
		s.index[key] = unit
		added++
	}

	if added > 0 {
		s.updatedAt = now
		s.persistLocked(ctx)
	}
	return added
}

// IncrementUsage bumps a unit's usage counter. The write is deliberately
// not persisted here; it is captured by the next full save.
func (s *Store) IncrementUsage(unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit := s.findByIDLocked(unitID)
	if unit == nil {
		return ErrNotFound
	}
	unit.UsageCount++
	s.dirty = true
	return nil
}

// Verify marks a unit human-verified and forces its confidence to 1.0.
// A non-empty correctedText replaces the stored target.
func (s *Store) Verify(ctx context.Context, unitID, correctedText string) (Unit, error) {
	s.mu.Lock()

	unit := s.findByIDLocked(unitID)
	if unit == nil {
		s.mu.Unlock()
		return Unit{}, ErrNotFound
	}

	if strings.TrimSpace(correctedText) != "" {
		unit.TargetText = correctedText
	}
	unit.Verified = true
	unit.Confidence = 1.0
	unit.UpdatedAt = globaltime.UTC()
	s.updatedAt = unit.UpdatedAt

	clone := *unit
	s.persistLocked(ctx)
	s.mu.Unlock()

	return clone, nil
}

// Remove deletes a unit and its index entry.
func (s *Store) Remove(ctx context.Context, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, unit := range s.units {
		if unit.ID != unitID {
			continue
		}
		s.units = append(s.units[:i], s.units[i+1:]...)
		delete(s.index, s.key(normalizeText(unit.SourceText)))
		s.updatedAt = globaltime.UTC()
		s.persistLocked(ctx)
		return nil
	}
	return ErrNotFound
}

// Units returns a copy of the ordered collection.
func (s *Store) Units() []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]Unit, len(s.units))
	for i, unit := range s.units {
		units[i] = *unit
	}
	return units
}

// Stats recomputes the derived statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeStats(s.units)
}

// Save recomputes stats and writes the whole memory through the persister,
// falling back to a local snapshot on failure. Unlike the write-through in
// Add, errors are returned so that callers driving an explicit save can
// report them.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

// TargetAgreement implements the memory-consistency probe used by quality
// scoring: it looks for the closest stored unit (excluding the pair's own
// entry) whose source is at least 90 similar to the given source, and
// returns how similar that unit's target is to the candidate translation.
func (s *Store) TargetAgreement(sourceText, translatedText string) (int, bool) {
	norm := normalizeText(sourceText)
	if norm == "" {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Unit
	bestSim := 0
	for _, unit := range s.units {
		unitNorm := normalizeText(unit.SourceText)
		if unitNorm == norm {
			continue
		}
		sim := Similarity(norm, unitNorm)
		if sim >= 90 && sim > bestSim {
			best, bestSim = unit, sim
		}
	}
	if best == nil {
		return 0, false
	}
	return Similarity(normalizeText(best.TargetText), normalizeText(translatedText)), true
}

func (s *Store) findByIDLocked(unitID string) *Unit {
	for _, unit := range s.units {
		if unit.ID == unitID {
			return unit
		}
	}
	return nil
}

func (s *Store) key(normalizedText string) string {
	return normalizedText + "|" + s.pair.Key()
}

// persistLocked is the absorb-errors variant used by mutating calls:
// persistence trouble must never fail a translation write.
func (s *Store) persistLocked(ctx context.Context) {
	if err := s.saveLocked(ctx); err != nil {
		s.log.Error().Err(err).Str("pair", s.pair.String()).
			Msg("memory persistence failed on all backends")
	}
}

func (s *Store) saveLocked(ctx context.Context) error {
	snap := s.snapshotLocked()
	if s.persister == nil && s.fallback == nil {
		s.dirty = false
		return nil
	}

	if s.persister != nil {
		err := s.persister.Save(ctx, snap)
		if err == nil {
			s.dirty = false
			return nil
		}
		s.log.Warn().Err(err).Str("pair", s.pair.String()).
			Msg("memory save failed, writing local snapshot")
	}

	if s.fallback != nil {
		if err := s.fallback.Save(ctx, snap); err != nil {
			return fmt.Errorf("save memory %s: %w", s.pair.Key(), err)
		}
		s.dirty = false
		return nil
	}
	return fmt.Errorf("save memory %s: no fallback snapshot store", s.pair.Key())
}

func (s *Store) snapshotLocked() *Snapshot {
	units := make([]Unit, len(s.units))
	for i, unit := range s.units {
		units[i] = *unit
	}
	return &Snapshot{
		ID:             s.id,
		Name:           s.pair.String(),
		SourceLanguage: s.pair.Source,
		TargetLanguage: s.pair.Target,
		Units:          units,
		Stats:          computeStats(s.units),
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
}

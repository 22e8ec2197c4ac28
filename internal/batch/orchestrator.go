// Package batch drives translation jobs end to end: classification, the
// translation-memory pass, chunked parallel provider calls with retry and
// rate-limit pacing, and confidence validation. One orchestrator owns one
// language pair's memory store and runs one job at a time.
package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"loclab.gg/stringsmith/internal/classify"
	"loclab.gg/stringsmith/internal/confidence"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/globaltime"
	"loclab.gg/stringsmith/internal/memory"
)

// PersistFunc writes a job row through the persistence service. Failures
// are logged and absorbed; job history is best-effort.
type PersistFunc func(ctx context.Context, job Job) error

// Orchestrator runs batch translation jobs against one memory store and one
// provider.
type Orchestrator struct {
	store      *memory.Store
	provider   gateway.Provider
	resolver   func(name string) (gateway.Provider, error)
	classifier classify.Classifier
	scorer     *confidence.Scorer
	notifier   *Notifier
	logger     zerolog.Logger
	persist    PersistFunc
	defaults   Options

	// sleep is swapped out by tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration)

	mu       sync.Mutex
	jobs     map[string]*Job
	controls map[string]*jobControl
	activeID string
}

// jobControl carries the cooperative pause/cancel flags and the resolved
// provider for one job.
type jobControl struct {
	paused    atomic.Bool
	cancelled atomic.Bool
	provider  gateway.Provider
}

type OrchestratorOption func(*Orchestrator)

// WithClassifier replaces the default heuristic classifier.
func WithClassifier(c classify.Classifier) OrchestratorOption {
	return func(o *Orchestrator) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithScorer replaces the default confidence scorer.
func WithScorer(s *confidence.Scorer) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.scorer = s
		}
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithObserver subscribes fn to all job events.
func WithObserver(fn func(Event)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.notifier.Subscribe(fn)
	}
}

// WithPersistFunc installs the job-history hook.
func WithPersistFunc(fn PersistFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.persist = fn
	}
}

// WithProviderResolver lets jobs name a provider in their options; without
// it only the constructor provider is accepted.
func WithProviderResolver(fn func(name string) (gateway.Provider, error)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.resolver = fn
	}
}

// WithDefaults overrides the stock job option defaults, typically from
// configuration.
func WithDefaults(defaults Options) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaults = defaults.mergedOver(DefaultOptions())
	}
}

// New builds an orchestrator around an injected memory store and provider.
func New(store *memory.Store, provider gateway.Provider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		provider:   provider,
		classifier: classify.NewHeuristic(),
		notifier:   NewNotifier(),
		logger:     zerolog.Nop(),
		defaults:   DefaultOptions(),
		sleep:      sleepContext,
		jobs:       make(map[string]*Job),
		controls:   make(map[string]*jobControl),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.scorer == nil {
		o.scorer = confidence.New(confidence.WithMemoryChecker(store))
	}
	return o
}

// Notifier exposes the event stream for subscription.
func (o *Orchestrator) Notifier() *Notifier {
	return o.notifier
}

// Input is one submission string plus optional per-item metadata, such as
// a string table key or a character limit.
type Input struct {
	Text     string
	Metadata map[string]string
}

// CreateJob registers a new pending job, one item per input string in input
// order. Empty input is rejected with ErrNoItems.
func (o *Orchestrator) CreateJob(name string, texts []string, opts Options) (*Job, error) {
	inputs := make([]Input, len(texts))
	for i, text := range texts {
		inputs[i] = Input{Text: text}
	}
	return o.CreateJobInputs(name, inputs, opts)
}

// CreateJobInputs is CreateJob for callers that attach per-item metadata.
// An options provider that cannot be resolved rejects the job outright.
func (o *Orchestrator) CreateJobInputs(name string, inputs []Input, opts Options) (*Job, error) {
	if len(inputs) == 0 {
		return nil, ErrNoItems
	}

	merged := opts.mergedOver(o.defaults)
	provider, err := o.resolveProvider(merged.Provider)
	if err != nil {
		return nil, err
	}

	pair := o.store.Pair()
	job := &Job{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		SourceLanguage: pair.Source,
		TargetLanguage: pair.Target,
		Provider:       provider.Name(),
		Status:         StatusPending,
		Options:        merged,
		CreatedAt:      globaltime.UTC(),
	}
	if job.Name == "" {
		job.Name = fmt.Sprintf("job-%s", job.ID[:8])
	}

	job.Items = make([]*Item, len(inputs))
	for i, input := range inputs {
		job.Items[i] = &Item{
			ID:         uuid.NewString(),
			Index:      i,
			SourceText: input.Text,
			Status:     ItemPending,
			Metadata:   input.Metadata,
		}
	}
	job.Progress = Progress{Total: len(job.Items)}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.controls[job.ID] = &jobControl{provider: provider}
	o.mu.Unlock()

	o.persistJob(context.Background(), job)
	return job, nil
}

func (o *Orchestrator) resolveProvider(name string) (gateway.Provider, error) {
	if name == "" || strings.EqualFold(name, o.provider.Name()) {
		return o.provider, nil
	}
	if o.resolver == nil {
		return nil, fmt.Errorf("translation provider %q is not available", name)
	}
	return o.resolver(name)
}

// Job returns a read-only snapshot.
func (o *Orchestrator) Job(id string) (Job, error) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return Job{}, ErrUnknownJob
	}
	return job.Snapshot(), nil
}

// Jobs lists snapshots of every known job, newest first.
func (o *Orchestrator) Jobs() []Job {
	o.mu.Lock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	o.mu.Unlock()

	snapshots := make([]Job, len(jobs))
	for i, job := range jobs {
		snapshots[i] = job.Snapshot()
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].ID < snapshots[j].ID
		}
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Pause asks a running job to hold at the next loop boundary. In-flight
// provider calls finish.
func (o *Orchestrator) Pause(jobID string) error {
	ctl, err := o.control(jobID)
	if err != nil {
		return err
	}
	ctl.paused.Store(true)
	return nil
}

// Resume clears the pause flag.
func (o *Orchestrator) Resume(jobID string) error {
	ctl, err := o.control(jobID)
	if err != nil {
		return err
	}
	ctl.paused.Store(false)
	return nil
}

// Cancel stops further work on the job. Already-submitted chunks drain;
// remaining items stay pending. Cancel also lifts a pause so the runner can
// observe the cancellation.
func (o *Orchestrator) Cancel(jobID string) error {
	ctl, err := o.control(jobID)
	if err != nil {
		return err
	}
	ctl.cancelled.Store(true)
	ctl.paused.Store(false)
	return nil
}

func (o *Orchestrator) control(jobID string) (*jobControl, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ctl, ok := o.controls[jobID]
	if !ok {
		return nil, ErrUnknownJob
	}
	return ctl, nil
}

// acquire claims the single active slot for a job.
func (o *Orchestrator) acquire(job *Job) (*jobControl, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctl, ok := o.controls[job.ID]
	if !ok {
		return nil, ErrUnknownJob
	}
	if o.activeID != "" {
		return nil, ErrJobActive
	}

	job.mu.Lock()
	pending := job.Status == StatusPending
	job.mu.Unlock()
	if !pending {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotPending, job.ID, job.Status)
	}

	o.activeID = job.ID
	return ctl, nil
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	if o.activeID == jobID {
		o.activeID = ""
	}
	o.mu.Unlock()
}

func (o *Orchestrator) persistJob(ctx context.Context, job *Job) {
	if o.persist == nil {
		return
	}
	if err := o.persist(ctx, job.Snapshot()); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("persist job failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

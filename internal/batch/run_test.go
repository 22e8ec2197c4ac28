package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"loclab.gg/stringsmith/internal/classify"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/language"
	"loclab.gg/stringsmith/internal/memory"
)

// scriptedProvider answers from a fixed translation table and records every
// request it sees.
type scriptedProvider struct {
	mu           sync.Mutex
	translations map[string]string
	requests     []gateway.Request
	err          error
	failMulti    bool          // with err set, fail only calls carrying more than one text
	gate         chan struct{} // when non-nil, Translate blocks until the gate closes
	entered      chan struct{} // when non-nil, closed on the first call
	enterOnce    sync.Once
}

func (p *scriptedProvider) Name() string { return "mock" }

func (p *scriptedProvider) Translate(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if p.entered != nil {
		p.enterOnce.Do(func() { close(p.entered) })
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.requests = append(p.requests, *req)
	p.mu.Unlock()

	if p.err != nil && (!p.failMulti || len(req.Texts) > 1) {
		return nil, p.err
	}

	out := make([]gateway.Translation, len(req.Texts))
	for i, text := range req.Texts {
		translated, ok := p.translations[text]
		if !ok {
			translated = "[it] " + text
		}
		out[i] = gateway.Translation{Translated: translated, Confidence: 1}
	}
	return &gateway.Response{Translations: out, Provider: "mock"}, nil
}

func (p *scriptedProvider) calls() []gateway.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gateway.Request(nil), p.requests...)
}

func (p *scriptedProvider) singleTextCalls() int {
	n := 0
	for _, req := range p.calls() {
		if len(req.Texts) == 1 {
			n++
		}
	}
	return n
}

type stubClassifier struct {
	err    error
	byText map[string]classify.Classification
}

func (c *stubClassifier) ClassifyBatch(_ context.Context, texts []string, _ classify.Hints) ([]classify.Classification, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]classify.Classification, len(texts))
	for i, text := range texts {
		if cl, ok := c.byText[text]; ok {
			out[i] = cl
			continue
		}
		out[i] = classify.Classification{Type: classify.TypeUI, Priority: classify.PriorityMedium}
	}
	return out, nil
}

// eventRecorder collects published events for later assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) statusTransitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if se, ok := e.(StatusEvent); ok {
			out = append(out, string(se.From)+">"+string(se.To))
		}
	}
	return out
}

func (r *eventRecorder) itemEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if _, ok := e.(ItemEvent); ok {
			n++
		}
	}
	return n
}

func (r *eventRecorder) sawRateLimited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if pe, ok := e.(ProgressEvent); ok && pe.Progress.IsRateLimited {
			return true
		}
	}
	return false
}

// sleepRecorder replaces the orchestrator's sleep so backoff waits resolve
// instantly while their durations stay observable.
type sleepRecorder struct {
	mu   sync.Mutex
	naps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.naps = append(s.naps, d)
}

func (s *sleepRecorder) longest() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max time.Duration
	for _, d := range s.naps {
		if d > max {
			max = d
		}
	}
	return max
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	pair, err := language.NewPair("en", "it")
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	return memory.Open(context.Background(), pair)
}

func newTestOrchestrator(t *testing.T, provider gateway.Provider, opts ...OrchestratorOption) (*Orchestrator, *memory.Store) {
	t.Helper()
	store := newTestStore(t)
	orch := New(store, provider, opts...)
	orch.sleep = func(context.Context, time.Duration) {}
	return orch, store
}

func TestStart_CompletesAllItems(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{}
	recorder := &eventRecorder{}
	orch, store := newTestOrchestrator(t, provider, WithObserver(recorder.record))

	texts := []string{"New Game", "Load Game", "Settings", "Quit", "Continue"}
	job, err := orch.CreateJob("menu strings", texts, Options{BatchSize: 2, ParallelBatches: 2})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("unexpected status: got %s want %s", snap.Status, StatusCompleted)
	}
	if snap.Progress.Completed != len(texts) || snap.Progress.Percentage != 100 {
		t.Fatalf("unexpected progress: %+v", snap.Progress)
	}
	if snap.Results.Translated != len(texts) || snap.Results.Failed != 0 {
		t.Fatalf("unexpected results: %+v", snap.Results)
	}
	if snap.Results.TokensUsed == 0 {
		t.Fatalf("expected token accounting, got %+v", snap.Results)
	}
	if snap.StartedAt == nil || snap.CompletedAt == nil {
		t.Fatalf("expected timestamps, got started=%v completed=%v", snap.StartedAt, snap.CompletedAt)
	}
	for _, item := range snap.Items {
		if item.Status != ItemCompleted {
			t.Fatalf("item %d not completed: %+v", item.Index, item)
		}
		if !strings.HasPrefix(item.TranslatedText, "[it] ") {
			t.Fatalf("item %d unexpected translation %q", item.Index, item.TranslatedText)
		}
		if item.Quality == nil {
			t.Fatalf("item %d missing quality result", item.Index)
		}
	}

	// Every provider translation is written through to memory.
	if unit := store.FindExact("New Game"); unit == nil || unit.TargetText != "[it] New Game" {
		t.Fatalf("memory write-through missing: %+v", unit)
	}
	if got := recorder.itemEvents(); got != len(texts) {
		t.Fatalf("unexpected item event count: got %d want %d", got, len(texts))
	}
}

func TestStart_MemoryHitsSkipProvider(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{translations: map[string]string{
		"Options":        "Opzioni",
		"{score} points": "{score} punti",
	}}
	orch, store := newTestOrchestrator(t, provider)

	_, err := store.Add(context.Background(), "Start Game", "Avvia Gioco", memory.AddOptions{Provider: "deepl", Confidence: 0.9})
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	job, err := orch.CreateJob("", []string{"Start Game", "Options", "{score} points"}, Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Progress.FromMemory != 1 || snap.Progress.Completed != 3 {
		t.Fatalf("unexpected progress: %+v", snap.Progress)
	}
	if snap.Results.FromMemory != 1 || snap.Results.Translated != 2 {
		t.Fatalf("unexpected results: %+v", snap.Results)
	}

	first := snap.Items[0]
	if !first.FromMemory || first.TranslatedText != "Avvia Gioco" {
		t.Fatalf("memory hit not applied: %+v", first)
	}
	for _, req := range provider.calls() {
		for _, text := range req.Texts {
			if text == "Start Game" {
				t.Fatalf("memory hit was sent to the provider anyway")
			}
		}
	}

	third := snap.Items[2]
	if third.Quality == nil {
		t.Fatalf("third item not scored: %+v", third)
	}
	if third.Quality.Metrics.PlaceholderMatch != 100 {
		t.Fatalf("unexpected placeholder metric: %+v", third.Quality.Metrics)
	}

	// The memory hit's usage counter moved.
	if unit := store.FindExact("Start Game"); unit == nil || unit.UsageCount < 1 {
		t.Fatalf("usage count not incremented: %+v", unit)
	}
}

func TestStart_RetryExhaustion(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{err: &gateway.RateLimitError{Provider: "mock"}}
	recorder := &eventRecorder{}
	naps := &sleepRecorder{}
	orch, _ := newTestOrchestrator(t, provider, WithObserver(recorder.record))
	orch.sleep = naps.sleep

	job, err := orch.CreateJob("doomed", []string{"One", "Two"}, Options{BatchSize: 2, MaxRetries: 2})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	// Item failures do not fail the job.
	if snap.Status != StatusCompleted {
		t.Fatalf("unexpected status: got %s want %s", snap.Status, StatusCompleted)
	}
	if snap.Progress.Failed != 2 || snap.Progress.Completed != 0 {
		t.Fatalf("unexpected progress: %+v", snap.Progress)
	}
	for _, item := range snap.Items {
		if item.Status != ItemFailed || item.Error == "" {
			t.Fatalf("item %d not failed with error: %+v", item.Index, item)
		}
	}

	// One chunk attempt, then per item: first attempt plus MaxRetries.
	if got := provider.singleTextCalls(); got != 2*(1+2) {
		t.Fatalf("unexpected per-item call count: got %d want 6", got)
	}
	if got := len(provider.calls()); got != 1+6 {
		t.Fatalf("unexpected total call count: got %d want 7", got)
	}

	// Rate limits raise the wait floor to at least 5s per failed attempt.
	if got := naps.longest(); got < 5*time.Second {
		t.Fatalf("rate limit floor not applied: longest wait %s", got)
	}
	if !recorder.sawRateLimited() {
		t.Fatalf("expected a rate-limited progress snapshot")
	}
	snapProgress := snap.Progress
	if snapProgress.IsRateLimited || snapProgress.StatusMessage != "" {
		t.Fatalf("rate limit flag not cleared: %+v", snapProgress)
	}
}

func TestStart_ChunkFailureFallsBackPerItem(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{
		err:       errors.New("payload too large"),
		failMulti: true,
	}
	orch, _ := newTestOrchestrator(t, provider)

	job, err := orch.CreateJob("fallback", []string{"Attack", "Defend", "Flee"}, Options{BatchSize: 3})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Status != StatusCompleted || snap.Progress.Completed != 3 {
		t.Fatalf("fallback did not complete items: %+v", snap.Progress)
	}
	if got := len(provider.calls()); got != 1+3 {
		t.Fatalf("unexpected call count: got %d want 4", got)
	}
	if got := provider.singleTextCalls(); got != 3 {
		t.Fatalf("unexpected single call count: got %d want 3", got)
	}
}

func TestStart_SkipsLowPriorityItems(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{}
	classifier := &stubClassifier{byText: map[string]classify.Classification{
		"v2.1.3-beta": {Type: classify.TypeSystem, Priority: classify.PriorityLow},
	}}
	orch, _ := newTestOrchestrator(t, provider, WithClassifier(classifier))

	job, err := orch.CreateJob("skips", []string{"Welcome back!", "v2.1.3-beta"}, Options{SkipLowPriority: true})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Progress.Skipped != 1 || snap.Progress.Completed != 1 {
		t.Fatalf("unexpected progress: %+v", snap.Progress)
	}
	if snap.Items[1].Status != ItemSkipped {
		t.Fatalf("low priority item not skipped: %+v", snap.Items[1])
	}
	for _, req := range provider.calls() {
		for _, text := range req.Texts {
			if text == "v2.1.3-beta" {
				t.Fatalf("skipped item was sent to the provider")
			}
		}
	}
}

func TestStart_ClassifierErrorFailsJob(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{}
	classifier := &stubClassifier{err: errors.New("model unavailable")}
	orch, _ := newTestOrchestrator(t, provider, WithClassifier(classifier))

	job, err := orch.CreateJob("broken", []string{"Hello"}, Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	err = orch.Start(context.Background(), job.ID)
	if err == nil {
		t.Fatalf("expected classifier failure to surface")
	}

	snap, jerr := orch.Job(job.ID)
	if jerr != nil {
		t.Fatalf("job snapshot: %v", jerr)
	}
	if snap.Status != StatusFailed || snap.Error == "" {
		t.Fatalf("unexpected job state: status=%s error=%q", snap.Status, snap.Error)
	}
}

func TestStart_QualityIssuesCollected(t *testing.T) {
	t.Parallel()

	// Dropping the placeholder caps the score at 60, under the default 70
	// threshold.
	provider := &scriptedProvider{translations: map[string]string{
		"Hello {name} friend": "Ciao amico",
	}}
	orch, _ := newTestOrchestrator(t, provider)

	job, err := orch.CreateJob("quality", []string{"Hello {name} friend"}, Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if len(snap.Results.QualityIssues) != 1 {
		t.Fatalf("unexpected quality issues: %+v", snap.Results.QualityIssues)
	}
	issue := snap.Results.QualityIssues[0]
	if issue.Index != 0 || issue.Score > 60 {
		t.Fatalf("unexpected issue: %+v", issue)
	}
	if snap.Results.AverageQualityScore == 0 || snap.Results.AverageQualityScore > 60 {
		t.Fatalf("unexpected average quality: %d", snap.Results.AverageQualityScore)
	}
}

func TestStart_SecondJobRejectedWhileRunning(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	entered := make(chan struct{})
	provider := &scriptedProvider{gate: gate, entered: entered}
	orch, _ := newTestOrchestrator(t, provider)

	first, err := orch.CreateJob("first", []string{"Hello"}, Options{})
	if err != nil {
		t.Fatalf("create first job: %v", err)
	}
	second, err := orch.CreateJob("second", []string{"World"}, Options{})
	if err != nil {
		t.Fatalf("create second job: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- orch.Start(context.Background(), first.ID)
	}()

	<-entered
	if err := orch.Start(context.Background(), second.ID); !errors.Is(err, ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first job: %v", err)
	}

	// With the slot free the second job runs normally.
	if err := orch.Start(context.Background(), second.ID); err != nil {
		t.Fatalf("second job after release: %v", err)
	}
	snap, err := orch.Job(second.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("unexpected status: got %s want %s", snap.Status, StatusCompleted)
	}
}

func TestStart_CancelKeepsRemainingPending(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	entered := make(chan struct{})
	provider := &scriptedProvider{gate: gate, entered: entered}
	orch, _ := newTestOrchestrator(t, provider)

	job, err := orch.CreateJob("cancelled", []string{"One", "Two", "Three"}, Options{BatchSize: 1, ParallelBatches: 1})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- orch.Start(context.Background(), job.ID)
	}()

	<-entered
	if err := orch.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("start returned error: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Status != StatusCancelled {
		t.Fatalf("unexpected status: got %s want %s", snap.Status, StatusCancelled)
	}
	// The in-flight chunk drains; nothing else is submitted.
	if snap.Progress.Completed != 1 {
		t.Fatalf("unexpected completed count: %+v", snap.Progress)
	}
	pending := 0
	for _, item := range snap.Items {
		if item.Status == ItemPending {
			pending++
		}
	}
	if pending != 2 {
		t.Fatalf("unexpected pending count: got %d want 2", pending)
	}
	if snap.CompletedAt == nil {
		t.Fatalf("cancelled job missing completion timestamp")
	}
}

func TestStart_PauseAndResumeTransitions(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{}
	recorder := &eventRecorder{}
	orch, _ := newTestOrchestrator(t, provider)

	job, err := orch.CreateJob("paused", []string{"Hello", "World"}, Options{BatchSize: 1, ParallelBatches: 1})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// Resume from inside the observer the moment the pause lands.
	orch.Notifier().Subscribe(recorder.record)
	orch.Notifier().Subscribe(func(e Event) {
		if se, ok := e.(StatusEvent); ok && se.To == StatusPaused {
			if err := orch.Resume(job.ID); err != nil {
				t.Errorf("resume: %v", err)
			}
		}
	})

	if err := orch.Pause(job.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := orch.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap, err := orch.Job(job.ID)
	if err != nil {
		t.Fatalf("job snapshot: %v", err)
	}
	if snap.Status != StatusCompleted || snap.Progress.Completed != 2 {
		t.Fatalf("unexpected final state: status=%s progress=%+v", snap.Status, snap.Progress)
	}

	transitions := recorder.statusTransitions()
	var sawPause, sawResume bool
	for _, tr := range transitions {
		if tr == "translating>paused" {
			sawPause = true
		}
		if tr == "paused>translating" {
			sawResume = true
		}
	}
	if !sawPause || !sawResume {
		t.Fatalf("missing pause transitions: %v", transitions)
	}
}

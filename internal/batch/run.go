package batch

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"loclab.gg/stringsmith/internal/classify"
	"loclab.gg/stringsmith/internal/confidence"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/globaltime"
	"loclab.gg/stringsmith/internal/memory"
)

const (
	retryBackoffBase  = time.Second
	sequentialDelay   = 250 * time.Millisecond
	pausePollInterval = 100 * time.Millisecond
)

// costPer1KTokens is the rough USD price per thousand tokens, by provider.
// Estimates only; local and mock providers are free.
var costPer1KTokens = map[string]float64{
	"deepl":          0.025,
	"google":         0.020,
	"libretranslate": 0,
	"openai":         0.002,
	"mock":           0,
}

// Start runs the job through every stage and blocks until it reaches a
// terminal status. Only one job may run at a time; a second call while one
// is active returns ErrJobActive. Individual item failures never fail the
// job; only a stage-level error (classifier failure, context cancellation)
// does.
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	job, ctl, err := o.claim(jobID)
	if err != nil {
		return err
	}
	defer o.release(job.ID)
	return o.newRun(job, ctl).execute(ctx)
}

// StartAsync claims the active slot like Start, then runs the job on its
// own goroutine. The returned error covers claiming only; run outcomes land
// on the job itself and in the event stream.
func (o *Orchestrator) StartAsync(ctx context.Context, jobID string) error {
	job, ctl, err := o.claim(jobID)
	if err != nil {
		return err
	}
	go func() {
		defer o.release(job.ID)
		// execute records failures on the job and logs them.
		_ = o.newRun(job, ctl).execute(ctx)
	}()
	return nil
}

func (o *Orchestrator) claim(jobID string) (*Job, *jobControl, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownJob
	}
	ctl, err := o.acquire(job)
	if err != nil {
		return nil, nil, err
	}
	return job, ctl, nil
}

func (o *Orchestrator) newRun(job *Job, ctl *jobControl) *jobRun {
	return &jobRun{
		o:          o,
		job:        job,
		ctl:        ctl,
		chunkDelay: job.Options.DelayBetweenBatches,
		logger:     o.logger.With().Str("job_id", job.ID).Logger(),
	}
}

// jobRun is the per-run mutable state. chunkDelay starts at the job's
// DelayBetweenBatches and only ever grows: every rate-limit event raises it
// by half for the remainder of the job.
type jobRun struct {
	o      *Orchestrator
	job    *Job
	ctl    *jobControl
	logger zerolog.Logger

	started    time.Time
	chunkDelay time.Duration
}

// provider is the job's resolved provider, fixed at creation time.
func (r *jobRun) provider() gateway.Provider {
	if r.ctl.provider != nil {
		return r.ctl.provider
	}
	return r.o.provider
}

func (r *jobRun) execute(ctx context.Context) error {
	r.started = globaltime.Now()
	startedAt := globaltime.UTC()
	r.job.mu.Lock()
	r.job.StartedAt = &startedAt
	r.job.mu.Unlock()

	r.setStatus(StatusClassifying)
	if err := r.classifyStage(ctx); err != nil {
		r.fail(err)
		return err
	}
	if r.finishIfCancelled() {
		return nil
	}

	r.setStatus(StatusTranslating)
	r.memoryStage()
	if r.finishIfCancelled() {
		return nil
	}

	if err := r.translateStage(ctx); err != nil {
		r.fail(err)
		return err
	}
	if r.finishIfCancelled() {
		return nil
	}

	if !r.job.Options.SkipValidation {
		r.setStatus(StatusValidating)
		r.validateStage(ctx)
		if r.finishIfCancelled() {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		r.fail(err)
		return err
	}

	r.finish(ctx)
	return nil
}

// classifyStage tags every item with a content type and priority. Low
// priority items are skipped outright when the job asks for that. The
// classifier never touches the network, so a failure here is a bug or a
// cancelled context and fails the whole job.
func (r *jobRun) classifyStage(ctx context.Context) error {
	if r.job.Options.SkipClassification {
		return nil
	}

	r.job.mu.Lock()
	texts := make([]string, len(r.job.Items))
	for i, item := range r.job.Items {
		texts[i] = item.SourceText
	}
	target := r.job.TargetLanguage
	skipLow := r.job.Options.SkipLowPriority
	r.job.mu.Unlock()

	classifications, err := r.o.classifier.ClassifyBatch(ctx, texts, classify.Hints{TargetLanguage: target})
	if err != nil {
		return fmt.Errorf("classify items: %w", err)
	}
	if len(classifications) != len(texts) {
		return fmt.Errorf("classify items: got %d classifications for %d texts", len(classifications), len(texts))
	}

	var skipped []*Item
	r.job.mu.Lock()
	for i, item := range r.job.Items {
		c := classifications[i]
		item.Classification = &c
		if skipLow && c.Priority == classify.PriorityLow {
			item.Status = ItemSkipped
			skipped = append(skipped, item)
		}
	}
	r.job.mu.Unlock()

	for _, item := range skipped {
		r.itemResolved(item)
	}
	if len(skipped) > 0 {
		r.logger.Info().Int("skipped", len(skipped)).Msg("skipped low priority items")
	}
	return nil
}

// memoryStage resolves exact memory hits before anything goes to the
// provider. Sequential and local; FromMemory is fully populated before the
// first chunk is built.
func (r *jobRun) memoryStage() {
	r.job.mu.Lock()
	pending := r.job.pendingItemsLocked()
	r.job.mu.Unlock()

	for _, item := range pending {
		if r.ctl.cancelled.Load() {
			return
		}
		unit := r.o.store.FindExact(item.SourceText)
		if unit == nil {
			continue
		}

		r.job.mu.Lock()
		item.TranslatedText = unit.TargetText
		item.FromMemory = true
		item.Status = ItemCompleted
		r.job.mu.Unlock()

		if err := r.o.store.IncrementUsage(unit.ID); err != nil {
			r.logger.Warn().Err(err).Str("unit_id", unit.ID).Msg("increment usage failed")
		}
		r.itemResolved(item)
	}
}

// translateStage pushes the remaining pending items through the provider in
// chunks. Up to ParallelBatches chunks are in flight at once; successive
// launches are paced by the (rate-limit adjusted) chunk delay.
func (r *jobRun) translateStage(ctx context.Context) error {
	r.job.mu.Lock()
	pending := r.job.pendingItemsLocked()
	opts := r.job.Options
	r.job.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	chunks := chunkItems(pending, opts.BatchSize)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.ParallelBatches)

	for i, chunk := range chunks {
		if ctx.Err() != nil || r.ctl.cancelled.Load() {
			break
		}
		r.waitWhilePaused(ctx, StatusTranslating)
		if ctx.Err() != nil || r.ctl.cancelled.Load() {
			break
		}
		if i > 0 {
			r.o.sleep(ctx, r.delayBetweenChunks())
		}

		chunk := chunk
		group.Go(func() error {
			r.translateChunk(gctx, chunk, opts)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// translateChunk tries one provider call for the whole chunk; on any chunk
// level failure it degrades to per-item calls with retry.
func (r *jobRun) translateChunk(ctx context.Context, chunk []*Item, opts Options) {
	if r.ctl.cancelled.Load() {
		return
	}

	r.job.mu.Lock()
	texts := make([]string, len(chunk))
	for i, item := range chunk {
		texts[i] = item.SourceText
		item.Status = ItemTranslating
	}
	r.job.mu.Unlock()
	r.setCurrentItem(chunk[0].SourceText)

	timeout := opts.TimeoutPerItem * time.Duration(len(chunk))
	cctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := r.provider().Translate(cctx, r.request(texts, opts))
	cancel()

	if err == nil && len(resp.Translations) != len(chunk) {
		err = &gateway.ProviderError{
			Provider: r.job.Provider,
			Message:  fmt.Sprintf("expected %d translations, got %d", len(chunk), len(resp.Translations)),
		}
	}
	// A drained chunk keeps its results even when cancellation arrived
	// while the call was in flight.
	if err == nil {
		for i, item := range chunk {
			r.completeItem(ctx, item, resp.Translations[i], opts)
		}
		return
	}

	r.noteFailure(err)
	r.logger.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("chunk translation failed, falling back to per-item calls")

	for i, item := range chunk {
		if ctx.Err() != nil || r.ctl.cancelled.Load() {
			r.resetToPending(chunk[i:])
			return
		}
		r.waitWhilePaused(ctx, StatusTranslating)
		if ctx.Err() != nil || r.ctl.cancelled.Load() {
			r.resetToPending(chunk[i:])
			return
		}
		if i > 0 {
			r.o.sleep(ctx, sequentialDelay)
		}
		r.translateItem(ctx, item, opts)
	}
}

// translateItem makes up to 1+MaxRetries attempts for one item, backing off
// exponentially between attempts. Rate limits raise the wait floor and
// permanently slow chunk pacing.
func (r *jobRun) translateItem(ctx context.Context, item *Item, opts Options) {
	r.setCurrentItem(item.SourceText)

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if r.ctl.cancelled.Load() {
			r.resetToPending([]*Item{item})
			return
		}
		if attempt > 0 {
			r.backoff(ctx, attempt-1, lastErr)
		}

		translation, err := r.attemptItem(ctx, item, opts)
		if err == nil {
			r.completeItem(ctx, item, translation, opts)
			return
		}
		lastErr = err
		r.noteFailure(err)
		r.logger.Warn().Err(err).Int("attempt", attempt+1).Str("item_id", item.ID).Msg("item translation failed")
	}

	r.job.mu.Lock()
	item.Status = ItemFailed
	if lastErr != nil {
		item.Error = lastErr.Error()
	}
	r.job.mu.Unlock()
	r.itemResolved(item)
}

func (r *jobRun) attemptItem(ctx context.Context, item *Item, opts Options) (gateway.Translation, error) {
	cctx, cancel := context.WithTimeout(ctx, opts.TimeoutPerItem)
	defer cancel()

	resp, err := r.provider().Translate(cctx, r.request([]string{item.SourceText}, opts))
	if err != nil {
		return gateway.Translation{}, err
	}
	if len(resp.Translations) != 1 {
		return gateway.Translation{}, &gateway.ProviderError{
			Provider: r.job.Provider,
			Message:  fmt.Sprintf("expected 1 translation, got %d", len(resp.Translations)),
		}
	}
	return resp.Translations[0], nil
}

func (r *jobRun) request(texts []string, opts Options) *gateway.Request {
	return &gateway.Request{
		Texts:          texts,
		SourceLanguage: r.job.SourceLanguage,
		TargetLanguage: r.job.TargetLanguage,
		Provider:       r.job.Provider,
		Context:        opts.Context,
	}
}

// completeItem records a provider translation: the item completes, token
// and cost estimates accumulate, and the pair is written through to memory.
func (r *jobRun) completeItem(ctx context.Context, item *Item, translation gateway.Translation, opts Options) {
	tokens := estimateTokens(item.SourceText)

	r.job.mu.Lock()
	item.TranslatedText = translation.Translated
	item.Status = ItemCompleted
	r.job.Results.TokensUsed += tokens
	r.job.Results.EstimatedCost += float64(tokens) / 1000 * costPer1KTokens[r.job.Provider]
	r.job.mu.Unlock()

	_, err := r.o.store.Add(ctx, item.SourceText, translation.Translated, memory.AddOptions{
		Context:    opts.Context,
		Provider:   r.job.Provider,
		Confidence: translation.Confidence,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("item_id", item.ID).Msg("memory write-through failed")
	}
	r.itemResolved(item)
}

// validateStage scores every completed item and collects the ones under the
// job's quality threshold.
func (r *jobRun) validateStage(ctx context.Context) {
	r.job.mu.Lock()
	opts := r.job.Options
	items := make([]*Item, len(r.job.Items))
	copy(items, r.job.Items)
	sctx := &confidence.Context{
		SourceLanguage: r.job.SourceLanguage,
		TargetLanguage: r.job.TargetLanguage,
		Glossary:       opts.Glossary,
	}
	r.job.mu.Unlock()

	sum, scored := 0, 0
	for _, item := range items {
		if ctx.Err() != nil || r.ctl.cancelled.Load() {
			return
		}
		r.waitWhilePaused(ctx, StatusValidating)

		r.job.mu.Lock()
		eligible := item.Status == ItemCompleted && item.TranslatedText != ""
		source, translated := item.SourceText, item.TranslatedText
		limit := item.characterLimit()
		r.job.mu.Unlock()
		if !eligible {
			continue
		}

		itemCtx := *sctx
		itemCtx.CharacterLimit = limit
		result := r.o.scorer.Calculate(source, translated, &itemCtx)

		r.job.mu.Lock()
		item.Quality = &result
		sum += result.Score
		scored++
		if result.Score < opts.QualityThreshold {
			r.job.Results.QualityIssues = append(r.job.Results.QualityIssues, QualityIssue{
				ItemID:     item.ID,
				Index:      item.Index,
				SourceText: item.SourceText,
				Score:      result.Score,
				Level:      string(result.Level),
			})
		}
		r.job.mu.Unlock()
	}

	if scored > 0 {
		r.job.mu.Lock()
		r.job.Results.AverageQualityScore = int(math.Round(float64(sum) / float64(scored)))
		r.job.mu.Unlock()
	}
}

// finish closes out a fully processed job. Item failures leave the job
// completed; the counts tell the caller what happened.
func (r *jobRun) finish(ctx context.Context) {
	if err := r.o.store.Save(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("memory save failed")
	}

	r.job.mu.Lock()
	r.tallyLocked()
	r.job.Progress.CurrentItem = ""
	r.job.Progress.StatusMessage = ""
	r.job.Progress.IsRateLimited = false
	results := r.job.Results
	r.job.mu.Unlock()

	r.setStatus(StatusCompleted)
	r.closeOut()
	r.logger.Info().
		Int("translated", results.Translated).
		Int("from_memory", results.FromMemory).
		Int("failed", results.Failed).
		Int("skipped", results.Skipped).
		Msg("job completed")
}

func (r *jobRun) fail(err error) {
	r.job.mu.Lock()
	r.tallyLocked()
	r.job.Error = err.Error()
	r.job.mu.Unlock()

	r.setStatus(StatusFailed)
	r.closeOut()
	r.logger.Error().Err(err).Msg("job failed")
}

// finishIfCancelled moves the job to cancelled when the flag is set.
// Unprocessed items stay pending.
func (r *jobRun) finishIfCancelled() bool {
	if !r.ctl.cancelled.Load() {
		return false
	}

	r.job.mu.Lock()
	r.tallyLocked()
	r.job.Progress.CurrentItem = ""
	r.job.Progress.StatusMessage = ""
	r.job.Progress.IsRateLimited = false
	r.job.mu.Unlock()

	r.setStatus(StatusCancelled)
	r.closeOut()
	r.logger.Info().Msg("job cancelled")
	return true
}

// closeOut stamps the completion time, persists the final row, and
// publishes the final progress snapshot.
func (r *jobRun) closeOut() {
	completedAt := globaltime.UTC()
	r.job.mu.Lock()
	r.job.CompletedAt = &completedAt
	r.recomputeProgressLocked()
	progress := r.job.Progress
	r.job.mu.Unlock()

	r.o.persistJob(context.Background(), r.job)
	r.o.notifier.publish(ProgressEvent{JobID: r.job.ID, Progress: progress})
}

// tallyLocked folds item statuses into Results. Caller holds job.mu.
func (r *jobRun) tallyLocked() {
	translated, fromMemory, failed, skipped := 0, 0, 0, 0
	for _, item := range r.job.Items {
		switch item.Status {
		case ItemCompleted:
			if item.FromMemory {
				fromMemory++
			} else {
				translated++
			}
		case ItemFailed:
			failed++
		case ItemSkipped:
			skipped++
		}
	}
	r.job.Results.Translated = translated
	r.job.Results.FromMemory = fromMemory
	r.job.Results.Failed = failed
	r.job.Results.Skipped = skipped
}

// setStatus transitions the job and announces it. No-op when already there.
func (r *jobRun) setStatus(to Status) {
	r.job.mu.Lock()
	from := r.job.Status
	if from == to {
		r.job.mu.Unlock()
		return
	}
	r.job.Status = to
	r.job.mu.Unlock()

	r.o.notifier.publish(StatusEvent{JobID: r.job.ID, From: from, To: to})
	r.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("job status")
}

// waitWhilePaused parks the runner while the pause flag is up. Cancellation
// and context expiry both break the wait.
func (r *jobRun) waitWhilePaused(ctx context.Context, resumeTo Status) {
	if !r.ctl.paused.Load() {
		return
	}
	r.setStatus(StatusPaused)
	for r.ctl.paused.Load() {
		if ctx.Err() != nil || r.ctl.cancelled.Load() {
			return
		}
		r.o.sleep(ctx, pausePollInterval)
	}
	if ctx.Err() == nil && !r.ctl.cancelled.Load() {
		r.setStatus(resumeTo)
	}
}

// backoff sleeps before retry number retries+1. Base 1s, doubling. A rate
// limit raises the floor to max(2*delay, 5s*(attempts so far)) and honors
// any Retry-After the provider sent, surfacing the wait in progress.
func (r *jobRun) backoff(ctx context.Context, retries int, cause error) {
	delay := retryBackoffBase * time.Duration(math.Pow(2, float64(retries)))

	limited := gateway.IsRateLimit(cause)
	if limited {
		floor := time.Duration(retries+1) * 5000 * time.Millisecond
		if doubled := delay * 2; doubled > floor {
			floor = doubled
		}
		delay = floor
		if hint := gateway.RetryAfter(cause); hint > delay {
			delay = hint
		}

		r.job.mu.Lock()
		r.job.Progress.IsRateLimited = true
		r.job.Progress.StatusMessage = fmt.Sprintf("rate limited by %s, retrying in %s", r.job.Provider, delay.Round(time.Second))
		progress := r.job.Progress
		r.job.mu.Unlock()
		r.o.notifier.publish(ProgressEvent{JobID: r.job.ID, Progress: progress})
	}

	r.o.sleep(ctx, delay)

	if limited {
		r.job.mu.Lock()
		r.job.Progress.IsRateLimited = false
		r.job.Progress.StatusMessage = ""
		progress := r.job.Progress
		r.job.mu.Unlock()
		r.o.notifier.publish(ProgressEvent{JobID: r.job.ID, Progress: progress})
	}
}

// noteFailure folds a translation error into run-wide pacing: every rate
// limit slows subsequent chunk launches by half, permanently for this job.
func (r *jobRun) noteFailure(err error) {
	if !gateway.IsRateLimit(err) {
		return
	}
	r.job.mu.Lock()
	r.chunkDelay += r.chunkDelay / 2
	delay := r.chunkDelay
	r.job.mu.Unlock()
	r.logger.Warn().Dur("chunk_delay", delay).Msg("rate limited, slowing chunk pacing")
}

func (r *jobRun) delayBetweenChunks() time.Duration {
	r.job.mu.Lock()
	defer r.job.mu.Unlock()
	return r.chunkDelay
}

func (r *jobRun) resetToPending(items []*Item) {
	r.job.mu.Lock()
	for _, item := range items {
		if item.Status == ItemTranslating {
			item.Status = ItemPending
		}
	}
	r.job.mu.Unlock()
}

func (r *jobRun) setCurrentItem(text string) {
	r.job.mu.Lock()
	r.job.Progress.CurrentItem = text
	progress := r.job.Progress
	r.job.mu.Unlock()
	r.o.notifier.publish(ProgressEvent{JobID: r.job.ID, Progress: progress})
}

// itemResolved recomputes progress after a terminal item transition and
// publishes both the item and the fresh snapshot.
func (r *jobRun) itemResolved(item *Item) {
	r.job.mu.Lock()
	r.recomputeProgressLocked()
	itemCopy := *item
	progress := r.job.Progress
	r.job.mu.Unlock()

	r.o.notifier.publish(ItemEvent{JobID: r.job.ID, Item: itemCopy})
	r.o.notifier.publish(ProgressEvent{JobID: r.job.ID, Progress: progress})
}

// recomputeProgressLocked rebuilds the counters from item statuses. ETA is
// remaining work times the average time per completion, zero until the
// first item completes. Caller holds job.mu.
func (r *jobRun) recomputeProgressLocked() {
	p := &r.job.Progress
	p.Total = len(r.job.Items)
	p.Completed, p.Failed, p.Skipped, p.FromMemory = 0, 0, 0, 0
	for _, item := range r.job.Items {
		switch item.Status {
		case ItemCompleted:
			p.Completed++
		case ItemFailed:
			p.Failed++
		case ItemSkipped:
			p.Skipped++
		}
		if item.FromMemory {
			p.FromMemory++
		}
	}

	resolved := p.Completed + p.Failed + p.Skipped
	if p.Total > 0 {
		p.Percentage = resolved * 100 / p.Total
	}
	if p.Completed > 0 && !r.started.IsZero() {
		elapsed := globaltime.Since(r.started)
		p.EstimatedTimeRemaining = time.Duration(p.Total-resolved) * (elapsed / time.Duration(p.Completed))
	} else {
		p.EstimatedTimeRemaining = 0
	}
}

// chunkItems slices items into groups of at most size, preserving order.
func chunkItems(items []*Item, size int) [][]*Item {
	if size <= 0 {
		size = 1
	}
	var chunks [][]*Item
	for len(items) > size {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

// estimateTokens approximates provider token usage at four characters per
// token, the usual rule of thumb for latin-script text.
func estimateTokens(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"loclab.gg/stringsmith/internal/batch"
	"loclab.gg/stringsmith/internal/db"
	"loclab.gg/stringsmith/internal/export"
	payloadschema "loclab.gg/stringsmith/schema"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

// jobSummary is the list-view shape shared by live registry jobs and
// history rows. History rows carry no live progress.
type jobSummary struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	SourceLanguage string          `json:"sourceLanguage"`
	TargetLanguage string          `json:"targetLanguage"`
	Provider       string          `json:"provider"`
	Status         string          `json:"status"`
	TotalItems     int             `json:"totalItems"`
	Progress       *batch.Progress `json:"progress,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

type jobHistoryDetail struct {
	jobSummary
	Results json.RawMessage `json:"results,omitempty"`
}

func (s *Server) handleSubmitJob(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}

	submission, err := payloadschema.ValidateJobSubmission(payload)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	orch, err := s.orchestrator(c.Request().Context(), submission.SourceLanguage, submission.TargetLanguage)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	inputs := make([]batch.Input, len(submission.Items))
	for i, item := range submission.Items {
		input := batch.Input{Text: item.Text}
		if item.Key != "" || item.CharacterLimit > 0 {
			input.Metadata = make(map[string]string, 2)
			if item.Key != "" {
				input.Metadata["key"] = item.Key
			}
			if item.CharacterLimit > 0 {
				input.Metadata["character_limit"] = strconv.Itoa(item.CharacterLimit)
			}
		}
		inputs[i] = input
	}

	job, err := orch.CreateJobInputs(submission.Name, inputs, jobOptions(submission))
	if err != nil {
		return failValidation(c, map[string]string{"job": err.Error()})
	}

	if err := orch.StartAsync(s.jobContext(), job.ID); err != nil {
		if errors.Is(err, batch.ErrJobActive) {
			return fail(c, http.StatusConflict, "Another job is already running for this language pair", nil)
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("start job failed")
		return internalError(c, "Failed to start job")
	}

	return accepted(c, job.Snapshot())
}

// jobOptions maps validated submission options onto orchestrator options.
// An explicit max_retries of 0 becomes the orchestrator's -1 "no retries".
func jobOptions(submission *payloadschema.JobSubmission) batch.Options {
	opts := batch.Options{Provider: submission.Provider}
	so := submission.Options
	if so == nil {
		return opts
	}

	opts.BatchSize = so.BatchSize
	opts.ParallelBatches = so.ParallelBatches
	if so.MaxRetries != nil {
		if *so.MaxRetries == 0 {
			opts.MaxRetries = -1
		} else {
			opts.MaxRetries = *so.MaxRetries
		}
	}
	opts.TimeoutPerItem = time.Duration(so.TimeoutPerItemMS) * time.Millisecond
	opts.DelayBetweenBatches = time.Duration(so.DelayBetweenBatchesMS) * time.Millisecond
	opts.QualityThreshold = so.QualityThreshold
	opts.SkipLowPriority = so.SkipLowPriority
	opts.SkipValidation = so.SkipValidation
	opts.Context = so.Context
	opts.Glossary = so.Glossary
	return opts
}

func (s *Server) handleListJobs(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultJobListLimit, 1, maxJobListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	live := s.liveJobs()
	seen := make(map[string]struct{}, len(live))
	items := make([]jobSummary, 0, len(live))
	for _, job := range live {
		seen[job.ID] = struct{}{}
		items = append(items, summarizeJob(job))
	}

	if s.pool != nil {
		records, err := s.pool.ListJobs(c.Request().Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("list job history failed")
			return internalError(c, "Failed to load job history")
		}
		for _, record := range records {
			if _, ok := seen[record.JobUUID]; ok {
				continue
			}
			items = append(items, summarizeRecord(record))
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}

func (s *Server) handleJobDetail(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	if _, job, ok := s.findJob(jobID); ok {
		return success(c, job)
	}

	if s.pool != nil {
		record, err := s.pool.GetJob(c.Request().Context(), jobID)
		if err == nil {
			return success(c, jobHistoryDetail{
				jobSummary: summarizeRecord(record),
				Results:    record.Results,
			})
		}
		if !db.IsNoRows(err) {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("load job history failed")
			return internalError(c, "Failed to load job")
		}
	}

	return failNotFound(c, "Job not found")
}

func (s *Server) handleJobItems(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	statusFilter := strings.TrimSpace(strings.ToLower(c.QueryParam("status")))
	if statusFilter != "" && !validItemStatus(statusFilter) {
		return failValidation(c, map[string]string{
			"status": "must be one of pending, translating, completed, failed, skipped",
		})
	}

	_, job, ok := s.findJob(jobID)
	if !ok {
		return failNotFound(c, "Job not found")
	}

	items := make([]*batch.Item, 0, len(job.Items))
	for _, item := range job.Items {
		if statusFilter == "" || string(item.Status) == statusFilter {
			items = append(items, item)
		}
	}

	return success(c, map[string]any{
		"jobId": job.ID,
		"items": items,
		"total": len(items),
	})
}

func validItemStatus(raw string) bool {
	switch batch.ItemStatus(raw) {
	case batch.ItemPending, batch.ItemTranslating, batch.ItemCompleted, batch.ItemFailed, batch.ItemSkipped:
		return true
	default:
		return false
	}
}

func (s *Server) handlePauseJob(c echo.Context) error {
	return s.controlJob(c, "pause")
}

func (s *Server) handleResumeJob(c echo.Context) error {
	return s.controlJob(c, "resume")
}

func (s *Server) handleCancelJob(c echo.Context) error {
	return s.controlJob(c, "cancel")
}

func (s *Server) controlJob(c echo.Context, action string) error {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	orch, _, ok := s.findJob(jobID)
	if !ok {
		return failNotFound(c, "Job not found")
	}

	var err error
	switch action {
	case "pause":
		err = orch.Pause(jobID)
	case "resume":
		err = orch.Resume(jobID)
	case "cancel":
		err = orch.Cancel(jobID)
	default:
		return internalError(c, "Unknown job action")
	}
	if err != nil {
		if errors.Is(err, batch.ErrUnknownJob) {
			return failNotFound(c, "Job not found")
		}
		return fail(c, http.StatusConflict, err.Error(), nil)
	}

	job, err := orch.Job(jobID)
	if err != nil {
		return failNotFound(c, "Job not found")
	}
	return success(c, job)
}

func (s *Server) handleExportJob(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	rawFormat := strings.TrimSpace(c.QueryParam("format"))
	if rawFormat == "" {
		rawFormat = "json"
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return failValidation(c, map[string]string{"format": err.Error()})
	}

	_, job, ok := s.findJob(jobID)
	if !ok {
		return failNotFound(c, "Job not found")
	}

	payload, err := export.Render(job, format)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Str("format", string(format)).Msg("render job export failed")
		return internalError(c, "Failed to export job")
	}

	filename := fmt.Sprintf("job-%s%s", job.ID, format.Extension())
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, format.ContentType(), payload)
}

func summarizeJob(job batch.Job) jobSummary {
	progress := job.Progress
	return jobSummary{
		ID:             job.ID,
		Name:           job.Name,
		SourceLanguage: job.SourceLanguage,
		TargetLanguage: job.TargetLanguage,
		Provider:       job.Provider,
		Status:         string(job.Status),
		TotalItems:     len(job.Items),
		Progress:       &progress,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

func summarizeRecord(record db.JobRecord) jobSummary {
	summary := jobSummary{
		ID:             record.JobUUID,
		Name:           record.Name,
		SourceLanguage: record.SourceLang,
		TargetLanguage: record.TargetLang,
		Provider:       record.Provider,
		Status:         record.Status,
		TotalItems:     record.TotalItems,
		CreatedAt:      record.CreatedAt,
		StartedAt:      record.StartedAt,
		CompletedAt:    record.CompletedAt,
	}
	if record.ErrorMessage != nil {
		summary.Error = *record.ErrorMessage
	}
	return summary
}

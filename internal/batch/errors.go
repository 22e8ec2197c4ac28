package batch

import "errors"

var (
	// ErrNoItems rejects job creation with an empty input set.
	ErrNoItems = errors.New("batch: job has no items")
	// ErrUnknownJob is returned by controls and lookups for absent job IDs.
	ErrUnknownJob = errors.New("batch: unknown job")
	// ErrJobActive is returned when a second job is started while one is
	// still running. Jobs do not queue.
	ErrJobActive = errors.New("batch: another job is already running")
	// ErrJobNotPending is returned when starting a job that already ran.
	ErrJobNotPending = errors.New("batch: job is not pending")
)

package batch

import "sync"

// Event is anything the orchestrator publishes about a job.
type Event interface {
	EventJobID() string
}

// ProgressEvent carries a progress snapshot after an item or chunk
// resolves.
type ProgressEvent struct {
	JobID    string
	Progress Progress
}

func (e ProgressEvent) EventJobID() string { return e.JobID }

// ItemEvent announces a terminal item transition (completed, failed or
// skipped).
type ItemEvent struct {
	JobID string
	Item  Item
}

func (e ItemEvent) EventJobID() string { return e.JobID }

// StatusEvent announces a job status transition.
type StatusEvent struct {
	JobID string
	From  Status
	To    Status
}

func (e StatusEvent) EventJobID() string { return e.JobID }

// Notifier fans events out to observers, synchronously and in subscription
// order. A zero Notifier is ready to use.
type Notifier struct {
	mu        sync.Mutex
	observers []func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers an observer for all subsequent events.
func (n *Notifier) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, fn)
}

func (n *Notifier) publish(event Event) {
	n.mu.Lock()
	observers := make([]func(Event), len(n.observers))
	copy(observers, n.observers)
	n.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}

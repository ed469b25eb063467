package timer

import (
	"fmt"
)

// ID identifies a registered callback. Registering an ID that is already
// active replaces the previous entry.
type ID string

// Handle refers to one registration. It goes stale when its ID is removed or
// registered again.
type Handle struct {
	id  ID
	gen uint64
}

func (h Handle) ID() ID { return h.id }

// IsZero reports whether h was returned by a registration that did not
// create an entry (non-positive interval).
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	if h.IsZero() {
		return "timer.Handle(none)"
	}
	return fmt.Sprintf("timer.Handle(%s#%d)", h.id, h.gen)
}

// Func is a timer callback. A non-nil error (or a panic) removes the entry.
type Func func() (Result, error)

// Option configures an entry at registration.
type Option func(*entry)

// WithCancelHook sets a hook run once by NotifyExternalCancelEvent. The entry
// is removed after the hook returns.
func WithCancelHook(fn func()) Option {
	return func(e *entry) { e.onCancel = fn }
}

// WithMaxIterations removes the entry after it has fired n times.
// n <= 0 means unlimited.
func WithMaxIterations(n int) Option {
	return func(e *entry) {
		if n < 0 {
			n = 0
		}
		e.maxIterations = n
	}
}

type entry struct {
	id  ID
	fn  Func
	seq uint64 // registration order; also the handle generation

	intervalMs int64
	nextDueMs  int64
	startMs    int64

	onCancel  func()
	cancelled bool

	maxIterations int
	fired         int
}

func (e *entry) handle() Handle { return Handle{id: e.id, gen: e.seq} }

func (e *entry) info(nowMs int64) EntryInfo {
	return EntryInfo{
		ID:            e.id,
		IntervalMs:    e.intervalMs,
		DueInMs:       e.nextDueMs - nowMs,
		NextRelMs:     e.nextDueMs - e.startMs,
		Fired:         e.fired,
		MaxIterations: e.maxIterations,
		CancelHook:    e.onCancel != nil,
	}
}

// EntryInfo is a diagnostic view of one entry.
type EntryInfo struct {
	ID         ID    `json:"id"`
	IntervalMs int64 `json:"interval_ms"`
	// DueInMs is the time until the next fire; negative when overdue.
	DueInMs int64 `json:"due_in_ms"`
	// NextRelMs is the next due time relative to when the entry was registered.
	NextRelMs     int64 `json:"next_rel_ms"`
	Fired         int   `json:"fired"`
	MaxIterations int   `json:"max_iterations,omitempty"`
	CancelHook    bool  `json:"cancel_hook"`
}

func (i EntryInfo) String() string {
	return fmt.Sprintf("%s interval=%dms next(rel)=%dms due_in=%dms fired=%d", i.ID, i.IntervalMs, i.NextRelMs, i.DueInMs, i.Fired)
}

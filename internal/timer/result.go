package timer

import (
	"fmt"
)

type resultKind int

const (
	resultContinue resultKind = iota
	resultReschedule
	resultStop
)

// Result tells the Scheduler what to do with an entry after its callback ran.
// The zero value is Continue.
type Result struct {
	kind       resultKind
	intervalMs int64
}

// Continue keeps the current interval.
func Continue() Result { return Result{} }

// Reschedule switches the entry to a new interval from now on. A non-positive
// interval is treated as Stop.
func Reschedule(intervalMs int64) Result {
	if intervalMs <= 0 {
		return Stop()
	}
	return Result{kind: resultReschedule, intervalMs: intervalMs}
}

// Stop removes the entry.
func Stop() Result { return Result{kind: resultStop} }

func (r Result) String() string {
	switch r.kind {
	case resultReschedule:
		return fmt.Sprintf("reschedule(%dms)", r.intervalMs)
	case resultStop:
		return "stop"
	default:
		return "continue"
	}
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("timer callback panicked: %v", e.Value) }

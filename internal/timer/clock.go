package timer

import (
	"sync"
	"time"
)

// Clock is a monotonic millisecond time source.
type Clock interface {
	NowMs() int64
}

// Primitive is a single-slot wake-up facility. Arm replaces any wake-up that
// is already pending; Disarm cancels it. Firing must end up calling
// Scheduler.Dispatch on the scheduler's goroutine.
type Primitive interface {
	Arm(delayMs int64)
	Disarm()
}

// SystemClock reports milliseconds elapsed since it was created, using the
// monotonic clock reading.
type SystemClock struct {
	epoch time.Time
}

func NewSystemClock() *SystemClock { return &SystemClock{epoch: time.Now()} }

func (c *SystemClock) NowMs() int64 { return time.Since(c.epoch).Milliseconds() }

// afterFunc is a Primitive backed by time.AfterFunc. The fire callback runs
// on the timer's goroutine and receives the generation it was armed with, so
// the receiver can drop wake-ups that were replaced or cancelled meanwhile.
type afterFunc struct {
	mu   sync.Mutex
	t    *time.Timer
	gen  uint64
	fire func(gen uint64)
}

func newAfterFunc(fire func(gen uint64)) *afterFunc {
	return &afterFunc{fire: fire}
}

func (a *afterFunc) Arm(delayMs int64) {
	if delayMs < 0 {
		delayMs = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
	}
	a.gen++
	gen := a.gen
	a.t = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() { a.fire(gen) })
}

func (a *afterFunc) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
		a.t = nil
	}
	a.gen++
}

// current reports whether gen is still the armed wake-up.
func (a *afterFunc) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t != nil && a.gen == gen
}

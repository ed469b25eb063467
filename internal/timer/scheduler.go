package timer

import (
	"errors"
	"math"
	"runtime/debug"
	"sort"
	"time"

	logx "timermux/pkg/logx"
)

// DefaultMinIntervalMs is the interval floor used when Config leaves it unset.
const DefaultMinIntervalMs = 50

// Config controls a Scheduler.
type Config struct {
	// MinIntervalMs floors every interval and the re-arm delay.
	MinIntervalMs int64
	// Debug enables a per-cycle trace at debug level.
	Debug bool
}

// Scheduler multiplexes periodic callbacks onto a single Primitive.
// See the package documentation for the concurrency contract.
type Scheduler struct {
	clock Clock
	prim  Primitive
	log   logx.Logger

	minIntervalMs int64
	toleranceMs   int64
	debug         bool

	entries map[ID]*entry
	seq     uint64

	inDispatch bool
	// pending holds removals requested during dispatch. The value is the
	// entry the removal was aimed at, so a re-registration of the same ID in
	// the same cycle survives the drain.
	pending map[ID]*entry
	// firing is the entry whose callback is running.
	firing *entry

	armed      bool
	armedDueMs int64

	tuneWarn *logx.Sometimes
}

// New builds a Scheduler. Nothing is armed until the first registration.
func New(cfg Config, clock Clock, prim Primitive, log logx.Logger) *Scheduler {
	minMs := cfg.MinIntervalMs
	if minMs <= 0 {
		minMs = DefaultMinIntervalMs
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Scheduler{
		clock:         clock,
		prim:          prim,
		log:           log,
		minIntervalMs: minMs,
		toleranceMs:   min(10, minMs/4),
		debug:         cfg.Debug,
		entries:       map[ID]*entry{},
		pending:       map[ID]*entry{},
		tuneWarn:      logx.NewSometimes(10 * time.Second),
	}
}

// MinIntervalMs returns the interval floor.
func (s *Scheduler) MinIntervalMs() int64 { return s.minIntervalMs }

// ToleranceMs returns how early an entry may fire.
func (s *Scheduler) ToleranceMs() int64 { return s.toleranceMs }

// SetDebug toggles the per-cycle trace.
func (s *Scheduler) SetDebug(on bool) { s.debug = on }

// Status returns the number of active entries. A nil Scheduler reports 0.
func (s *Scheduler) Status() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Active reports whether id has a live entry.
func (s *Scheduler) Active(id ID) bool {
	if s == nil {
		return false
	}
	return s.live(id) != nil
}

// Register creates or replaces the entry for id. A non-positive interval (or
// a nil fn) is the same as Remove(id) and returns the zero Handle.
func (s *Scheduler) Register(id ID, intervalMs int64, fn Func, opts ...Option) Handle {
	if intervalMs <= 0 || fn == nil {
		s.Remove(id)
		return Handle{}
	}
	now := s.clock.NowMs()
	s.seq++
	e := &entry{
		id:         id,
		fn:         fn,
		seq:        s.seq,
		intervalMs: s.floor(intervalMs),
		startMs:    now,
	}
	e.nextDueMs = now + e.intervalMs
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	s.entries[id] = e

	if s.debug {
		s.log.Debug("timer registered", logx.String("id", string(id)), logx.Int64("interval_ms", e.intervalMs), logx.Int64("now", now))
	}
	// During dispatch the end of the cycle re-arms for the soonest entry.
	if !s.inDispatch && (!s.armed || e.nextDueMs < s.armedDueMs) {
		s.arm(now, e.intervalMs)
	}
	return e.handle()
}

// Upsert updates a live entry in place or registers a new one, then runs a
// dispatch check. Options are applied to an existing entry as well; a nil fn
// keeps the existing callback.
func (s *Scheduler) Upsert(id ID, intervalMs int64, fn Func, opts ...Option) Handle {
	if intervalMs <= 0 {
		s.Remove(id)
		return Handle{}
	}
	if e := s.live(id); e != nil {
		for _, o := range opts {
			if o != nil {
				o(e)
			}
		}
		if fn != nil {
			e.fn = fn
		}
		h := e.handle()
		s.SetInterval(h, intervalMs)
		return h
	}
	h := s.Register(id, intervalMs, fn, opts...)
	if !h.IsZero() && !s.inDispatch {
		s.Dispatch()
	}
	return h
}

// SetInterval changes an entry's period while keeping its phase: the next due
// time moves by the difference between the new and old interval. A
// non-positive interval removes the entry. Stale handles are ignored.
//
// Called from the entry's own callback, only the period changes: the entry
// is re-armed one new interval after the tick that is firing.
func (s *Scheduler) SetInterval(h Handle, intervalMs int64) {
	e := s.lookup(h)
	if e == nil {
		return
	}
	if intervalMs <= 0 {
		s.Remove(e.id)
		return
	}
	n := s.floor(intervalMs)
	if e != s.firing {
		e.nextDueMs += n - e.intervalMs
	}
	e.intervalMs = n

	if s.debug {
		s.log.Debug("timer interval changed", logx.String("id", string(e.id)), logx.Int64("interval_ms", n), logx.Int64("next_rel_ms", e.nextDueMs-e.startMs))
	}
	if s.inDispatch {
		return
	}
	if !s.armed || e.nextDueMs < s.armedDueMs {
		s.Dispatch()
	}
}

// Remove drops the entry for id. Inside a dispatch cycle the removal is
// deferred until the cycle ends.
func (s *Scheduler) Remove(id ID) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if s.inDispatch {
		s.pending[id] = e
		return
	}
	s.unlink(e)
	if s.debug {
		s.log.Debug("timer removed", logx.String("id", string(id)))
	}
	if len(s.entries) == 0 {
		s.disarm()
	}
}

// NotifyExternalCancelEvent runs every cancel hook once, in registration
// order, and removes the hooked entries.
func (s *Scheduler) NotifyExternalCancelEvent() {
	hooked := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.onCancel != nil && !e.cancelled {
			hooked = append(hooked, e)
		}
	}
	if len(hooked) == 0 {
		if s.debug {
			s.log.Debug("external cancel: no hooked timers")
		}
		return
	}
	sort.Slice(hooked, func(i, j int) bool { return hooked[i].seq < hooked[j].seq })

	for _, e := range hooked {
		e.cancelled = true
		s.runHook(e)
		// The hook may already have removed or replaced the entry.
		if s.entries[e.id] == e {
			s.Remove(e.id)
		}
	}
	s.log.Debug("external cancel handled", logx.Int("cancelled", len(hooked)), logx.Int("remaining", len(s.entries)))
}

// Snapshot lists the active entries by due time.
func (s *Scheduler) Snapshot() []EntryInfo {
	if s == nil {
		return nil
	}
	now := s.clock.NowMs()
	order := s.ordered()
	out := make([]EntryInfo, 0, len(order))
	for _, e := range order {
		out = append(out, e.info(now))
	}
	return out
}

// Close drops every entry without running hooks and disarms the primitive.
func (s *Scheduler) Close() {
	clear(s.entries)
	clear(s.pending)
	s.disarm()
}

// Dispatch runs every due callback and re-arms for the next one. It is the
// Primitive's fire entry point. Calling it while a dispatch is running is a
// no-op.
func (s *Scheduler) Dispatch() {
	if s.inDispatch {
		return
	}
	s.inDispatch = true
	var done []*entry
	defer s.settle(&done)

	now := s.clock.NowMs()
	if s.debug {
		s.log.Debug("dispatch start", logx.Int64("now", now), logx.Int("timers", len(s.entries)))
	}
	for _, e := range s.ordered() {
		if s.entries[e.id] != e || s.pending[e.id] == e {
			continue
		}
		now = s.clock.NowMs()
		if e.nextDueMs > now+s.toleranceMs {
			if s.debug {
				s.log.Trace("timer not due", logx.String("id", string(e.id)), logx.Int64("due_in_ms", e.nextDueMs-now))
			}
			continue
		}
		if !s.fire(e, now) {
			done = append(done, e)
		}
	}
}

// fire runs one due entry and reports whether it stays scheduled.
func (s *Scheduler) fire(e *entry, now int64) bool {
	if s.debug {
		s.log.Debug("timer fire", logx.String("id", string(e.id)), logx.Int64("late_ms", now-e.nextDueMs), logx.Int64("interval_ms", e.intervalMs))
	}
	start := s.clock.NowMs()
	s.firing = e
	res, err := s.invoke(e)
	s.firing = nil
	e.fired++
	if err != nil {
		fields := []logx.Field{logx.String("id", string(e.id)), logx.Err(err)}
		var pe *PanicError
		if errors.As(err, &pe) {
			fields = append(fields, logx.Stack(pe.Stack))
		}
		s.log.Error("timer callback failed; removing", fields...)
		return false
	}
	spent := s.clock.NowMs() - start

	switch res.kind {
	case resultStop:
		if s.debug {
			s.log.Debug("timer stopped by callback", logx.String("id", string(e.id)))
		}
		return false
	case resultReschedule:
		e.intervalMs = s.floor(res.intervalMs)
	}
	if e.maxIterations > 0 && e.fired >= e.maxIterations {
		if s.debug {
			s.log.Debug("timer reached max iterations", logx.String("id", string(e.id)), logx.Int("fired", e.fired))
		}
		return false
	}

	if spent > e.intervalMs {
		old := e.intervalMs
		e.intervalMs = spent * 2
		s.tuneWarn.Do(func() {
			s.log.Warn("timer callback slower than its interval; interval raised",
				logx.String("id", string(e.id)),
				logx.Int64("spent_ms", spent),
				logx.Int64("old_interval_ms", old),
				logx.Int64("interval_ms", e.intervalMs))
		})
	}
	e.nextDueMs += e.intervalMs
	return true
}

func (s *Scheduler) invoke(e *entry) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return e.fn()
}

func (s *Scheduler) runHook(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("timer cancel hook panicked", logx.String("id", string(e.id)), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	e.onCancel()
}

// settle ends a dispatch cycle: it releases the guard, applies removals and
// re-arms. It runs deferred so an unexpected panic in the cycle still leaves
// the scheduler consistent.
func (s *Scheduler) settle(done *[]*entry) {
	if r := recover(); r != nil {
		s.log.Error("dispatch aborted", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
	}
	s.inDispatch = false
	s.firing = nil

	for _, e := range *done {
		s.unlink(e)
	}
	for id, e := range s.pending {
		delete(s.pending, id)
		s.unlink(e)
	}
	s.rearm()
}

func (s *Scheduler) rearm() {
	if len(s.entries) == 0 {
		if s.debug {
			s.log.Debug("no timers left; disarming")
		}
		s.disarm()
		return
	}
	now := s.clock.NowMs()
	next := int64(math.MaxInt64)
	for _, e := range s.entries {
		next = min(next, e.nextDueMs-now)
	}
	if next < s.minIntervalMs {
		if s.debug {
			s.log.Debug("next wake below minimum; clamped", logx.Int64("next_ms", next), logx.Int64("min_ms", s.minIntervalMs))
		}
		next = s.minIntervalMs
	}
	s.arm(now, next)
}

func (s *Scheduler) arm(now, delayMs int64) {
	s.armed = true
	s.armedDueMs = now + delayMs
	if s.prim != nil {
		s.prim.Arm(delayMs)
	}
	if s.debug {
		s.log.Debug("armed", logx.Int64("delay_ms", delayMs))
	}
}

func (s *Scheduler) disarm() {
	s.armed = false
	s.armedDueMs = 0
	if s.prim != nil {
		s.prim.Disarm()
	}
}

// unlink deletes e if it is still the live entry for its ID.
func (s *Scheduler) unlink(e *entry) {
	if s.entries[e.id] == e {
		delete(s.entries, e.id)
	}
}

// live returns the entry for id unless it is pending removal.
func (s *Scheduler) live(id ID) *entry {
	e := s.entries[id]
	if e == nil || s.pending[id] == e {
		return nil
	}
	return e
}

func (s *Scheduler) lookup(h Handle) *entry {
	if h.IsZero() {
		return nil
	}
	e := s.live(h.id)
	if e == nil || e.seq != h.gen {
		return nil
	}
	return e
}

func (s *Scheduler) floor(ms int64) int64 { return max(ms, s.minIntervalMs) }

// ordered returns the entries sorted by (next due, registration order).
func (s *Scheduler) ordered() []*entry {
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].nextDueMs != out[j].nextDueMs {
			return out[i].nextDueMs < out[j].nextDueMs
		}
		return out[i].seq < out[j].seq
	})
	return out
}

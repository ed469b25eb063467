package timer

import (
	"errors"
	"testing"

	"timermux/internal/timer/timertest"
	logx "timermux/pkg/logx"
)

func newTestScheduler(t *testing.T) (*Scheduler, *timertest.Clock, *timertest.Primitive) {
	t.Helper()
	clock := &timertest.Clock{}
	prim := timertest.NewPrimitive(clock)
	return New(Config{}, clock, prim, logx.Nop()), clock, prim
}

func counter(n *int) Func {
	return func() (Result, error) {
		*n++
		return Continue(), nil
	}
}

func infoFor(t *testing.T, s *Scheduler, id ID) EntryInfo {
	t.Helper()
	for _, info := range s.Snapshot() {
		if info.ID == id {
			return info
		}
	}
	t.Fatalf("no entry %q in snapshot", id)
	return EntryInfo{}
}

func TestRegisterNonPositiveIntervalRemoves(t *testing.T) {
	t.Parallel()
	s, _, prim := newTestScheduler(t)
	var n int

	s.Register("a", 100, counter(&n))
	if got := s.Status(); got != 1 {
		t.Fatalf("Status = %d, want 1", got)
	}
	for _, iv := range []int64{0, -200} {
		h := s.Register("a", iv, counter(&n))
		if !h.IsZero() {
			t.Fatalf("Register(%d) returned %v, want zero handle", iv, h)
		}
		if got := s.Status(); got != 0 {
			t.Fatalf("Status after Register(%d) = %d, want 0", iv, got)
		}
	}
	if prim.Armed {
		t.Fatal("primitive still armed after last entry removed")
	}
}

func TestRegisterFloorsInterval(t *testing.T) {
	t.Parallel()
	s, _, prim := newTestScheduler(t)
	var n int
	s.Register("fast", 10, counter(&n))

	if got := infoFor(t, s, "fast").IntervalMs; got != DefaultMinIntervalMs {
		t.Fatalf("IntervalMs = %d, want %d", got, DefaultMinIntervalMs)
	}
	if prim.DelayMs != DefaultMinIntervalMs {
		t.Fatalf("armed delay = %d, want %d", prim.DelayMs, DefaultMinIntervalMs)
	}
	if s.ToleranceMs() != 10 {
		t.Fatalf("ToleranceMs = %d, want 10", s.ToleranceMs())
	}
}

func TestToleranceFollowsMinInterval(t *testing.T) {
	t.Parallel()
	s := New(Config{MinIntervalMs: 20}, &timertest.Clock{}, nil, logx.Nop())
	if s.ToleranceMs() != 5 {
		t.Fatalf("ToleranceMs = %d, want 5", s.ToleranceMs())
	}
}

func TestDispatchFiresOnceAndRearms(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	var n int
	s.Register("f", 100, counter(&n))
	if !prim.Armed || prim.DueMs != 100 {
		t.Fatalf("armed=%v due=%d, want armed for 100", prim.Armed, prim.DueMs)
	}

	clock.Set(100)
	s.Dispatch()

	if n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if !prim.Armed || prim.DueMs != 200 || prim.DelayMs != 100 {
		t.Fatalf("armed=%v due=%d delay=%d, want re-armed for 200", prim.Armed, prim.DueMs, prim.DelayMs)
	}
}

func TestDueWithinTolerance(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var n int
	s.Register("f", 100, counter(&n))

	clock.Set(89)
	s.Dispatch()
	if n != 0 {
		t.Fatalf("fired at t=89, want not due")
	}
	clock.Set(90)
	s.Dispatch()
	if n != 1 {
		t.Fatalf("fired %d times at t=90, want 1", n)
	}
}

func TestNextDueKeepsPhase(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var n int
	s.Register("f", 100, counter(&n))

	prev := infoFor(t, s, "f").NextRelMs
	for _, at := range []int64{105, 203, 317} {
		clock.Set(at)
		s.Dispatch()
		next := infoFor(t, s, "f").NextRelMs
		if next-prev != 100 {
			t.Fatalf("at t=%d next due moved by %d, want 100", at, next-prev)
		}
		prev = next
	}
	if n != 3 {
		t.Fatalf("fired %d times, want 3", n)
	}
}

func TestSelfTuningDoublesSpentTime(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	s.Register("slow", 100, func() (Result, error) {
		clock.Advance(120)
		return Continue(), nil
	})

	clock.Set(100)
	s.Dispatch()

	info := infoFor(t, s, "slow")
	if info.IntervalMs != 240 {
		t.Fatalf("IntervalMs = %d, want 240", info.IntervalMs)
	}
	if info.NextRelMs != 340 {
		t.Fatalf("NextRelMs = %d, want 340", info.NextRelMs)
	}
}

func TestCallbackResults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		res      Result
		keep     bool
		interval int64
	}{
		{name: "continue", res: Continue(), keep: true, interval: 100},
		{name: "reschedule", res: Reschedule(250), keep: true, interval: 250},
		{name: "reschedule floored", res: Reschedule(5), keep: true, interval: DefaultMinIntervalMs},
		{name: "reschedule zero", res: Reschedule(0), keep: false},
		{name: "reschedule negative", res: Reschedule(-1), keep: false},
		{name: "stop", res: Stop(), keep: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, clock, _ := newTestScheduler(t)
			s.Register("f", 100, func() (Result, error) { return tt.res, nil })
			clock.Set(100)
			s.Dispatch()

			if got := s.Status(); got != map[bool]int{true: 1, false: 0}[tt.keep] {
				t.Fatalf("Status = %d, keep=%v", got, tt.keep)
			}
			if !tt.keep {
				return
			}
			info := infoFor(t, s, "f")
			if info.IntervalMs != tt.interval {
				t.Fatalf("IntervalMs = %d, want %d", info.IntervalMs, tt.interval)
			}
			if info.NextRelMs != 100+tt.interval {
				t.Fatalf("NextRelMs = %d, want %d", info.NextRelMs, 100+tt.interval)
			}
		})
	}
}

func TestFailingCallbackIsIsolated(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	var healthy int
	s.Register("panics", 100, func() (Result, error) { panic("boom") })
	s.Register("healthy", 100, counter(&healthy))

	clock.Set(100)
	s.Dispatch()

	if got := s.Status(); got != 1 {
		t.Fatalf("Status = %d, want 1", got)
	}
	if healthy != 1 {
		t.Fatalf("healthy fired %d times, want 1", healthy)
	}
	if !prim.Armed {
		t.Fatal("primitive not re-armed after failure")
	}
}

func TestErrorResultRemoves(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	s.Register("err", 100, func() (Result, error) {
		return Continue(), errors.New("grammar unloaded")
	})
	clock.Set(100)
	s.Dispatch()

	if got := s.Status(); got != 0 {
		t.Fatalf("Status = %d, want 0", got)
	}
	if prim.Armed {
		t.Fatal("primitive armed with no timers left")
	}
}

func TestRemoveFromOwnCallback(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	var n int
	s.Register("self", 100, func() (Result, error) {
		n++
		s.Remove("self")
		if s.Status() != 1 {
			t.Errorf("entry removed mid-dispatch")
		}
		return Continue(), nil
	})
	clock.Set(100)
	s.Dispatch()

	if n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if got := s.Status(); got != 0 {
		t.Fatalf("Status = %d, want 0", got)
	}
	if prim.Armed {
		t.Fatal("primitive armed with no timers left")
	}
}

func TestRemoveOtherDuringDispatchSkipsIt(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var b int
	s.Register("a", 100, func() (Result, error) {
		s.Remove("b")
		return Continue(), nil
	})
	s.Register("b", 100, counter(&b))
	clock.Set(100)
	s.Dispatch()

	if b != 0 {
		t.Fatalf("removed entry fired %d times", b)
	}
	if got := s.Status(); got != 1 {
		t.Fatalf("Status = %d, want 1", got)
	}
}

func TestReRegisterDuringDispatchSurvivesDrain(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var h Handle
	s.Register("a", 100, func() (Result, error) {
		s.Remove("a")
		h = s.Register("a", 300, func() (Result, error) { return Continue(), nil })
		return Continue(), nil
	})
	clock.Set(100)
	s.Dispatch()

	if got := s.Status(); got != 1 {
		t.Fatalf("Status = %d, want 1", got)
	}
	if got := infoFor(t, s, "a").IntervalMs; got != 300 {
		t.Fatalf("IntervalMs = %d, want 300 (replacement)", got)
	}
	s.SetInterval(h, 400)
	if got := infoFor(t, s, "a").IntervalMs; got != 400 {
		t.Fatalf("replacement handle not usable: IntervalMs = %d", got)
	}
}

func TestTwoPeriodsInterleave(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	var a, b int
	s.Register("a", 100, counter(&a))
	s.Register("b", 77, counter(&b))

	if cycles := prim.Run(s, 5, 10_000); cycles != 5 {
		t.Fatalf("ran %d cycles, want 5", cycles)
	}
	elapsed := clock.NowMs()
	if b <= a {
		t.Fatalf("b fired %d times, a %d; want b > a", b, a)
	}
	for _, c := range []struct {
		name     string
		fired    int
		interval int64
	}{{"a", a, 100}, {"b", b, 77}} {
		want := int(elapsed / c.interval)
		if diff := c.fired - want; diff < -1 || diff > 1 {
			t.Fatalf("%s fired %d times in %dms, want %d±1", c.name, c.fired, elapsed, want)
		}
	}
}

func TestTiesFireInRegistrationOrder(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var order []ID
	for _, id := range []ID{"c", "a", "b"} {
		id := id
		s.Register(id, 100, func() (Result, error) {
			order = append(order, id)
			return Continue(), nil
		})
	}
	clock.Set(100)
	s.Dispatch()

	want := []ID{"c", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestExternalCancelRemovesHookedOnly(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	var hooks, n int
	s.Register("hooked", 100, counter(&n), WithCancelHook(func() { hooks++ }))
	s.Register("plain", 100, counter(&n))

	s.NotifyExternalCancelEvent()
	if hooks != 1 {
		t.Fatalf("hook ran %d times, want 1", hooks)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != "plain" {
		t.Fatalf("snapshot = %v, want only plain", snap)
	}

	s.NotifyExternalCancelEvent()
	if hooks != 1 {
		t.Fatalf("hook ran again: %d", hooks)
	}
}

func TestExternalCancelHookMayRemoveItself(t *testing.T) {
	t.Parallel()
	s, _, prim := newTestScheduler(t)
	var n int
	s.Register("hooked", 100, counter(&n), WithCancelHook(func() { s.Remove("hooked") }))

	s.NotifyExternalCancelEvent()
	if got := s.Status(); got != 0 {
		t.Fatalf("Status = %d, want 0", got)
	}
	if prim.Armed {
		t.Fatal("primitive armed with no timers left")
	}
}

func TestExternalCancelDuringDispatch(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var hooks, fired int
	s.Register("trigger", 100, func() (Result, error) {
		s.NotifyExternalCancelEvent()
		return Continue(), nil
	})
	s.Register("hooked", 100, counter(&fired), WithCancelHook(func() { hooks++ }))
	clock.Set(100)
	s.Dispatch()

	if hooks != 1 {
		t.Fatalf("hook ran %d times, want 1", hooks)
	}
	if fired != 0 {
		t.Fatalf("cancelled entry fired %d times", fired)
	}
	if got := s.Status(); got != 1 {
		t.Fatalf("Status = %d, want 1", got)
	}
}

func TestMaxIterationsWinsOverResult(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var n int
	s.Register("capped", 100, func() (Result, error) {
		n++
		return Reschedule(100), nil
	}, WithMaxIterations(2))

	clock.Set(100)
	s.Dispatch()
	if got := s.Status(); got != 1 {
		t.Fatalf("Status after 1 fire = %d, want 1", got)
	}
	clock.Set(200)
	s.Dispatch()
	if n != 2 {
		t.Fatalf("fired %d times, want 2", n)
	}
	if got := s.Status(); got != 0 {
		t.Fatalf("Status after cap = %d, want 0", got)
	}
}

func TestSetIntervalKeepsPhase(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	var n int
	h := s.Register("f", 100, counter(&n))

	clock.Set(30)
	s.SetInterval(h, 200)
	info := infoFor(t, s, "f")
	if info.IntervalMs != 200 || info.NextRelMs != 200 {
		t.Fatalf("interval=%d next=%d, want 200/200", info.IntervalMs, info.NextRelMs)
	}
	if n != 0 {
		t.Fatalf("lengthening fired the callback")
	}
	if prim.DueMs != 100 {
		t.Fatalf("armed due = %d, want unchanged 100", prim.DueMs)
	}
}

func TestSetIntervalShorterTakesEffectNow(t *testing.T) {
	t.Parallel()
	s, clock, prim := newTestScheduler(t)
	var n int
	h := s.Register("f", 1000, counter(&n))

	clock.Set(600)
	s.SetInterval(h, 500)

	if n != 1 {
		t.Fatalf("fired %d times, want 1 (new due time already passed)", n)
	}
	if got := infoFor(t, s, "f").NextRelMs; got != 1000 {
		t.Fatalf("NextRelMs = %d, want 1000", got)
	}
	if prim.DueMs != 1000 {
		t.Fatalf("armed due = %d, want 1000", prim.DueMs)
	}
}

func TestSetIntervalFromOwnCallback(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name     string
		interval int64
		wantNext int64
	}{
		{"longer", 200, 300},
		{"shorter", 60, 160},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, clock, prim := newTestScheduler(t)
			var h Handle
			n := 0
			h = s.Register("f", 100, func() (Result, error) {
				n++
				s.SetInterval(h, tc.interval)
				return Continue(), nil
			})

			clock.Set(100)
			s.Dispatch()

			info := infoFor(t, s, "f")
			if info.IntervalMs != tc.interval || info.NextRelMs != tc.wantNext {
				t.Fatalf("interval=%d next=%d, want %d/%d", info.IntervalMs, info.NextRelMs, tc.interval, tc.wantNext)
			}
			if n != 1 {
				t.Fatalf("fired %d times, want 1", n)
			}
			if prim.DueMs != tc.wantNext {
				t.Fatalf("armed due = %d, want %d", prim.DueMs, tc.wantNext)
			}
		})
	}
}

func TestUpsertFromOwnCallbackKeepsCurrentTick(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var fn Func
	fn = func() (Result, error) {
		s.Upsert("f", 250, fn)
		return Continue(), nil
	}
	s.Register("f", 100, fn)

	clock.Set(100)
	s.Dispatch()

	if got := infoFor(t, s, "f").NextRelMs; got != 350 {
		t.Fatalf("NextRelMs = %d, want 350", got)
	}
}

func TestSetIntervalIgnoresStaleHandle(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	var n int
	old := s.Register("f", 100, counter(&n))
	s.Register("f", 200, counter(&n))

	s.SetInterval(old, 500)
	if got := infoFor(t, s, "f").IntervalMs; got != 200 {
		t.Fatalf("stale handle changed interval to %d", got)
	}
	s.SetInterval(Handle{}, 500)
	s.SetInterval(old, 0)
	if got := s.Status(); got != 1 {
		t.Fatalf("stale handle removed entry")
	}
}

func TestUpsert(t *testing.T) {
	t.Parallel()
	s, clock, _ := newTestScheduler(t)
	var n, hooks int
	h := s.Upsert("f", 100, counter(&n))
	if h.IsZero() || s.Status() != 1 {
		t.Fatalf("Upsert did not register: %v", h)
	}

	clock.Set(40)
	h2 := s.Upsert("f", 150, nil, WithCancelHook(func() { hooks++ }))
	if h2 != h {
		t.Fatalf("Upsert on live entry returned %v, want %v", h2, h)
	}
	info := infoFor(t, s, "f")
	if info.IntervalMs != 150 || info.NextRelMs != 150 || !info.CancelHook {
		t.Fatalf("info = %+v", info)
	}

	s.Upsert("f", 0, nil)
	if s.Status() != 0 {
		t.Fatal("Upsert with zero interval did not remove")
	}
}

func TestCloseDropsEverything(t *testing.T) {
	t.Parallel()
	s, _, prim := newTestScheduler(t)
	var hooks, n int
	s.Register("a", 100, counter(&n), WithCancelHook(func() { hooks++ }))
	s.Register("b", 200, counter(&n))

	s.Close()
	if s.Status() != 0 || prim.Armed || hooks != 0 {
		t.Fatalf("status=%d armed=%v hooks=%d after Close", s.Status(), prim.Armed, hooks)
	}
}

func TestStatusOnNilScheduler(t *testing.T) {
	t.Parallel()
	var s *Scheduler
	if s.Status() != 0 {
		t.Fatal("nil scheduler status != 0")
	}
	if s.Snapshot() != nil {
		t.Fatal("nil scheduler snapshot != nil")
	}
	if s.Active("a") {
		t.Fatal("nil scheduler has no active entries")
	}
}

func TestActiveIgnoresPendingRemoval(t *testing.T) {
	t.Parallel()
	s, _, prim := newTestScheduler(t)
	var seen bool
	s.Register("self", 100, func() (Result, error) {
		s.Remove("self")
		seen = s.Active("self")
		return Continue(), nil
	})
	if !s.Active("self") {
		t.Fatal("registered entry should be active")
	}
	prim.Run(s, 1, 1000)
	if seen {
		t.Fatal("entry pending removal reported active")
	}
	if s.Active("self") {
		t.Fatal("entry still active after drain")
	}
}

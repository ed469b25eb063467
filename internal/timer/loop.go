package timer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	logx "timermux/pkg/logx"
)

// ErrLoopClosed is returned when posting to a Loop that has stopped.
var ErrLoopClosed = errors.New("timer: loop closed")

// Loop owns a Scheduler on a single goroutine. The Scheduler, and every
// callback it runs, is only ever touched from inside Run.
type Loop struct {
	log   logx.Logger
	sched *Scheduler
	prim  *afterFunc

	queue chan func(*Scheduler)
	done  chan struct{}
}

// NewLoop builds a Loop with a time.AfterFunc primitive. A nil clock uses
// the system clock.
func NewLoop(cfg Config, clock Clock, log logx.Logger) *Loop {
	l := &Loop{
		log:   log,
		queue: make(chan func(*Scheduler), 256),
		done:  make(chan struct{}),
	}
	l.prim = newAfterFunc(l.onFire)
	l.sched = New(cfg, clock, l.prim, log)
	return l
}

// onFire runs on the time.AfterFunc goroutine.
func (l *Loop) onFire(gen uint64) {
	err := l.Post(func(s *Scheduler) {
		if !l.prim.current(gen) {
			return
		}
		s.Dispatch()
	})
	if err != nil && !errors.Is(err, ErrLoopClosed) {
		l.log.Warn("timer wake-up dropped", logx.Err(err))
	}
}

// Run processes posted work until ctx is done, then closes the scheduler.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	defer l.sched.Close()

	l.log.Debug("timer loop started", logx.Int64("min_interval_ms", l.sched.MinIntervalMs()))
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("timer loop stopped", logx.Int("timers", l.sched.Status()))
			return nil
		case fn := <-l.queue:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func(*Scheduler)) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("timer loop task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn(l.sched)
}

// Post queues fn to run on the loop goroutine. It blocks while the queue is
// full. Never call Post and wait for the result from inside the loop; use the
// Scheduler passed to the running task instead.
func (l *Loop) Post(fn func(*Scheduler)) error {
	if fn == nil {
		return nil
	}
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case <-l.done:
		return ErrLoopClosed
	case l.queue <- fn:
		return nil
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func(*Scheduler)) error {
	ran := make(chan struct{})
	var taskErr error
	err := l.Post(func(s *Scheduler) {
		defer close(ran)
		defer func() {
			if r := recover(); r != nil {
				taskErr = fmt.Errorf("timer loop task panicked: %v", r)
			}
		}()
		fn(s)
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return taskErr
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Package timertest provides a manual clock and primitive for driving a
// timer.Scheduler deterministically in tests.
package timertest

// Clock is a manually advanced millisecond clock.
type Clock struct {
	Ms int64
}

func (c *Clock) NowMs() int64 { return c.Ms }

// Advance moves the clock forward by d milliseconds.
func (c *Clock) Advance(d int64) { c.Ms += d }

// Set moves the clock to an absolute time.
func (c *Clock) Set(ms int64) { c.Ms = ms }

// Primitive records arm/disarm calls instead of scheduling anything.
type Primitive struct {
	clock *Clock

	Armed   bool
	DelayMs int64
	// DueMs is the absolute clock time the current wake-up was armed for.
	DueMs int64

	Arms    int
	Disarms int
}

// NewPrimitive returns a Primitive that computes due times against clock.
func NewPrimitive(clock *Clock) *Primitive { return &Primitive{clock: clock} }

func (p *Primitive) Arm(delayMs int64) {
	p.Armed = true
	p.DelayMs = delayMs
	p.DueMs = p.clock.NowMs() + delayMs
	p.Arms++
}

func (p *Primitive) Disarm() {
	p.Armed = false
	p.DelayMs = 0
	p.DueMs = 0
	p.Disarms++
}

// Dispatcher is the part of timer.Scheduler the driver needs.
type Dispatcher interface {
	Dispatch()
}

// Run steps the clock 1ms at a time, dispatching whenever the armed wake-up
// is due, until cycles dispatches happened or the clock reaches limitMs.
// It returns the number of dispatch cycles run.
func (p *Primitive) Run(d Dispatcher, cycles int, limitMs int64) int {
	n := 0
	for n < cycles && p.clock.NowMs() < limitMs {
		p.clock.Advance(1)
		if p.Armed && p.clock.NowMs() >= p.DueMs {
			d.Dispatch()
			n++
		}
	}
	return n
}

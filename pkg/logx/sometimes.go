package logx

import (
	"time"

	"golang.org/x/time/rate"
)

// Sometimes throttles a log call site. The first call always logs, later calls
// log at most once per interval. Safe for concurrent use.
type Sometimes struct {
	s *rate.Sometimes
}

// NewSometimes returns a throttle that lets one message through per interval.
// A non-positive interval disables throttling.
func NewSometimes(interval time.Duration) *Sometimes {
	if interval <= 0 {
		return &Sometimes{}
	}
	return &Sometimes{s: &rate.Sometimes{First: 1, Interval: interval}}
}

// Do runs fn when the throttle allows it.
func (t *Sometimes) Do(fn func()) {
	if t == nil || t.s == nil {
		fn()
		return
	}
	t.s.Do(fn)
}

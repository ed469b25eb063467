// Package timer multiplexes many periodic callbacks onto one single-slot
// wake-up primitive.
//
// # Model
//
// A Scheduler keeps one entry per callback ID. Each entry has an interval and
// an absolute next-due time on the Clock. The Scheduler arms the Primitive for
// the soonest due entry; when the Primitive fires, Dispatch runs every due
// callback in (due time, registration order) order, then re-arms.
//
// Intervals are milliseconds. Every interval is floored at Config.MinIntervalMs
// (50ms by default). An entry is considered due when its next-due time is
// within min(10, MinIntervalMs/4) milliseconds of now.
//
// # Callback results
//
// A callback returns a Result: Continue keeps the interval, Reschedule sets a
// new one, Stop removes the entry. A returned error or a panic also removes the
// entry and is logged; it never escapes Dispatch. When a callback takes longer
// than its interval, the interval is raised to twice the time spent.
//
// Next-due times advance by the interval on every fire, so an entry keeps its
// phase relative to the time it was registered instead of drifting with
// callback latency.
//
// # Concurrency
//
// Scheduler is not safe for concurrent use. It is single-threaded and
// cooperative: callbacks run one at a time on the goroutine that called
// Dispatch, so a slow callback delays every other timer. Remove called from
// inside a callback is deferred until the current dispatch cycle completes.
//
// Loop owns a Scheduler on a dedicated goroutine and wires it to a real
// time.AfterFunc based Primitive. Other goroutines reach the Scheduler through
// Loop.Post and Loop.Do.
package timer

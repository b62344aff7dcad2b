// Package clock abstracts time so timer-driven code (reconnect backoff,
// relay polling, envelope sweeps) can be tested deterministically.
// Production code injects Real(); tests inject Fake().
package clock

import "time"

type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc waits for duration d, then calls f. The returned Timer
	// cancels the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer
	// NewTicker delivers ticks on C at the given interval.
	NewTicker(d time.Duration) *Ticker
}

// Timer represents a scheduled one-shot call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if it already
// fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker wraps a periodic timer. Call Stop to release it.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }

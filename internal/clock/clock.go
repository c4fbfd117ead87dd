// Package clock abstracts time for the transmission session so that ack
// timeouts, retry delays, and inter-chunk pacing can be driven
// deterministically in tests.
//
// Production code uses Real(). Tests use Fake() and move time with Advance,
// calling WaitForTimers first so that the goroutine under test has
// registered its timer before time moves.
package clock

import "time"

// Clock is the subset of the time package the session depends on.
type Clock interface {
	Now() time.Time
	// NewTimer returns a timer that fires once after d. d <= 0 fires
	// immediately.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. Read C; call Stop to release it early.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped an active timer.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}

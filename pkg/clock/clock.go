package clock

import "time"

// Clock abstracts the parts of the time package used by this module.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable scheduled call created by AfterFunc.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the timer from firing. It returns false if the timer has
// already fired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

// Reset re-arms the timer to fire after d. It returns true if the timer was
// still pending.
func (t *Timer) Reset(d time.Duration) bool {
	return t.resetFunc(d)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop, resetFunc: t.Reset}
}

// OrReal returns c, or Real() when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

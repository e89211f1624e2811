package connection

import (
	"sync"
	"time"
)

// Activation poll schedule used while waiting for a new account to appear.
const (
	ActivationInitial    = 2500 * time.Millisecond
	ActivationMultiplier = 1.05
	ActivationMax        = 8000 * time.Millisecond
)

// Stale-fetch retry schedule used after a push notification whose fetch
// returned nothing new.
const (
	StaleRetryInitial     = 500 * time.Millisecond
	StaleRetryMultiplier  = 2.0
	StaleRetryMaxAttempts = 5
)

// Schedule describes a growing delay: Initial, then multiplied by Multiplier
// on every attempt, capped at Max.
type Schedule struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the delay before attempt n, counting from zero.
func (s Schedule) Delay(n int) time.Duration {
	d := float64(s.Initial)
	for i := 0; i < n; i++ {
		d *= s.Multiplier
		if s.Max > 0 && d >= float64(s.Max) {
			return s.Max
		}
	}
	if s.Max > 0 && time.Duration(d) > s.Max {
		return s.Max
	}
	return time.Duration(d)
}

// Backoff walks a Schedule. It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	schedule Schedule
	attempts int
}

// NewBackoff creates a Backoff for s. A non-positive Initial or a
// Multiplier below 1 are replaced by the stale-retry defaults.
func NewBackoff(s Schedule) *Backoff {
	if s.Initial <= 0 {
		s.Initial = StaleRetryInitial
	}
	if s.Multiplier < 1 {
		s.Multiplier = StaleRetryMultiplier
	}
	return &Backoff{schedule: s}
}

// Next returns the delay for the current attempt and counts it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.schedule.Delay(b.attempts)
	b.attempts++
	return d
}

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.schedule.Delay(b.attempts)
}

// Reset starts the schedule over.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts returns how often Next was called since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// ActivationBackoff returns the schedule used to poll for a resource that does
// not exist yet. Zero arguments take the package defaults.
func ActivationBackoff(initial, max time.Duration, multiplier float64) *Backoff {
	if initial <= 0 {
		initial = ActivationInitial
	}
	if max <= 0 {
		max = ActivationMax
	}
	if multiplier <= 1 {
		multiplier = ActivationMultiplier
	}
	return NewBackoff(Schedule{Initial: initial, Max: max, Multiplier: multiplier})
}

// StaleRetryBackoff returns the schedule used to re-fetch after a push whose
// fetch was not yet visible. Callers stop after StaleRetryMaxAttempts.
func StaleRetryBackoff(initial time.Duration) *Backoff {
	if initial <= 0 {
		initial = StaleRetryInitial
	}
	return NewBackoff(Schedule{Initial: initial, Multiplier: StaleRetryMultiplier})
}

package connection

import (
	"context"
	"testing"
	"time"

	"github.com/walletsync/walletsync-go/pkg/clock"
)

func TestScheduleDelay(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		attempt  int
		want     time.Duration
	}{
		{"First", Schedule{Initial: time.Second, Max: time.Minute, Multiplier: 2}, 0, time.Second},
		{"Grows", Schedule{Initial: time.Second, Max: time.Minute, Multiplier: 2}, 3, 8 * time.Second},
		{"Capped", Schedule{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}, 3, 5 * time.Second},
		{"Uncapped", Schedule{Initial: time.Second, Multiplier: 2}, 10, 1024 * time.Second},
		{"Flat", Schedule{Initial: time.Second, Multiplier: 1}, 7, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.schedule.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	t.Run("Sequence", func(t *testing.T) {
		b := NewBackoff(Schedule{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 2})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if cur := b.Current(); cur != exp {
				t.Errorf("attempt %d: Current() = %v, want %v", i, cur, exp)
			}
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: Next() = %v, want %v", i, got, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff(Schedule{Initial: time.Second, Multiplier: 2})
		for i := 0; i < 4; i++ {
			b.Next()
		}

		b.Reset()

		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
		if got := b.Next(); got != time.Second {
			t.Errorf("Next() after reset = %v, want 1s", got)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		b := NewBackoff(Schedule{})
		if got := b.Next(); got != StaleRetryInitial {
			t.Errorf("Next() = %v, want %v", got, StaleRetryInitial)
		}
		if got := b.Next(); got != 2*StaleRetryInitial {
			t.Errorf("Next() = %v, want %v", got, 2*StaleRetryInitial)
		}
	})
}

func TestActivationBackoffSchedule(t *testing.T) {
	b := ActivationBackoff(0, 0, 0)

	expected := []time.Duration{
		2500 * time.Millisecond,
		2625 * time.Millisecond,
		2756250 * time.Microsecond,
	}
	for i, exp := range expected {
		got := b.Next()
		if diff := got - exp; diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("attempt %d: got %v, want ~%v", i, got, exp)
		}
	}

	// Keep going until the cap is reached, then stay there.
	var last time.Duration
	for i := 0; i < 40; i++ {
		last = b.Next()
		if last > ActivationMax {
			t.Fatalf("attempt %d: %v exceeds cap %v", i, last, ActivationMax)
		}
	}
	if last != ActivationMax {
		t.Errorf("delay after many attempts = %v, want %v", last, ActivationMax)
	}
}

func TestStaleRetryBackoffSchedule(t *testing.T) {
	b := StaleRetryBackoff(0)

	expected := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, exp := range expected {
		if got := b.Next(); got != exp {
			t.Errorf("attempt %d: got %v, want %v", i, got, exp)
		}
	}
	if b.Attempts() != StaleRetryMaxAttempts {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), StaleRetryMaxAttempts)
	}
}

type fakeOnline struct {
	online bool
	wait   chan struct{}
}

func (f *fakeOnline) Online() bool { return f.online }

func (f *fakeOnline) WaitOnline(ctx context.Context) error {
	select {
	case <-f.wait:
		f.online = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDelayImmediateWhenIdle(t *testing.T) {
	fc := clock.Fake(time.Unix(1000, 0))
	d := NewDelay(time.Second, nil, fc)

	// Never attempted: no wait.
	if got := d.Remaining(); got != 0 {
		t.Errorf("Remaining() = %v before any attempt, want 0", got)
	}

	d.MarkAttempt()
	fc.Advance(1500 * time.Millisecond)

	if got := d.Remaining(); got != 0 {
		t.Errorf("Remaining() = %v after long idle, want 0", got)
	}
	if err := d.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestDelayWaitsRemainder(t *testing.T) {
	fc := clock.Fake(time.Unix(1000, 0))
	d := NewDelay(time.Second, nil, fc)

	d.MarkAttempt()
	fc.Advance(300 * time.Millisecond)

	if got := d.Remaining(); got != 700*time.Millisecond {
		t.Fatalf("Remaining() = %v, want 700ms", got)
	}

	done := make(chan error, 1)
	go func() { done <- d.Wait(context.Background()) }()

	fc.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Wait returned before the delay elapsed")
	default:
	}

	fc.Advance(700 * time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after advancing the clock")
	}
}

func TestDelayWaitsForOnline(t *testing.T) {
	online := &fakeOnline{online: false, wait: make(chan struct{})}
	d := NewDelay(time.Second, online, clock.Fake(time.Unix(1000, 0)))

	done := make(chan error, 1)
	go func() { done <- d.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while offline")
	case <-time.After(20 * time.Millisecond):
	}

	close(online.wait)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after coming online")
	}
}

func TestDelayCancelled(t *testing.T) {
	fc := clock.Fake(time.Unix(1000, 0))
	d := NewDelay(time.Second, nil, fc)
	d.MarkAttempt()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "UNINITIALIZED"},
		{StateInitializing, "INITIALIZING"},
		{StateActive, "ACTIVE"},
		{StateReconnecting, "RECONNECTING"},
		{StatePaused, "PAUSED"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

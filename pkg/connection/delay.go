package connection

import (
	"context"
	"sync"
	"time"

	"github.com/walletsync/walletsync-go/pkg/clock"
)

// DefaultReconnectDelay is the minimum spacing between two connection
// attempts after a failure.
const DefaultReconnectDelay = 1000 * time.Millisecond

// OnlineWaiter blocks until the device is online. *netstate.Monitor
// satisfies it.
type OnlineWaiter interface {
	Online() bool
	WaitOnline(ctx context.Context) error
}

// Delay is the reconnect throttle. It remembers when the last connection
// attempt started.
type Delay struct {
	mu sync.Mutex

	delay       time.Duration
	lastAttempt time.Time

	clock  clock.Clock
	online OnlineWaiter
}

// NewDelay creates a throttle with the given base delay. online may be nil,
// in which case the device is assumed to be always online.
func NewDelay(delay time.Duration, online OnlineWaiter, clk clock.Clock) *Delay {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Delay{
		delay:  delay,
		clock:  clock.OrReal(clk),
		online: online,
	}
}

// MarkAttempt records that a connection attempt is starting now.
func (d *Delay) MarkAttempt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAttempt = d.clock.Now()
}

// Remaining returns how long Wait would sleep if the device were online.
func (d *Delay) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastAttempt.IsZero() {
		return 0
	}
	elapsed := d.clock.Now().Sub(d.lastAttempt)
	if elapsed > d.delay {
		return 0
	}
	return d.delay - elapsed
}

// Wait blocks until a reconnect may be attempted: first until the device is
// online, then until the base delay has passed since the last attempt.
func (d *Delay) Wait(ctx context.Context) error {
	if d.online != nil && !d.online.Online() {
		if err := d.online.WaitOnline(ctx); err != nil {
			return err
		}
	}

	remaining := d.Remaining()
	if remaining <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(remaining):
		return nil
	}
}

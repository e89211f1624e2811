// Package connection provides the reconnect timing shared by push streams
// and pollers.
//
// This package handles:
//   - Growing retry schedules (Schedule, Backoff)
//   - The reconnect throttle used after stream errors (Delay)
//   - The lifecycle states of a live connection (State)
//
// # Reconnect Throttle
//
// After a push stream fails, Delay.Wait decides how long to wait before the
// next dial:
//
//  1. If the device is offline, wait until it is back online.
//  2. If the last attempt was more than the base delay ago, return at once.
//  3. Otherwise wait until the base delay has elapsed since the last attempt.
//
// Rapid failures are therefore spaced at least one base delay apart (default
// 1 second) while an infrequent failure reconnects immediately.
//
// # Growing Intervals
//
// Backoff is reused for two bounded schedules:
//
//	activation poll:   2500ms, 2625ms, 2756ms, ... capped at 8000ms (x1.05)
//	stale-fetch retry: 500ms, 1s, 2s, 4s, 8s                       (x2, 5 attempts)
package connection

// Package clock provides an injectable time source.
//
// Components that arm timers (watchdogs, backoff delays, fallback polls,
// error throttles) take a Clock in their options instead of calling the
// time package directly. Production code passes Real(); tests pass a
// FakeClock and move time forward with Advance.
//
// # Synchronising with the Fake clock
//
// A goroutine that calls After or AfterFunc registers a pending waiter.
// Tests call WaitForTimers(n) before Advance so the advance cannot race the
// registration:
//
//	fc := clock.Fake(time.Unix(0, 0))
//	go component.Run(ctx)   // arms a 15s watchdog
//	fc.WaitForTimers(1)
//	fc.Advance(16 * time.Second)
package clock

// Package endpoint picks a healthy server for each logical service.
//
// A Service names a primary URL and an ordered list of fallbacks. Select
// probes them in order with a lightweight GET and returns the first that
// answers 2xx. When every probe fails it returns the primary anyway: some
// endpoint lets reconnect logic retry later instead of stalling.
//
// Selections are cached per service name until Reselect is called. The
// selector never re-probes on its own; callers decide when a selection is
// stale, typically after repeated connection errors.
package endpoint

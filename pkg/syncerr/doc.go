// Package syncerr defines the error taxonomy of the live-data engine and the
// throttled channel through which connection health reaches the UI.
//
// # Taxonomy
//
//   - ConnectionError: a transient network or stream failure. Retried
//     automatically; surfaced only when repeated within the throttle window
//     and later cleared once an update applies again.
//   - ErrNotYetPresent: the resource does not exist yet (HTTP 404 for a new
//     account). Not a failure; callers switch to an activation poll.
//   - ErrResourceGone: the resource was removed. Terminal, not retried.
//   - Cancellation: context.Canceled / context.DeadlineExceeded raised by our
//     own teardown. Never reported.
//   - UnexpectedError: malformed payloads and programming errors. Not
//     retried, surfaced immediately.
//
// # Double Trouble
//
// Isolated connection errors are common and harmless. Reporter only surfaces
// a connection error when another error for the same service occurred within
// the throttle window (default 3 seconds). Every surfaced error can later be
// followed by a Cleared event for the same service.
package syncerr

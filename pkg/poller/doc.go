// Package poller merges push notifications, confirming fetches and a
// fallback poll into one ordered stream of values for a subscription.Target.
//
// A Resource supplies the resource-specific parts: the first value, the raw
// push source, the authoritative fetch, the staleness check and the merge.
// The poller owns everything else:
//
//   - A push is only a hint. Every push triggers FetchUpdate with the hint,
//     and only the fetched update is applied. When pushes arrive faster than
//     fetches complete, the latest hint wins.
//   - A push whose fetch comes back empty or stale is retried with a
//     growing delay, since read replicas lag behind the push source. A newer
//     push replaces the pending retry. After the last attempt the poller
//     gives up silently and relies on the next push or poll.
//   - With no applied update for the fallback interval, the poller fetches
//     without a hint.
//   - Connection errors are reported and retried after the reconnect delay.
//     They do not use up stale retries.
//   - ErrResourceGone closes the target cleanly. Unexpected errors close it
//     with the error.
//
// All fetches and applies run on one goroutine per poller, so values reach
// subscribers in the order they were accepted by ShouldApplyUpdate.
package poller

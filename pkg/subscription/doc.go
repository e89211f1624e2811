// Package subscription implements the shared live-value primitives.
//
// A Target holds the latest value of one live resource and fans every new
// value out to its subscribers. A Registry maps cache keys to Targets so that
// all consumers of the same resource share one Target, and with it one
// upstream connection.
//
// # Delivery
//
// Subscribers are called synchronously on every Propagate, in subscription
// order. Concurrent Propagate calls are serialised, so each subscriber sees
// values in the order they were propagated. Subscribe does not replay the
// current value; read it with Latest.
//
// # Lifecycle
//
// Targets are created lazily by GetOrCreate and live until they are
// closed: by Registry.InvalidateAll when the selected endpoint changes, by
// Registry.Shutdown, or by their producer when the resource is permanently
// gone. A closed Target keeps its last value for display but never updates
// again; the next GetOrCreate for its key builds a fresh one.
package subscription

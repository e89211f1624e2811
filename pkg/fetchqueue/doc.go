// Package fetchqueue bounds the number of concurrent outbound requests.
//
// A Queue admits at most Limit callers at a time. When a slot frees, the
// waiting caller with the highest Priority runs next; callers of equal
// priority run in arrival order. A caller whose context ends while waiting
// leaves the queue without taking a slot.
//
// Transport wraps an http.RoundTripper so every request made through an
// http.Client passes the queue. The priority of a request is taken from its
// context (see WithPriority). A slot is held until the response body is
// closed or fully read.
//
// Long-lived push connections must not use a queued client: they would hold
// a slot for their whole lifetime.
package fetchqueue

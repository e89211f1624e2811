// Package metrics holds the Prometheus collectors of the live-data engine.
//
// A *Metrics is created once per process with New and handed to components
// through their options. Every method is safe on a nil receiver, so
// components record unconditionally and callers that do not want metrics
// simply pass nil.
package metrics

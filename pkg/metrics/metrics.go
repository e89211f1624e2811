package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "walletsync"

	serviceLabel  = "service"
	reasonLabel   = "reason"
	resultLabel   = "result"
	resourceLabel = "resource"
	sourceLabel   = "source"
	outcomeLabel  = "outcome"
	kindLabel     = "kind"
)

// Metrics groups every collector.
type Metrics struct {
	streamDials      *prometheus.CounterVec
	streamReconnects *prometheus.CounterVec
	streamMessages   *prometheus.CounterVec
	streamsActive    *prometheus.GaugeVec

	pollerUpdates *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	registryTargets prometheus.Gauge

	queueInFlight prometheus.Gauge
	queueWaiting  prometheus.Gauge
	queueWait     prometheus.Histogram

	healthEvents *prometheus.CounterVec

	endpointSelections *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		streamDials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dials_total",
			Help:      "Push stream connection attempts by result.",
		}, []string{serviceLabel, resultLabel}),

		streamReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Push stream teardowns followed by a reconnect, by reason.",
		}, []string{serviceLabel, reasonLabel}),

		streamMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Messages received on push streams.",
		}, []string{serviceLabel}),

		streamsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "Push streams currently connected.",
		}, []string{serviceLabel}),

		pollerUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "updates_total",
			Help:      "Fetched updates by trigger and outcome.",
		}, []string{resourceLabel, sourceLabel, outcomeLabel}),

		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of authoritative fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{resourceLabel}),

		registryTargets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "targets",
			Help:      "Live subscription targets in the registry.",
		}),

		queueInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetchqueue",
			Name:      "in_flight",
			Help:      "Outbound requests currently running.",
		}),

		queueWaiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetchqueue",
			Name:      "waiting",
			Help:      "Outbound requests waiting for a slot.",
		}),

		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetchqueue",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		healthEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "events_total",
			Help:      "Connection-health events surfaced to the UI.",
		}, []string{serviceLabel, kindLabel}),

		endpointSelections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "selections_total",
			Help:      "Endpoint selections by result (primary, fallback, discovered, fail_open).",
		}, []string{serviceLabel, resultLabel}),
	}
}

// StreamDial records a dial attempt. result is "ok" or "error".
func (m *Metrics) StreamDial(service, result string) {
	if m == nil {
		return
	}
	m.streamDials.WithLabelValues(service, result).Inc()
}

// StreamReconnect records a teardown that will be followed by a re-dial.
func (m *Metrics) StreamReconnect(service, reason string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(service, reason).Inc()
}

// StreamMessage records a received push message.
func (m *Metrics) StreamMessage(service string) {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues(service).Inc()
}

// StreamConnected adjusts the connected-streams gauge by delta.
func (m *Metrics) StreamConnected(service string, delta float64) {
	if m == nil {
		return
	}
	m.streamsActive.WithLabelValues(service).Add(delta)
}

// PollerUpdate records the outcome of a fetched update.
func (m *Metrics) PollerUpdate(resource, source, outcome string) {
	if m == nil {
		return
	}
	m.pollerUpdates.WithLabelValues(resource, source, outcome).Inc()
}

// FetchDuration observes the duration of one authoritative fetch.
func (m *Metrics) FetchDuration(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// RegistryTargets sets the number of live targets.
func (m *Metrics) RegistryTargets(n int) {
	if m == nil {
		return
	}
	m.registryTargets.Set(float64(n))
}

// FetchQueue sets the in-flight and waiting gauges.
func (m *Metrics) FetchQueue(inFlight, waiting int) {
	if m == nil {
		return
	}
	m.queueInFlight.Set(float64(inFlight))
	m.queueWaiting.Set(float64(waiting))
}

// FetchQueueWait observes how long a caller waited for a slot.
func (m *Metrics) FetchQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}

// HealthEvent records a surfaced health event. kind is "error", "unexpected"
// or "cleared".
func (m *Metrics) HealthEvent(service, kind string) {
	if m == nil {
		return
	}
	m.healthEvents.WithLabelValues(service, kind).Inc()
}

// EndpointSelection records how an endpoint was selected.
func (m *Metrics) EndpointSelection(service, result string) {
	if m == nil {
		return
	}
	m.endpointSelections.WithLabelValues(service, result).Inc()
}

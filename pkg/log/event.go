package log

import "time"

// Event represents a stream capture event at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one dial of a push stream (UUID). Empty for
	// poller events that are not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Service is the logical remote service ("horizon", "multisig").
	Service string `cbor:"6,keyasint,omitempty"`

	// URL is the stream or request URL.
	URL string `cbor:"7,keyasint,omitempty"`

	// Key is the subscription cache key the event belongs to.
	Key string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"` // Stream layer
	Update      *UpdateEvent      `cbor:"11,keyasint,omitempty"` // Poller layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Any layer
	Control     *ControlEvent     `cbor:"13,keyasint,omitempty"` // Transport layer
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Any layer
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates data received from a remote service.
	DirectionIn Direction = 0
	// DirectionOut indicates a request sent to a remote service.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the connection layer (dial, close).
	LayerTransport Layer = 0
	// LayerStream is the push message layer.
	LayerStream Layer = 1
	// LayerPoller is the update merging layer.
	LayerPoller Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerStream:
		return "STREAM"
	case LayerPoller:
		return "POLLER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a push message or fetched update.
	CategoryMessage Category = 0
	// CategoryControl indicates a connection control event.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxCapturedData is the number of payload bytes kept in a MessageEvent.
const MaxCapturedData = 4096

// MessageEvent captures one push message.
type MessageEvent struct {
	// Event is the SSE event name (or WebSocket message type).
	Event string `cbor:"1,keyasint,omitempty"`

	// ID is the message id (paging token for ledger streams).
	ID string `cbor:"2,keyasint,omitempty"`

	// Size is the payload size in bytes.
	Size int `cbor:"3,keyasint"`

	// Data is the payload (may be truncated for large messages).
	Data []byte `cbor:"4,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"5,keyasint,omitempty"`
}

// NewMessageEvent builds a MessageEvent, truncating data to MaxCapturedData.
func NewMessageEvent(event, id string, data []byte) *MessageEvent {
	m := &MessageEvent{Event: event, ID: id, Size: len(data), Data: data}
	if len(data) > MaxCapturedData {
		m.Data = data[:MaxCapturedData]
		m.Truncated = true
	}
	return m
}

// UpdateEvent captures a poller decision about one update.
type UpdateEvent struct {
	// Source says what produced the update.
	Source UpdateSource `cbor:"1,keyasint"`

	// Outcome says what the poller did with it.
	Outcome UpdateOutcome `cbor:"2,keyasint"`

	// Attempt is the stale-retry attempt (0 for the first fetch).
	Attempt int `cbor:"3,keyasint,omitempty"`

	// Duration is the fetch duration. Stored as nanoseconds.
	Duration *time.Duration `cbor:"4,keyasint,omitempty"`
}

// UpdateSource says what triggered a fetch.
type UpdateSource uint8

const (
	// UpdateSourceInit is the initial load.
	UpdateSourceInit UpdateSource = 0
	// UpdateSourcePush is a push notification.
	UpdateSourcePush UpdateSource = 1
	// UpdateSourcePoll is the fallback poll timer.
	UpdateSourcePoll UpdateSource = 2
	// UpdateSourceRetry is a stale-fetch retry.
	UpdateSourceRetry UpdateSource = 3
)

// String returns the update source name.
func (s UpdateSource) String() string {
	switch s {
	case UpdateSourceInit:
		return "INIT"
	case UpdateSourcePush:
		return "PUSH"
	case UpdateSourcePoll:
		return "POLL"
	case UpdateSourceRetry:
		return "RETRY"
	default:
		return "UNKNOWN"
	}
}

// UpdateOutcome says what happened to an update.
type UpdateOutcome uint8

const (
	// UpdateApplied means the update was merged and propagated.
	UpdateApplied UpdateOutcome = 0
	// UpdateStale means the update was older than the current value.
	UpdateStale UpdateOutcome = 1
	// UpdateEmpty means the fetch returned nothing.
	UpdateEmpty UpdateOutcome = 2
	// UpdateDuplicate means the update was identical to the previous one.
	UpdateDuplicate UpdateOutcome = 3
)

// String returns the update outcome name.
func (o UpdateOutcome) String() string {
	switch o {
	case UpdateApplied:
		return "APPLIED"
	case UpdateStale:
		return "STALE"
	case UpdateEmpty:
		return "EMPTY"
	case UpdateDuplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures stream, poller and network lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityStream indicates a push stream state change.
	StateEntityStream StateEntity = 0
	// StateEntityPoller indicates a poller state change.
	StateEntityPoller StateEntity = 1
	// StateEntityNetwork indicates an online/offline transition.
	StateEntityNetwork StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityStream:
		return "STREAM"
	case StateEntityPoller:
		return "POLLER"
	case StateEntityNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures connection control events.
type ControlEvent struct {
	// Type of control event.
	Type ControlType `cbor:"1,keyasint"`

	// Reason is why a connection was closed or redialled.
	Reason string `cbor:"2,keyasint,omitempty"`
}

// ControlType indicates the type of control event.
type ControlType uint8

const (
	// ControlDial indicates a connection attempt.
	ControlDial ControlType = 0
	// ControlOpen indicates an established connection.
	ControlOpen ControlType = 1
	// ControlClose indicates a torn down connection.
	ControlClose ControlType = 2
	// ControlWatchdog indicates the watchdog expired.
	ControlWatchdog ControlType = 3
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlDial:
		return "DIAL"
	case ControlOpen:
		return "OPEN"
	case ControlClose:
		return "CLOSE"
	case ControlWatchdog:
		return "WATCHDOG"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the error classification (CONNECTION, UNEXPECTED, ...).
	Kind string `cbor:"3,keyasint,omitempty"`

	// StatusCode is the HTTP status (if applicable).
	StatusCode *int `cbor:"4,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"5,keyasint,omitempty"`
}

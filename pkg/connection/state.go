package connection

// State is the lifecycle state of a live subscription or push connection.
//
//	Uninitialized -> Initializing -> Active <-> Reconnecting
//	                                   |            |
//	                                   +-> Paused <-+   (device offline)
//	any state -> Closed
type State uint8

const (
	// StateUninitialized indicates nothing has been started yet.
	StateUninitialized State = iota

	// StateInitializing indicates the initial fetch or dial is in progress.
	StateInitializing

	// StateActive indicates updates are flowing.
	StateActive

	// StateReconnecting indicates a failure was seen and a backoff delay is
	// pending before the next attempt.
	StateReconnecting

	// StatePaused indicates the connection was torn down because the device
	// went offline.
	StatePaused

	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateReconnecting:
		return "RECONNECTING"
	case StatePaused:
		return "PAUSED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed
}

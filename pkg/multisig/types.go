package multisig

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a signature request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

// Signer is one required signer of a request.
type Signer struct {
	AccountID string `json:"account_id"`
	KeyWeight int    `json:"key_weight"`
	Signed    bool   `json:"signed"`
}

// Signature is a collected signature.
type Signature struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Request is one signature request.
type Request struct {
	ID         string      `json:"id"`
	Hash       string      `json:"hash"`
	URI        string      `json:"req"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Signers    []Signer    `json:"signers"`
	Signatures []Signature `json:"signatures,omitempty"`
}

// Newer reports whether r carries a strictly later update than other.
func (r Request) Newer(other Request) bool {
	return r.UpdatedAt.After(other.UpdatedAt)
}

// EventKind is the closed set of push event kinds.
type EventKind uint8

const (
	// EventAdded means a new request was created.
	EventAdded EventKind = iota

	// EventUpdated means a request gained a signature or changed status.
	EventUpdated

	// EventSubmitted means a request was submitted to the ledger.
	EventSubmitted
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "ADDED"
	case EventUpdated:
		return "UPDATED"
	case EventSubmitted:
		return "SUBMITTED"
	default:
		return "UNKNOWN"
	}
}

// wireNames maps the service's event names onto kinds.
var wireNames = map[string]EventKind{
	"signature-request:added":     EventAdded,
	"signature-request:updated":   EventUpdated,
	"signature-request:submitted": EventSubmitted,
}

// ParseEventKind maps a wire event name onto a kind.
func ParseEventKind(name string) (EventKind, error) {
	if k, ok := wireNames[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}

// Event is one push event.
type Event struct {
	Kind    EventKind
	Request Request
}

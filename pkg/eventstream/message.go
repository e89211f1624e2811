package eventstream

import (
	"bytes"
	"context"
	"errors"
)

// Message is one push message.
type Message struct {
	// Event is the SSE event name. "message" when the server sent none, and
	// for every WebSocket frame.
	Event string

	// ID is the SSE id field (a paging token on ledger streams).
	ID string

	// Data is the payload. Multi-line SSE data is joined with '\n'.
	Data []byte
}

// DefaultEvent is the event name of messages without an explicit event field.
const DefaultEvent = "message"

var handshakePayload = []byte(`"hello"`)

// IsHandshake reports whether m is the greeting a ledger server sends right
// after a stream opens. Handshakes feed the watchdog but carry no data.
func (m Message) IsHandshake() bool {
	return m.Event == "open" || bytes.Equal(bytes.TrimSpace(m.Data), handshakePayload)
}

// ErrStreamClosed is returned by Conn.Recv after the server ended the stream.
var ErrStreamClosed = errors.New("stream closed by server")

// Conn is an open push connection.
type Conn interface {
	// Recv blocks until the next message arrives or the connection fails.
	Recv() (Message, error)

	// Close releases the connection and unblocks Recv.
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

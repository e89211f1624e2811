package eventstream

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens WebSocket streams. Every text or binary frame is one
// message.
type WebSocketDialer struct {
	// Dialer performs the handshake. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the handshake.
	Header http.Header
}

// Dial performs the WebSocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("%w: %w", &StatusError{URL: url, Code: resp.StatusCode}, err)
		}
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Recv() (Message, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Message{}, ErrStreamClosed
			}
			return Message{}, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return Message{Event: DefaultEvent, Data: data}, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

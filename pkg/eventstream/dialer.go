package eventstream

import (
	"context"
	"strings"
)

// AutoDialer picks the transport from the URL scheme: ws:// and wss:// use
// WebSocket, everything else server-sent events.
type AutoDialer struct {
	SSE       *SSEDialer
	WebSocket *WebSocketDialer
}

// NewAutoDialer returns an AutoDialer with default transports.
func NewAutoDialer() *AutoDialer {
	return &AutoDialer{SSE: &SSEDialer{}, WebSocket: &WebSocketDialer{}}
}

// Dial implements Dialer.
func (d *AutoDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if IsWebSocketURL(url) {
		ws := d.WebSocket
		if ws == nil {
			ws = &WebSocketDialer{}
		}
		return ws.Dial(ctx, url)
	}
	sse := d.SSE
	if sse == nil {
		sse = &SSEDialer{}
	}
	return sse.Dial(ctx, url)
}

// IsWebSocketURL reports whether url has a ws or wss scheme.
func IsWebSocketURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer = (*SSEDialer)(nil)
	_ Dialer = (*WebSocketDialer)(nil)
	_ Dialer = (*AutoDialer)(nil)
)

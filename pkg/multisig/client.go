package multisig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// ServiceName is the service label used in errors and health events.
const ServiceName = "multisig"

// ErrIgnoredEvent is returned by ParseEvent for messages that are not
// request events, such as handshakes and keep-alives.
var ErrIgnoredEvent = errors.New("not a signature request event")

// ClientConfig configures a Client.
type ClientConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the coordination service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// URL returns the base URL.
func (c *Client) URL() string {
	return c.baseURL
}

// Requests lists the requests that concern any of pubkeys.
func (c *Client) Requests(ctx context.Context, pubkeys []string) ([]Request, error) {
	u := c.baseURL + "/requests?" + pubkeyQuery(pubkeys).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, syncerr.Unexpected("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, syncerr.NewConnectionError(ServiceName, "list requests", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, syncerr.NewConnectionError(ServiceName, "read requests", err)
	}
	if err := syncerr.FromStatus(ServiceName, resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		return nil, syncerr.Unexpected("decode requests", err)
	}
	c.logger.Debug("listed signature requests", "count", len(requests))
	return requests, nil
}

// StreamURL returns the push URL for pubkeys. A ws or wss base URL yields a
// WebSocket stream.
func (c *Client) StreamURL(pubkeys []string) string {
	return c.baseURL + "/stream?" + pubkeyQuery(pubkeys).Encode()
}

func pubkeyQuery(pubkeys []string) url.Values {
	q := url.Values{}
	for _, k := range pubkeys {
		q.Add("pubkey", k)
	}
	return q
}

// ParseEvent decodes a push message. SSE messages carry the kind in the
// event name and the request as data. WebSocket frames carry both in a JSON
// envelope: {"type": "signature-request:added", "signatureRequest": {...}}.
func ParseEvent(m eventstream.Message) (Event, error) {
	if m.IsHandshake() {
		return Event{}, ErrIgnoredEvent
	}

	name := m.Event
	data := m.Data
	if name == eventstream.DefaultEvent || name == "" {
		envelope := gjson.ParseBytes(m.Data)
		if !envelope.IsObject() {
			return Event{}, ErrIgnoredEvent
		}
		name = envelope.Get("type").String()
		payload := envelope.Get("signatureRequest")
		if !payload.Exists() {
			return Event{}, ErrIgnoredEvent
		}
		data = []byte(payload.Raw)
	}

	kind, err := ParseEventKind(name)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrIgnoredEvent, err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Event{}, syncerr.Unexpected("decode "+name, err)
	}
	return Event{Kind: kind, Request: req}, nil
}

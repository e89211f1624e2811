package horizon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// ServiceName is the service label used in errors and health events.
const ServiceName = "horizon"

// DefaultTimeout bounds one shared GET round trip.
const DefaultTimeout = 30 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the server base URL.
	URL string

	// HTTPClient performs requests. Use a fetchqueue client to bound
	// concurrency. Nil uses a plain client.
	HTTPClient *http.Client

	// Timeout bounds one round trip. Default DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client talks to one ledger API server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    httpClient,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// URL returns the base URL.
func (c *Client) URL() string {
	return c.baseURL
}

// Account fetches an account. A not yet funded account returns an error
// wrapping syncerr.ErrNotYetPresent.
func (c *Client) Account(ctx context.Context, id string) (Account, error) {
	var acc Account
	err := c.get(ctx, "/accounts/"+url.PathEscape(id), nil, &acc)
	return acc, err
}

// Effects fetches a page of account effects.
func (c *Client) Effects(ctx context.Context, accountID string, req PageRequest) ([]Effect, error) {
	var p page[Effect]
	err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/effects", req.query(), &p)
	return p.Embedded.Records, err
}

// Offers fetches a page of open offers of an account.
func (c *Client) Offers(ctx context.Context, accountID string, req PageRequest) ([]Offer, error) {
	var p page[Offer]
	err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/offers", req.query(), &p)
	return p.Embedded.Records, err
}

// Transactions fetches a page of account transactions.
func (c *Client) Transactions(ctx context.Context, accountID string, req PageRequest) ([]Transaction, error) {
	var p page[Transaction]
	err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/transactions", req.query(), &p)
	return p.Embedded.Records, err
}

// Orderbook fetches the order book summary for a pair.
func (c *Client) Orderbook(ctx context.Context, selling, buying Asset, limit int) (Orderbook, error) {
	q := orderbookQuery(selling, buying)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var ob Orderbook
	err := c.get(ctx, "/order_book", q, &ob)
	return ob, err
}

// get performs a shared GET and decodes the body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	// The shared request outlives any single caller; each caller only waits
	// as long as its own context allows.
	ch := c.group.DoChan(u, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(rctx, u)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if err := json.Unmarshal(res.Val.([]byte), out); err != nil {
			return syncerr.Unexpected("decode "+path, err)
		}
		return nil
	}
}

func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, syncerr.Unexpected("build request", err)
	}
	req.Header.Set("Accept", "application/hal+json, application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerr.NewConnectionError(ServiceName, "GET "+redact(u), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.NewConnectionError(ServiceName, "read "+redact(u), err)
	}
	c.logger.Debug("horizon request", "url", u, "status", resp.StatusCode, "duration", time.Since(start))

	if err := syncerr.FromStatus(ServiceName, resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("GET %s: %w", redact(u), err)
	}
	return body, nil
}

// redact drops the query so cursors do not end up in error strings.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func (r PageRequest) query() url.Values {
	q := url.Values{}
	if r.Cursor != "" {
		q.Set("cursor", r.Cursor)
	}
	if r.Limit > 0 {
		q.Set("limit", strconv.Itoa(r.Limit))
	}
	if r.Order != "" {
		q.Set("order", string(r.Order))
	}
	return q
}

func orderbookQuery(selling, buying Asset) url.Values {
	q := url.Values{}
	addAsset(q, "selling", selling)
	addAsset(q, "buying", buying)
	return q
}

func addAsset(q url.Values, prefix string, a Asset) {
	q.Set(prefix+"_asset_type", a.Type)
	if !a.IsNative() {
		q.Set(prefix+"_asset_code", a.Code)
		q.Set(prefix+"_asset_issuer", a.Issuer)
	}
}

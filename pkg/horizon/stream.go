package horizon

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// CursorNow asks a stream for live records only.
const CursorNow = "now"

// AccountStreamURL returns the push URL for an account record. The server
// sends the full record on every change and repeats it periodically.
func (c *Client) AccountStreamURL(accountID string) string {
	return c.baseURL + "/accounts/" + url.PathEscape(accountID)
}

// EffectsStreamURL returns the push URL for account effects from cursor.
func (c *Client) EffectsStreamURL(accountID, cursor string) string {
	return c.streamURL("/accounts/"+url.PathEscape(accountID)+"/effects", cursor, nil)
}

// TransactionsStreamURL returns the push URL for account transactions.
func (c *Client) TransactionsStreamURL(accountID, cursor string) string {
	return c.streamURL("/accounts/"+url.PathEscape(accountID)+"/transactions", cursor, nil)
}

// OrderbookStreamURL returns the push URL for an order book.
func (c *Client) OrderbookStreamURL(selling, buying Asset, cursor string) string {
	return c.streamURL("/order_book", cursor, orderbookQuery(selling, buying))
}

func (c *Client) streamURL(path, cursor string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	if cursor == "" {
		cursor = CursorNow
	}
	q.Set("cursor", cursor)
	return c.baseURL + path + "?" + q.Encode()
}

// RecordType extracts the type of a raw push record.
func RecordType(data []byte) string {
	return gjson.GetBytes(data, "type").String()
}

// IsRecord reports whether data is a JSON object carrying a paging token.
func IsRecord(data []byte) bool {
	r := gjson.ParseBytes(data)
	return r.IsObject() && r.Get("paging_token").Exists()
}

// CompareCursors orders two paging tokens. Tokens are one or more decimal
// numbers joined by '-' and compare part by part numerically. The empty
// token sorts before everything. Tokens that are not numeric fall back to
// length then lexical order.
func CompareCursors(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	ap := strings.Split(a, "-")
	bp := strings.Split(b, "-")
	for i := 0; i < len(ap) && i < len(bp); i++ {
		if c := compareNumeric(ap[i], bp[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ap) < len(bp):
		return -1
	case len(ap) > len(bp):
		return 1
	default:
		return 0
	}
}

func compareNumeric(a, b string) int {
	an, aerr := strconv.ParseUint(a, 10, 64)
	bn, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) != len(b):
		if len(a) < len(b) {
			return -1
		}
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Newer reports whether token a is strictly newer than b.
func Newer(a, b string) bool {
	return CompareCursors(a, b) > 0
}

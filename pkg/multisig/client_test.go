package multisig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

const requestJSON = `{"id":"r1","hash":"h1","req":"web+stellar:tx?xdr=AAA","status":"pending",
	"created_at":"2026-02-01T10:00:00Z","updated_at":"2026-02-01T10:05:00Z",
	"signers":[{"account_id":"GA","key_weight":1,"signed":true},{"account_id":"GB","key_weight":1,"signed":false}]}`

func TestRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/requests", r.URL.Path)
		assert.Equal(t, []string{"GA", "GB"}, r.URL.Query()["pubkey"])
		fmt.Fprint(w, "["+requestJSON+"]")
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{URL: srv.URL})
	reqs, err := c.Requests(context.Background(), []string{"GA", "GB"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	r := reqs[0]
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, "web+stellar:tx?xdr=AAA", r.URI)
	require.Len(t, r.Signers, 2)
	assert.True(t, r.Signers[0].Signed)
}

func TestRequestsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   syncerr.Kind
	}{
		{"Unavailable", http.StatusServiceUnavailable, "", syncerr.KindConnection},
		{"Garbage", http.StatusOK, "{", syncerr.KindUnexpected},
		{"Forbidden", http.StatusForbidden, "", syncerr.KindUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(ClientConfig{URL: srv.URL}).Requests(context.Background(), []string{"GA"})
			if got := syncerr.Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	c := NewClient(ClientConfig{URL: "wss://multisig.example/"})
	assert.Equal(t, "wss://multisig.example/stream?pubkey=GA&pubkey=GB", c.StreamURL([]string{"GA", "GB"}))
	assert.True(t, eventstream.IsWebSocketURL(c.StreamURL(nil)))
}

func TestParseEventSSE(t *testing.T) {
	ev, err := ParseEvent(eventstream.Message{Event: "signature-request:updated", Data: []byte(requestJSON)})
	require.NoError(t, err)

	assert.Equal(t, EventUpdated, ev.Kind)
	assert.Equal(t, "r1", ev.Request.ID)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC), ev.Request.UpdatedAt)
}

func TestParseEventWebSocket(t *testing.T) {
	data := `{"type":"signature-request:submitted","signatureRequest":` + requestJSON + `}`
	ev, err := ParseEvent(eventstream.Message{Event: eventstream.DefaultEvent, Data: []byte(data)})
	require.NoError(t, err)

	assert.Equal(t, EventSubmitted, ev.Kind)
	assert.Equal(t, "h1", ev.Request.Hash)
}

func TestParseEventIgnored(t *testing.T) {
	tests := []struct {
		name string
		msg  eventstream.Message
	}{
		{"Handshake", eventstream.Message{Event: "open", Data: []byte(`"hello"`)}},
		{"UnknownKind", eventstream.Message{Event: "signature-request:deleted", Data: []byte(requestJSON)}},
		{"NoEnvelope", eventstream.Message{Event: eventstream.DefaultEvent, Data: []byte(`{"type":"ping"}`)}},
		{"NotObject", eventstream.Message{Event: eventstream.DefaultEvent, Data: []byte(`42`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent(tt.msg)
			if !errors.Is(err, ErrIgnoredEvent) {
				t.Errorf("ParseEvent() error = %v, want ErrIgnoredEvent", err)
			}
		})
	}
}

func TestParseEventBadPayload(t *testing.T) {
	_, err := ParseEvent(eventstream.Message{Event: "signature-request:added", Data: []byte(`{"id": 5}`)})
	assert.Equal(t, syncerr.KindUnexpected, syncerr.Classify(err))
}

func TestEventKindString(t *testing.T) {
	for kind, want := range map[EventKind]string{
		EventAdded:     "ADDED",
		EventUpdated:   "UPDATED",
		EventSubmitted: "SUBMITTED",
		EventKind(9):   "UNKNOWN",
	} {
		if got := kind.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestRequestNewer(t *testing.T) {
	a := Request{UpdatedAt: time.Unix(10, 0)}
	b := Request{UpdatedAt: time.Unix(20, 0)}
	assert.True(t, b.Newer(a))
	assert.False(t, a.Newer(b))
	assert.False(t, a.Newer(a))
}

package livedata

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 3 * time.Second

// streamConn is one open push connection on the fake server.
type streamConn struct {
	path string
	send chan string
}

// Push sends one SSE message with the given JSON data.
func (c *streamConn) Push(data string) {
	c.send <- "data: " + data + "\n\n"
}

// PushEvent sends one named SSE message.
func (c *streamConn) PushEvent(event, data string) {
	c.send <- "event: " + event + "\ndata: " + data + "\n\n"
}

// fakeServer serves the ledger REST API, the multisig API and push streams
// for both from memory.
type fakeServer struct {
	*httptest.Server

	mu         sync.Mutex
	accounts   map[string]string
	effects    []string
	offers     []string
	orderbook  string
	requests   []string
	streamCode int
	opened     map[string]int
	conns      map[string]chan *streamConn
	done       chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		accounts:  make(map[string]string),
		orderbook: orderbookJSON("0.5"),
		opened:    make(map[string]int),
		conns:     make(map[string]chan *streamConn),
		done:      make(chan struct{}),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(func() {
		close(f.done)
		f.Close()
	})
	return f
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "text/event-stream" {
		f.serveStream(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	q := r.URL.Query()
	switch {
	case path == "/order_book":
		fmt.Fprint(w, f.orderbook)
	case path == "/requests":
		fmt.Fprint(w, "["+strings.Join(f.requests, ",")+"]")
	case strings.HasSuffix(path, "/effects"):
		fmt.Fprint(w, page(selectRecords(f.effects, q.Get("cursor"), q.Get("order"), q.Get("limit"))))
	case strings.HasSuffix(path, "/offers"):
		fmt.Fprint(w, page(f.offers))
	case strings.HasPrefix(path, "/accounts/"):
		account, ok := f.accounts[strings.TrimPrefix(path, "/accounts/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"status":404,"title":"Resource Missing"}`)
			return
		}
		fmt.Fprint(w, account)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) serveStream(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	code := f.streamCode
	f.opened[r.URL.Path]++
	f.mu.Unlock()

	if code != 0 {
		w.WriteHeader(code)
		return
	}

	conn := &streamConn{path: r.URL.Path, send: make(chan string, 16)}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: open\ndata: \"hello\"\n\n")
	w.(http.Flusher).Flush()

	select {
	case f.connChan(r.URL.Path) <- conn:
	default:
	}

	for {
		select {
		case frame := <-conn.send:
			fmt.Fprint(w, frame)
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		case <-f.done:
			return
		}
	}
}

func (f *fakeServer) connChan(path string) chan *streamConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.conns[path]
	if !ok {
		ch = make(chan *streamConn, 16)
		f.conns[path] = ch
	}
	return ch
}

// stream waits for the next push connection on path.
func (f *fakeServer) stream(t *testing.T, path string) *streamConn {
	t.Helper()
	select {
	case c := <-f.connChan(path):
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("no stream connection on %s", path)
		return nil
	}
}

func (f *fakeServer) streamsOpened(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[path]
}

func (f *fakeServer) setAccount(id string, ledger int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id] = accountJSON(id, ledger)
}

func (f *fakeServer) removeAccount(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, id)
}

func (f *fakeServer) addEffect(token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := effectJSON(token)
	f.effects = append(f.effects, e)
	return e
}

func (f *fakeServer) setOffers(offers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = offers
}

func (f *fakeServer) setOrderbook(book string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderbook = book
}

func (f *fakeServer) setRequests(requests ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = requests
}

func (f *fakeServer) setStreamCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCode = code
}

// selectRecords applies cursor, order and limit to records stored oldest
// first. Paging tokens are plain integers.
func selectRecords(records []string, cursor, order, limit string) []string {
	type rec struct {
		token int
		json  string
	}
	var all []rec
	for _, r := range records {
		token, _ := strconv.Atoi(between(r, `"paging_token":"`, `"`))
		all = append(all, rec{token, r})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].token < all[j].token })
	if order == "desc" {
		sort.Slice(all, func(i, j int) bool { return all[i].token > all[j].token })
	}

	after, hasCursor := 0, cursor != "" && cursor != "now"
	if hasCursor {
		after, _ = strconv.Atoi(cursor)
	}
	n, _ := strconv.Atoi(limit)

	var out []string
	for _, r := range all {
		if hasCursor && r.token <= after {
			continue
		}
		out = append(out, r.json)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	j := strings.Index(s, end)
	if j < 0 {
		return ""
	}
	return s[:j]
}

func page(records []string) string {
	return `{"_embedded":{"records":[` + strings.Join(records, ",") + `]}}`
}

func accountJSON(id string, ledger int64) string {
	return fmt.Sprintf(`{"id":%q,"account_id":%q,"sequence":"100","last_modified_ledger":%d,`+
		`"thresholds":{"low_threshold":0,"med_threshold":0,"high_threshold":0},`+
		`"balances":[{"asset_type":"native","balance":"10.0000000"}],"signers":[],"paging_token":%q}`,
		id, id, ledger, id)
}

func effectJSON(token string) string {
	return fmt.Sprintf(`{"id":"e-%s","paging_token":%q,"account":"GA","type":"account_credited","type_i":2,`+
		`"created_at":"2026-01-01T00:00:00Z"}`, token, token)
}

func offerJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"paging_token":%q,"seller":"GA","selling":{"asset_type":"native"},`+
		`"buying":{"asset_type":"credit_alphanum4","asset_code":"USD","asset_issuer":"GI"},`+
		`"amount":"10.0","price_r":{"n":1,"d":2},"price":"0.5","last_modified_ledger":5}`, id, id)
}

func orderbookJSON(price string) string {
	return `{"bids":[{"price_r":{"n":1,"d":2},"price":"` + price + `","amount":"10.0"}],"asks":[],` +
		`"base":{"asset_type":"native"},` +
		`"counter":{"asset_type":"credit_alphanum4","asset_code":"USD","asset_issuer":"GI"}}`
}

func requestJSON(id, updatedAt string) string {
	return fmt.Sprintf(`{"id":%q,"hash":"h-%s","req":"web+stellar:tx?xdr=AAA","status":"pending",`+
		`"created_at":"2026-02-01T10:00:00Z","updated_at":%q,`+
		`"signers":[{"account_id":"GA","key_weight":1,"signed":false}]}`, id, id, updatedAt)
}

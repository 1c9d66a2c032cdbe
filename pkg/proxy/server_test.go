package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/web-cache/internal/testutil"
	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/Sternrassler/web-cache/pkg/message"
	"github.com/Sternrassler/web-cache/pkg/origin"
	"github.com/Sternrassler/web-cache/pkg/store"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   cache.Store
	manager *cache.Manager
	origin  *testutil.MockOrigin
	clock   *fakeClock
	addr    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.OpenLevelDB("")
	if err != nil {
		t.Fatalf("OpenLevelDB() error = %v", err)
	}
	manager := cache.NewManager(st, time.Second)
	mock := testutil.NewMockOrigin()

	fetcher := origin.New(origin.Config{DialTimeout: time.Second, IOTimeout: 2 * time.Second}, zerolog.Nop())
	srv := New(DefaultConfig(), manager, fetcher, zerolog.Nop())

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	srv.SetClock(clock.Now)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
		mock.Close()
		st.Close()
	})

	return &harness{
		store:   st,
		manager: manager,
		origin:  mock,
		clock:   clock,
		addr:    ln.Addr().String(),
	}
}

// send writes raw to the proxy and parses the full reply.
func (h *harness) send(t *testing.T, raw string) *message.Response {
	t.Helper()

	conn, err := net.Dial("tcp", h.addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	out, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	resp, err := message.ParseResponse(out)
	if err != nil {
		t.Fatalf("ParseResponse(%q) error = %v", out, err)
	}
	if resp.Header.Get("Server") != ServerName {
		t.Errorf("Server header = %q, want %q", resp.Header.Get("Server"), ServerName)
	}
	if _, err := cache.ParseDate(resp.Header.Get("Date")); err != nil {
		t.Errorf("Date header %q: %v", resp.Header.Get("Date"), err)
	}
	return resp
}

func (h *harness) get(t *testing.T, path string) *message.Response {
	t.Helper()
	return h.send(t, "GET "+path+" HTTP/1.1\r\nHost: "+h.origin.Addr()+"\r\n\r\n")
}

func (h *harness) entry(t *testing.T, path string) *cache.Entry {
	t.Helper()
	e, err := h.manager.Lookup(context.Background(), cache.DeriveKey([]byte(path)))
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", path, err)
	}
	return e
}

func expectReply(t *testing.T, resp *message.Response, status int, body string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Errorf("status = %d, want %d", resp.StatusCode, status)
	}
	if body != "" && string(resp.Body) != body {
		t.Errorf("body = %q, want %q", resp.Body, body)
	}
}

const (
	lm1 = "Thu, 29 Feb 2024 10:00:00 GMT"
	lm2 = "Fri, 08 Mar 2024 10:00:00 GMT"
)

func TestServer_CacheMissRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/page", testutil.NewOKResponse("B", lm1))

	expectReply(t, h.get(t, "/page"), 200, "B")

	e := h.entry(t, "/page")
	if string(e.Body) != "B" || e.LastModified != lm1 {
		t.Errorf("stored entry = %+v", e)
	}
	if !e.SavedDate.Equal(h.clock.Now()) {
		t.Errorf("SavedDate = %v, want %v", e.SavedDate, h.clock.Now())
	}
}

func TestServer_FreshHit(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/page", testutil.NewOKResponse("B", lm1))

	h.get(t, "/page")
	h.clock.Advance(FreshWithin)

	expectReply(t, h.get(t, "/page"), 200, "B")

	if n := h.origin.GetRequestCount(); n != 1 {
		t.Errorf("origin requests = %d, want 1", n)
	}
}

// FreshWithin is a point inside the freshness window.
const FreshWithin = cache.FreshnessWindow - time.Second

func TestServer_StaleNotModified(t *testing.T) {
	h := newHarness(t)
	h.origin.SetHandler("/page", testutil.ConditionalHandler("B", lm1))

	h.get(t, "/page")
	h.clock.Advance(cache.FreshnessWindow + time.Second)

	expectReply(t, h.get(t, "/page"), 200, "B")

	if n := h.origin.GetConditionalCount(); n != 1 {
		t.Errorf("conditional requests = %d, want 1", n)
	}
	if !bytes.Contains(h.origin.GetLastRaw(), []byte("If-Modified-Since: "+lm1+"\r\n")) {
		t.Errorf("revalidation request = %q", h.origin.GetLastRaw())
	}

	e := h.entry(t, "/page")
	if !e.SavedDate.Equal(h.clock.Now()) {
		t.Errorf("SavedDate = %v, want advanced to %v", e.SavedDate, h.clock.Now())
	}
	if string(e.Body) != "B" || e.LastModified != lm1 {
		t.Errorf("entry changed on 304: %+v", e)
	}

	// Refreshed entry is fresh again.
	expectReply(t, h.get(t, "/page"), 200, "B")
	if n := h.origin.GetRequestCount(); n != 2 {
		t.Errorf("origin requests = %d, want 2", n)
	}
}

func TestServer_StaleModified(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/page", testutil.NewOKResponse("B", lm1))

	h.get(t, "/page")
	h.origin.SetResponse("/page", testutil.NewOKResponse("B2", lm2))
	h.clock.Advance(cache.FreshnessWindow + time.Second)

	expectReply(t, h.get(t, "/page"), 200, "B2")

	e := h.entry(t, "/page")
	if string(e.Body) != "B2" || e.LastModified != lm2 {
		t.Errorf("entry not overwritten: %+v", e)
	}
	if !e.SavedDate.Equal(h.clock.Now()) {
		t.Errorf("SavedDate = %v, want %v", e.SavedDate, h.clock.Now())
	}
}

func TestServer_StaleWithoutLastModified(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/page", testutil.NewOKResponse("B", ""))

	h.get(t, "/page")
	h.clock.Advance(cache.FreshnessWindow + time.Second)
	h.get(t, "/page")

	if n := h.origin.GetConditionalCount(); n != 0 {
		t.Errorf("conditional requests = %d, want 0 without Last-Modified", n)
	}
	if n := h.origin.GetRequestCount(); n != 2 {
		t.Errorf("origin requests = %d, want 2", n)
	}
}

func TestServer_NonCacheablePassthrough(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/missing", testutil.NewNotFoundResponse())

	expectReply(t, h.get(t, "/missing"), 404, "not found")

	exists, err := h.store.Exists(context.Background(), cache.DeriveKey([]byte("/missing")).String())
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("404 response was cached")
	}

	// Not cached, so retried from scratch.
	h.get(t, "/missing")
	if n := h.origin.GetRequestCount(); n != 2 {
		t.Errorf("origin requests = %d, want 2", n)
	}
}

func TestServer_OriginErrorStatusesRelayed(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/private", testutil.MockResponse{StatusCode: 403, Body: "no access"})
	h.origin.SetResponse("/broken", testutil.MockResponse{StatusCode: 500, Body: "stack trace"})

	expectReply(t, h.get(t, "/private"), 403, "no access")
	expectReply(t, h.get(t, "/broken"), 500, "stack trace")

	for _, path := range []string{"/private", "/broken"} {
		exists, err := h.store.Exists(context.Background(), cache.DeriveKey([]byte(path)).String())
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Errorf("%s response was cached", path)
		}
	}
}

func TestServer_OriginRequestHeaders(t *testing.T) {
	h := newHarness(t)
	h.origin.SetHandler("/page", testutil.ConditionalHandler("B", lm1))

	h.get(t, "/page")
	req := h.origin.GetLastRequest()
	if req == nil {
		t.Fatal("origin saw no request")
	}
	if req.Method != "GET" || req.Target != "/page" || req.Version != "HTTP/1.1" {
		t.Errorf("request line = %s %s %s", req.Method, req.Target, req.Version)
	}
	if got := req.Header.Get("Host"); got != h.origin.Addr() {
		t.Errorf("Host = %q, want %q", got, h.origin.Addr())
	}
	if got := req.Header.Get("Connection"); got != "close" {
		t.Errorf("Connection = %q, want close", got)
	}
	if _, ok := req.Header.Lookup("If-Modified-Since"); ok {
		t.Error("first fetch should be unconditional")
	}

	h.origin.Reset()
	h.clock.Advance(cache.FreshnessWindow)

	expectReply(t, h.get(t, "/page"), 200, "B")
	if n := h.origin.GetRequestCount(); n != 1 {
		t.Errorf("origin requests since reset = %d, want 1", n)
	}
	if got := h.origin.GetLastRequest().Header.Get("If-Modified-Since"); got != lm1 {
		t.Errorf("If-Modified-Since = %q, want %q", got, lm1)
	}
}

func TestServer_RepeatedFreshHitsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/page", testutil.NewOKResponse("B", lm1))
	h.get(t, "/page")

	ctx := context.Background()
	key := cache.DeriveKey([]byte("/page")).String()
	fields := []string{cache.FieldSavedDate, cache.FieldLastModified, cache.FieldEntityBody}

	before, err := h.store.MGet(ctx, key, fields...)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Hour)
		expectReply(t, h.get(t, "/page"), 200, "B")
	}

	after, err := h.store.MGet(ctx, key, fields...)
	if err != nil {
		t.Fatal(err)
	}
	for i := range fields {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("%s changed: %q -> %q", fields[i], before[i], after[i])
		}
	}
	if n := h.origin.GetRequestCount(); n != 1 {
		t.Errorf("origin requests = %d, want 1", n)
	}
}

func TestServer_AbsoluteTargetWithoutHost(t *testing.T) {
	h := newHarness(t)
	target := h.origin.URL("/abs")
	h.origin.SetResponse(target, testutil.NewOKResponse("absolute", ""))

	expectReply(t, h.send(t, "GET "+target+" HTTP/1.1\r\n\r\n"), 200, "absolute")
	h.entry(t, target)
}

func TestServer_ErrorReplies(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/teapot", testutil.MockResponse{StatusCode: 418, Body: "short and stout"})

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := closed.Addr().String()
	closed.Close()

	tests := []struct {
		name   string
		raw    string
		status int
	}{
		{name: "malformed request line", raw: "GARBAGE\r\n\r\n", status: 400},
		{name: "missing host", raw: "GET /page HTTP/1.1\r\n\r\n", status: 400},
		{name: "bad port", raw: "GET /page HTTP/1.1\r\nHost: example.com:x\r\n\r\n", status: 400},
		{name: "unsupported method", raw: "POST /page HTTP/1.1\r\nHost: " + h.origin.Addr() + "\r\nContent-Length: 2\r\n\r\nhi", status: 501},
		{name: "unsupported version", raw: "GET /page HTTP/2.0\r\nHost: " + h.origin.Addr() + "\r\n\r\n", status: 505},
		{name: "origin unreachable", raw: "GET /page HTTP/1.1\r\nHost: " + deadAddr + "\r\n\r\n", status: 502},
		{name: "origin status outside table", raw: "GET /teapot HTTP/1.1\r\nHost: " + h.origin.Addr() + "\r\n\r\n", status: 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectReply(t, h.send(t, tt.raw), tt.status, "")
		})
	}
}

func TestServer_StoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.store.Close()

	expectReply(t, h.get(t, "/page"), 503, "")
	if n := h.origin.GetRequestCount(); n != 0 {
		t.Errorf("origin requests = %d, want 0", n)
	}
}

// The client deadline must not expire while the origin fetch is still
// allowed to run, or the 504 is never delivered.
func TestServer_OriginTimeout(t *testing.T) {
	st, err := store.OpenLevelDB("")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockResponse{StatusCode: 200, Body: "late", Delay: time.Second})

	timeout := 300 * time.Millisecond
	fetcher := origin.New(origin.Config{DialTimeout: timeout, IOTimeout: timeout}, zerolog.Nop())
	srv := New(Config{ClientTimeout: timeout}, cache.NewManager(st, time.Second), fetcher, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	out, err := testutil.SendRaw(ln.Addr().String(), "GET /slow HTTP/1.1\r\nHost: "+mock.Addr()+"\r\n\r\n", 5*time.Second)
	if err != nil {
		t.Fatalf("SendRaw() error = %v", err)
	}
	if len(out) == 0 {
		t.Fatal("connection closed without a reply")
	}
	resp, err := message.ParseResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	expectReply(t, resp, 504, "")
}

// A slow origin that answers within its own timeout is still relayed after
// the client read deadline has passed.
func TestServer_SlowOriginWithinTimeout(t *testing.T) {
	st, err := store.OpenLevelDB("")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	mock := testutil.NewMockOrigin()
	defer mock.Close()
	fetcher := origin.New(origin.Config{DialTimeout: time.Second, IOTimeout: 2 * time.Second}, zerolog.Nop())
	srv := New(Config{ClientTimeout: 200 * time.Millisecond}, cache.NewManager(st, time.Second), fetcher, zerolog.Nop())
	mock.SetResponse("/slow", testutil.MockResponse{
		StatusCode: 200,
		Body:       "late",
		Headers:    map[string]string{"Last-Modified": lm1},
		Delay:      500 * time.Millisecond,
	})

	client, server := net.Pipe()
	go srv.ServeConn(context.Background(), server)
	defer client.Close()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write([]byte("GET /slow HTTP/1.1\r\nHost: " + mock.Addr() + "\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := message.ParseResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	expectReply(t, resp, 200, "late")
}

func TestServer_ConcurrentRequests(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/page", testutil.NewOKResponse("B", lm1))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			expectReply(t, h.get(t, "/page"), 200, "B")
		}()
	}
	wg.Wait()

	if e := h.entry(t, "/page"); string(e.Body) != "B" {
		t.Errorf("entry body = %q", e.Body)
	}
}

// Package testutil provides testing utilities for the web cache.
package testutil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/web-cache/pkg/message"
)

// MockResponse defines what the mock origin replies for a target.
type MockResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	Delay      time.Duration

	// Raw, when set, is written verbatim instead of a composed response.
	Raw string
}

// MockOrigin is a scripted origin server speaking raw HTTP/1.1 over TCP.
// It always closes the connection after replying.
type MockOrigin struct {
	ln       net.Listener
	mu       sync.RWMutex
	handlers map[string]func(req *message.Request) MockResponse
	wg       sync.WaitGroup

	// Tracking
	RequestCount     int
	ConditionalCount int
	LastRequest      *message.Request
	LastRaw          []byte
}

// NewMockOrigin starts a mock origin on a loopback port.
func NewMockOrigin() *MockOrigin {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("testutil: listen: %v", err))
	}

	mock := &MockOrigin{
		ln:       ln,
		handlers: make(map[string]func(req *message.Request) MockResponse),
	}

	mock.wg.Add(1)
	go mock.serve()

	return mock
}

// Addr returns the host:port the origin listens on, usable as a Host header.
func (m *MockOrigin) Addr() string {
	return m.ln.Addr().String()
}

// URL returns an absolute URL for path on this origin.
func (m *MockOrigin) URL(path string) string {
	return "http://" + m.Addr() + path
}

// Close shuts down the mock origin.
func (m *MockOrigin) Close() {
	m.ln.Close()
	m.wg.Wait()
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequest = nil
	m.LastRaw = nil
}

// SetHandler sets a custom handler for a request target.
func (m *MockOrigin) SetHandler(target string, handler func(req *message.Request) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[target] = handler
}

// SetResponse configures a fixed response for a request target.
func (m *MockOrigin) SetResponse(target string, resp MockResponse) {
	m.SetHandler(target, func(*message.Request) MockResponse { return resp })
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockOrigin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of requests carrying If-Modified-Since.
func (m *MockOrigin) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastRequest returns the last parsed request received.
func (m *MockOrigin) GetLastRequest() *message.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequest
}

// GetLastRaw returns the bytes of the last request received.
func (m *MockOrigin) GetLastRaw() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRaw
}

func (m *MockOrigin) serve() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer conn.Close()
			m.handle(conn)
		}()
	}
}

func (m *MockOrigin) handle(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	raw, err := message.ReadMessage(conn, message.BodyByLength, message.DefaultLimits())
	if err != nil {
		return
	}
	req, err := message.ParseRequest(raw)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.LastRequest = req
	m.LastRaw = raw
	if _, ok := req.Header.Lookup("If-Modified-Since"); ok {
		m.ConditionalCount++
	}
	handler, exists := m.handlers[req.Target]
	m.mu.Unlock()

	resp := MockResponse{StatusCode: http.StatusOK, Body: "ok"}
	if exists {
		resp = handler(req)
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	if resp.Raw != "" {
		conn.Write([]byte(resp.Raw))
		return
	}
	conn.Write(resp.Bytes())
}

// Bytes renders the response as the origin sends it.
func (r MockResponse) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.StatusCode, http.StatusText(r.StatusCode))
	for k, v := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return []byte(b.String())
}

// NewOKResponse creates a 200 response with a Last-Modified header.
func NewOKResponse(body, lastModified string) MockResponse {
	headers := map[string]string{
		"Date":         time.Now().UTC().Format(http.TimeFormat),
		"Content-Type": "text/html; charset=utf-8",
	}
	if lastModified != "" {
		headers["Last-Modified"] = lastModified
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    headers,
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers: map[string]string{
			"Date": time.Now().UTC().Format(http.TimeFormat),
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "not found",
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}
}

// ConditionalHandler replies 304 when If-Modified-Since equals
// lastModified and otherwise 200 with body.
func ConditionalHandler(body, lastModified string) func(req *message.Request) MockResponse {
	return func(req *message.Request) MockResponse {
		if req.Header.Get("If-Modified-Since") == lastModified {
			return NewNotModifiedResponse()
		}
		return NewOKResponse(body, lastModified)
	}
}

// Package origin fetches responses from origin servers over one-shot
// HTTP/1.1 connections.
package origin

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/Sternrassler/web-cache/pkg/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for origin fetches.
var (
	originRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcache_origin_requests_total",
		Help: "Total origin requests by kind and status",
	}, []string{"kind", "status"})

	originRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webcache_origin_request_duration_seconds",
		Help:    "Origin request duration in seconds by kind",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	originErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcache_origin_errors_total",
		Help: "Total origin failures by failing step",
	}, []string{"reason"})
)

// Request kinds used as metric labels.
const (
	KindUnconditional = "unconditional"
	KindConditional   = "conditional"
)

// Config holds the client configuration.
type Config struct {
	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration

	// IOTimeout bounds sending the request and reading the whole response.
	IOTimeout time.Duration

	// Limits bounds the buffered response.
	Limits message.Limits
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		DialTimeout: 5 * time.Second,
		IOTimeout:   30 * time.Second,
		Limits:      message.DefaultLimits(),
	}
}

// Client fetches from origins. It opens a new connection per call.
type Client struct {
	config Config
	dialer net.Dialer
	logger zerolog.Logger
}

// New creates a new origin client.
func New(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	return &Client{
		config: cfg,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
		logger: logger,
	}
}

// BuildRequest renders the single-shot GET sent to the origin.
// If-Modified-Since is added only when lastModified is set.
func BuildRequest(target Target, url, lastModified string) []byte {
	var b bytes.Buffer
	b.WriteString("GET " + url + " HTTP/1.1\r\n")
	b.WriteString("Host: " + target.Host + "\r\n")
	b.WriteString("Connection: close\r\n")
	if lastModified != "" {
		b.WriteString("If-Modified-Since: " + lastModified + "\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// Fetch sends a GET for url to target and reads the response until the
// origin closes the connection. A non-empty lastModified makes the request
// conditional.
//
// Every failure is an *Error matching ErrOriginUnreachable. Nothing is
// retried.
func (c *Client) Fetch(ctx context.Context, target Target, url, lastModified string) (*message.Response, error) {
	kind := KindUnconditional
	if lastModified != "" {
		kind = KindConditional
	}

	startTime := time.Now()
	defer func() {
		originRequestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	addr := target.Address()
	fail := func(op string, err error) (*message.Response, error) {
		originErrorsTotal.WithLabelValues(op).Inc()
		originRequestsTotal.WithLabelValues(kind, "error").Inc()
		c.logger.Warn().
			Err(err).
			Str("origin", addr).
			Str("op", op).
			Msg("Origin fetch failed")
		return nil, &Error{Addr: addr, Op: op, Err: err}
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail("dial", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.config.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fail("dial", err)
	}

	// Cancelling ctx unblocks pending I/O.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c.logger.Debug().
		Str("origin", addr).
		Str("url", url).
		Str("kind", kind).
		Msg("Fetching from origin")

	if _, err := conn.Write(BuildRequest(target, url, lastModified)); err != nil {
		return fail("write", ctxErr(ctx, err))
	}

	raw, err := message.ReadMessage(conn, message.BodyUntilClose, c.config.Limits)
	if err != nil {
		if errors.Is(err, message.ErrMalformedMessage) {
			return fail("parse", err)
		}
		return fail("read", ctxErr(ctx, err))
	}

	resp, err := message.ParseResponse(raw)
	if err != nil {
		return fail("parse", err)
	}

	originRequestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("origin", addr).
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(resp.Body)).
		Dur("duration", time.Since(startTime)).
		Msg("Origin responded")

	return resp, nil
}

// ctxErr prefers the context's error once it is done, so a cancelled fetch
// is reported as such rather than as an I/O timeout.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Package proxy implements the caching proxy: it accepts client
// connections, serves fresh entries from the cache, revalidates stale ones
// and fetches misses from the origin.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/Sternrassler/web-cache/pkg/message"
	"github.com/Sternrassler/web-cache/pkg/origin"
	"github.com/rs/zerolog"
)

var (
	errMethodNotImplemented = errors.New("method not implemented")
	errVersionNotSupported  = errors.New("http version not supported")
)

// Fetcher retrieves a response from an origin.
type Fetcher interface {
	Fetch(ctx context.Context, target origin.Target, url, lastModified string) (*message.Response, error)
}

// Config holds the server configuration.
type Config struct {
	// ClientTimeout bounds reading the request, and separately writing the
	// reply once it is ready.
	ClientTimeout time.Duration

	// Limits bounds the buffered client request.
	Limits message.Limits
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		ClientTimeout: 30 * time.Second,
		Limits:        message.DefaultLimits(),
	}
}

type reply struct {
	status int
	body   []byte
	result string
}

type handlerFunc func(ctx context.Context, req *message.Request, logger zerolog.Logger) (reply, error)

// Server is the caching proxy.
type Server struct {
	cache   *cache.Manager
	origin  Fetcher
	config  Config
	logger  zerolog.Logger
	now     func() time.Time
	methods map[string]handlerFunc
	wg      sync.WaitGroup
}

// New creates a new proxy server.
func New(cfg Config, manager *cache.Manager, fetcher Fetcher, logger zerolog.Logger) *Server {
	if manager == nil || fetcher == nil {
		panic("proxy: cache manager and fetcher are required")
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = DefaultConfig().ClientTimeout
	}
	s := &Server{
		cache:  manager,
		origin: fetcher,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	// Methods absent from the table get 501.
	s.methods = map[string]handlerFunc{
		http.MethodGet: s.handleGet,
	}
	return s
}

// SetClock replaces the time source (for testing).
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// Serve accepts connections on ln and handles each in its own goroutine.
// When ctx is cancelled the listener is closed and Serve returns once every
// in-flight connection is finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Proxy listening")

	// In-flight requests finish on shutdown; their own deadlines bound them.
	connCtx := context.WithoutCancel(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				s.logger.Info().Msg("Proxy stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn().Err(err).Msg("Accept timeout")
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(connCtx, conn)
		}()
	}
}

// ServeConn handles the single request on conn and closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	activeConnections.Inc()
	defer activeConnections.Dec()

	startTime := time.Now()
	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	// ClientTimeout bounds reading the request and, separately, writing the
	// reply. The origin fetch in between is bounded by the origin client.
	if err := conn.SetReadDeadline(time.Now().Add(s.config.ClientTimeout)); err != nil {
		logger.Warn().Err(err).Msg("Set client read deadline failed")
	}

	rep := s.handle(ctx, conn, logger)

	out, err := Compose(rep.body, rep.status, s.now())
	if err != nil {
		logger.Error().Err(err).Int("status", rep.status).Msg("Cannot relay origin status")
		rep = reply{status: http.StatusBadGateway, result: resultError}
		out, _ = Compose(nil, rep.status, s.now())
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.config.ClientTimeout)); err != nil {
		logger.Warn().Err(err).Msg("Set client write deadline failed")
	}
	if _, err := conn.Write(out); err != nil {
		logger.Warn().Err(err).Msg("Write to client failed")
	}

	requestsTotal.WithLabelValues(rep.result).Inc()
	requestDuration.WithLabelValues(rep.result).Observe(time.Since(startTime).Seconds())

	logger.Debug().
		Int("status", rep.status).
		Str("cache", rep.result).
		Dur("duration", time.Since(startTime)).
		Msg("Request served")
}

// handle reads, parses and dispatches the request. Every failure becomes an
// error reply.
func (s *Server) handle(ctx context.Context, conn net.Conn, logger zerolog.Logger) reply {
	raw, err := message.ReadMessage(conn, message.BodyByLength, s.config.Limits)
	if err != nil {
		if !errors.Is(err, message.ErrMalformedMessage) {
			err = fmt.Errorf("%w: read request: %v", message.ErrMalformedMessage, err)
		}
		return s.errorReply(err, logger)
	}

	req, err := message.ParseRequest(raw)
	if err != nil {
		return s.errorReply(err, logger)
	}

	logger = logger.With().Str("method", req.Method).Str("url", req.Target).Logger()

	if req.Version != "HTTP/1.1" && req.Version != "HTTP/1.0" {
		return s.errorReply(fmt.Errorf("%w: %s", errVersionNotSupported, req.Version), logger)
	}

	h, ok := s.methods[req.Method]
	if !ok {
		return s.errorReply(fmt.Errorf("%w: %s", errMethodNotImplemented, req.Method), logger)
	}

	rep, err := h(ctx, req, logger)
	if err != nil {
		return s.errorReply(err, logger)
	}
	return rep
}

// errorReply maps an error to a well-formed reply.
func (s *Server) errorReply(err error, logger zerolog.Logger) reply {
	rep := reply{result: resultError}

	switch {
	case errors.Is(err, origin.ErrOriginUnreachable):
		rep.status = http.StatusBadGateway
		if origin.IsTimeout(err) {
			rep.status = http.StatusGatewayTimeout
		}
		logger.Warn().Err(err).Msg("Origin unreachable")
	case errors.Is(err, cache.ErrStoreUnavailable):
		rep.status = http.StatusServiceUnavailable
		logger.Error().Err(err).Msg("Store unavailable")
	case errors.Is(err, message.ErrMalformedMessage):
		rep.status = http.StatusBadRequest
		logger.Debug().Err(err).Msg("Malformed request")
	case errors.Is(err, errMethodNotImplemented):
		rep.status = http.StatusNotImplemented
		logger.Debug().Err(err).Msg("Unsupported method")
	case errors.Is(err, errVersionNotSupported):
		rep.status = http.StatusHTTPVersionNotSupported
		logger.Debug().Err(err).Msg("Unsupported version")
	default:
		rep.status = http.StatusBadGateway
		logger.Error().Err(err).Msg("Request failed")
	}

	rep.body = []byte(http.StatusText(rep.status) + "\n")
	return rep
}

// resolveTarget finds the origin from the Host header, falling back to the
// authority of an absolute-URI request target.
func resolveTarget(req *message.Request) (origin.Target, error) {
	host := req.Header.Get("Host")
	if host == "" {
		if u, err := url.Parse(req.Target); err == nil && u.Scheme == "http" {
			host = u.Host
		}
	}

	target, err := origin.ParseTarget(host)
	if err != nil {
		return origin.Target{}, fmt.Errorf("%w: %v", message.ErrMalformedMessage, err)
	}
	return target, nil
}

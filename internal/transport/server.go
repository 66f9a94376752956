// Package transport is the connection multiplexer (C2): one TCP listener
// accepting connections, one reader/writer goroutine pair per connection,
// and the registry the dispatcher uses to push unsolicited frames.
package transport

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexo-broker/nexo/internal/dispatch"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/nxlog"
	"github.com/nexo-broker/nexo/internal/resourceguard"
)

// Server accepts connections and hands each to its own Connection.
type Server struct {
	addr           string
	dispatcher     *dispatch.Dispatcher
	guard          *resourceguard.Guard
	rateLimiter    *resourceguard.ConnectionRateLimiter
	pendingTimeout time.Duration
	logger         zerolog.Logger

	registry    *Registry
	currentConn *int64
	nextConnID  uint64

	listener net.Listener
}

// New builds a Server. currentConn must be the same pointer passed to
// resourceguard.New so admission control and the registry agree on the live
// connection count. registry must be the same instance wired as the
// Dispatcher's Pusher.
func New(addr string, dispatcher *dispatch.Dispatcher, guard *resourceguard.Guard, rateLimiter *resourceguard.ConnectionRateLimiter, registry *Registry, currentConn *int64, pendingTimeout time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		addr:           addr,
		dispatcher:     dispatcher,
		guard:          guard,
		rateLimiter:    rateLimiter,
		currentConn:    currentConn,
		pendingTimeout: pendingTimeout,
		logger:         logger,
		registry:       registry,
	}
}

// ListenAndServe binds addr and accepts connections until Close is called.
// Other Accept errors are logged and accepting continues.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info().Str("addr", s.addr).Msg("transport listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		s.acceptConn(conn)
	}
}

func (s *Server) acceptConn(conn net.Conn) {
	if accept, reason := s.guard.ShouldAcceptConnection(); !accept {
		metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
		_ = conn.Close()
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.Allow(conn.RemoteAddr()) {
		metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		_ = conn.Close()
		return
	}

	id := atomic.AddUint64(&s.nextConnID, 1)
	atomic.AddInt64(s.currentConn, 1)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()

	c := newConnection(id, conn, s.dispatcher, s.guard, s.pendingTimeout, s.logger)
	s.registry.add(c)

	go func() {
		defer nxlog.RecoverPanic(s.logger, "transport.connection", nil)
		defer atomic.AddInt64(s.currentConn, -1)
		defer s.registry.remove(id)
		c.run()
	}()
}

// Close stops accepting new connections. Already-open connections drain
// independently; it does not forcibly disconnect them.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

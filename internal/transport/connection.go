package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexo-broker/nexo/internal/dispatch"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/nxlog"
	"github.com/nexo-broker/nexo/internal/protocol"
	"github.com/nexo-broker/nexo/internal/resourceguard"
)

const sendQueueDepth = 256

// pendingEntry tracks one in-flight REQUEST awaiting its RESPONSE, for the
// deadline sweep. done is set once a response has actually been written so a
// late real reply arriving after a timeout response is silently discarded.
type pendingEntry struct {
	deadline time.Time
	done     bool
}

// Connection owns one accepted TCP connection: one reader goroutine
// decoding frames, one writer goroutine serializing writes, and the
// pending-request table that backs the deadline sweep.
type Connection struct {
	ID     uint64
	conn   net.Conn
	logger zerolog.Logger

	dispatcher *dispatch.Dispatcher
	guard      *resourceguard.Guard // nil in tests that don't exercise admission control

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{} // closed exactly once, on disconnect; doubles as the dispatch cancel signal

	pendingMu      sync.Mutex
	pending        map[uint32]*pendingEntry
	pendingTimeout time.Duration

	wg sync.WaitGroup
}

func newConnection(id uint64, conn net.Conn, d *dispatch.Dispatcher, guard *resourceguard.Guard, pendingTimeout time.Duration, logger zerolog.Logger) *Connection {
	return &Connection{
		ID:             id,
		conn:           conn,
		logger:         logger.With().Uint64("conn_id", id).Str("remote", conn.RemoteAddr().String()).Logger(),
		dispatcher:     d,
		guard:          guard,
		send:           make(chan []byte, sendQueueDepth),
		closed:         make(chan struct{}),
		pending:        make(map[uint32]*pendingEntry),
		pendingTimeout: pendingTimeout,
	}
}

// Push enqueues an unsolicited PUSH frame, dropping it if the send queue is
// full rather than blocking the caller (typically a pubsub fan-out).
func (c *Connection) Push(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Msg("dropping push: send queue full")
	}
}

// run drives the connection until it disconnects: starts the writer and
// deadline-sweep goroutines, then reads frames until EOF or a protocol error.
//
// send is never closed: handleFrame's serve goroutines and Registry.Push can
// both still be sending on it after readPump returns, and closing it out
// from under them would panic. writePump and sweepLoop instead exit on
// c.closed, the done signal writeResponse also selects against; Push never
// blocks (it drops the frame when the queue is full).
func (c *Connection) run() {
	c.wg.Add(2)
	go c.writePump()
	go c.sweepLoop()

	c.readPump()

	c.wg.Wait()
}

func (c *Connection) readPump() {
	defer nxlog.RecoverPanic(c.logger, "transport.readPump", nil)
	defer c.disconnect("read loop exited")

	reader := bufio.NewReaderSize(c.conn, 64*1024)
	var buf []byte

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		chunk := make([]byte, 32*1024)
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug().Err(err).Msg("connection read error")
			}
			return
		}

		for {
			frame, consumed, decErr := protocol.DecodeFrame(buf)
			if errors.Is(decErr, protocol.ErrNeedMore) {
				break
			}
			if decErr != nil {
				c.logger.Warn().Err(decErr).Msg("bad frame, closing connection")
				metrics.BadFramesTotal.Inc()
				return
			}
			buf = buf[consumed:]
			metrics.FramesReceived.WithLabelValues(frame.Type.String()).Inc()
			c.handleFrame(frame)
		}
	}
}

func (c *Connection) handleFrame(frame protocol.Frame) {
	if frame.Type != protocol.FrameRequest {
		c.logger.Warn().Str("type", frame.Type.String()).Msg("unexpected frame type from client, ignoring")
		return
	}

	if c.guard != nil && !c.guard.Goroutines().TryAcquire() {
		c.logger.Warn().Msg("rejecting request: goroutine pool exhausted")
		c.writeResponse(frame.ID, protocol.StatusErr, protocol.PutString(nil, "ResourceExhausted"))
		return
	}

	deadline := time.Now().Add(c.pendingTimeout)
	c.pendingMu.Lock()
	c.pending[frame.ID] = &pendingEntry{deadline: deadline}
	c.pendingMu.Unlock()

	go c.serve(frame)
}

func (c *Connection) serve(frame protocol.Frame) {
	defer nxlog.RecoverPanic(c.logger, "transport.serve", nil)
	if c.guard != nil {
		defer c.guard.Goroutines().Release()
	}

	status, body := c.dispatcher.Dispatch(c.ID, protocol.Opcode(frame.Tag), frame.Payload, c.closed)

	c.pendingMu.Lock()
	entry, ok := c.pending[frame.ID]
	if ok && entry.done {
		c.pendingMu.Unlock()
		return // already timed out and answered; drop the late real reply
	}
	if ok {
		entry.done = true
	}
	delete(c.pending, frame.ID)
	c.pendingMu.Unlock()

	c.writeResponse(frame.ID, status, body)
}

func (c *Connection) writeResponse(id uint32, status protocol.Status, body []byte) {
	metrics.FramesSent.WithLabelValues(protocol.FrameResponse.String()).Inc()
	select {
	case c.send <- protocol.EncodeResponse(id, status, body):
	case <-c.closed:
	}
}

// sweepLoop periodically answers requests past their deadline with a
// RequestTimeout error so a slow broker call never hangs a client forever.
func (c *Connection) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.sweepExpiredPending()
		}
	}
}

func (c *Connection) sweepExpiredPending() {
	now := time.Now()
	var expired []uint32

	c.pendingMu.Lock()
	for id, entry := range c.pending {
		if entry.done {
			continue
		}
		if now.After(entry.deadline) {
			entry.done = true
			expired = append(expired, id)
		}
	}
	c.pendingMu.Unlock()

	for _, id := range expired {
		metrics.PendingRequestsExpired.Inc()
		c.writeResponse(id, protocol.StatusErr, protocol.PutString(nil, "RequestTimeout"))
	}
}

func (c *Connection) writePump() {
	defer c.wg.Done()
	defer nxlog.RecoverPanic(c.logger, "transport.writePump", nil)
	defer c.conn.Close()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			if err := c.writeAll(frame); err != nil {
				c.logger.Debug().Err(err).Msg("write error, closing connection")
				c.disconnect("write error")
				return
			}
		}
	}
}

func (c *Connection) writeAll(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	for len(frame) > 0 {
		n, err := c.conn.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}

// disconnect closes the connection exactly once and unwinds dispatcher-held
// state (pubsub subscriptions, stream memberships, queue in-flight holds).
func (c *Connection) disconnect(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.dispatcher.HandleDisconnect(c.ID)
		c.logger.Info().Str("reason", reason).Msg("connection closed")
		metrics.ConnectionsActive.Dec()
	})
}

// Package upstream owns the supervised WebSocket client pool (C3): one
// session per configured Connection, auto-reconnecting with exponential
// back-off, guarding sends with a circuit breaker the way the teacher's
// Logic client guards its RPCs.
package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/genesis/breaker"
	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/onebot"
)

// State is the session's position in the Disconnected -> Dialing ->
// Connected -> (Closing|Errored) -> Disconnected cycle.
type State int

const (
	StateDisconnected State = iota
	StateDialing
	StateConnected
	StateErrored
	StateClosing
)

const (
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	writeDeadline  = 5 * time.Second
	minBackoff     = 1 * time.Second
	maxBackoff     = 60 * time.Second
	queuedGraceTTL = 30 * time.Second
	sendQueueSize  = 256
)

// ErrConnectionUnavailable is returned by Send when the session's desired
// state is disconnected or its outbound queue is full.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// InboundFunc delivers a frame read from an upstream connection to the
// dispatcher glue.
type InboundFunc func(connID string, frame *onebot.Frame)

// Session is one supervised upstream WebSocket client.
type Session struct {
	cfg    config.Connection
	logger clog.Logger
	onIn   InboundFunc
	brk    breaker.Breaker

	desired atomic.Bool // true = should be connected

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	queuedAt  time.Time // when the session last became disconnected with items queued

	send      chan *onebot.Frame
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(cfg config.Connection, logger clog.Logger, onIn InboundFunc, brk breaker.Breaker) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		logger: logger,
		onIn:   onIn,
		brk:    brk,
		send:   make(chan *onebot.Frame, sendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.desired.Store(cfg.AutoReconnect)
	return s
}

// Start launches the supervisor loop. Safe to call once.
func (s *Session) Start() {
	go s.supervise()
	go s.watchQueueGrace()
}

// Stop tears the session down permanently.
func (s *Session) Stop() {
	s.closeOnce.Do(func() {
		s.desired.Store(false)
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}

// Connect sets the desired state to connected; the supervisor reconciles.
func (s *Session) Connect() { s.desired.Store(true) }

// Disconnect sets the desired state to disconnected; the supervisor closes
// any live connection and stops retrying until Connect is called again.
func (s *Session) Disconnect() {
	s.desired.Store(false)
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

// Connected reports whether the session currently has a live connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// ID returns the underlying connection's configured id.
func (s *Session) ID() string { return s.cfg.ID }

// Send enqueues frame for delivery. It fails fast if the session's desired
// state is disconnected, the circuit breaker is open, or the outbound queue
// is full; it never blocks longer than that check takes — the 5s write
// deadline applies later, in the writer goroutine. Routing the enqueue
// through the same breaker instance writeFrame uses means a run of real
// write failures trips this check too, without a separate open-state query.
func (s *Session) Send(frame *onebot.Frame) error {
	if !s.desired.Load() {
		return ErrConnectionUnavailable
	}
	_, err := s.brk.Execute(s.ctx, s.cfg.ID, func() (any, error) {
		select {
		case s.send <- frame:
			return nil, nil
		default:
			return nil, ErrConnectionUnavailable
		}
	})
	if err != nil {
		return ErrConnectionUnavailable
	}
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	if st != StateConnected && s.queuedAt.IsZero() && len(s.send) > 0 {
		s.queuedAt = time.Now()
	}
	if st == StateConnected {
		s.queuedAt = time.Time{}
	}
	s.mu.Unlock()
}

// supervise runs the Dialing/Connected/Errored cycle until Stop.
func (s *Session) supervise() {
	base := minBackoff
	if s.cfg.ReconnectIntervalS > 0 {
		base = time.Duration(s.cfg.ReconnectIntervalS) * time.Second
	}
	backoff := base
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if !s.desired.Load() {
			s.setState(StateDisconnected)
			if !s.waitForDesired() {
				return
			}
			continue
		}

		s.setState(StateDialing)
		conn, err := s.dial()
		if err != nil {
			s.logger.Warn("upstream dial failed",
				clog.String("conn_id", s.cfg.ID), clog.Error(err))
			s.setState(StateErrored)
			if !s.cfg.AutoReconnect {
				s.desired.Store(false)
				continue
			}
			if !s.sleepBackoff(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = base
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateConnected)
		s.onIn(s.cfg.ID, onebot.LifecycleConnect(0))

		s.runConnected(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.setState(StateErrored)

		if !s.cfg.AutoReconnect {
			s.desired.Store(false)
			continue
		}
		if !s.sleepBackoff(backoff) {
			return
		}
	}
}

func (s *Session) waitForDesired() bool {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-t.C:
			if s.desired.Load() {
				return true
			}
		}
	}
}

func (s *Session) sleepBackoff(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (s *Session) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(s.ctx, s.cfg.URL, header)
	return conn, err
}

// runConnected drives the reader and writer pumps until either fails, then
// returns so the supervisor can reconcile toward a reconnect.
func (s *Session) runConnected(conn *websocket.Conn) {
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		defer stop()
		s.writePump(conn, done)
	}()
	s.readPump(conn, stop)
	<-done
}

func (s *Session) readPump(conn *websocket.Conn, stop func()) {
	defer stop()
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, _, err := onebot.ParseFrame(data)
		if err != nil {
			s.logger.Warn("upstream sent malformed frame",
				clog.String("conn_id", s.cfg.ID), clog.Error(err))
			continue
		}
		s.onIn(s.cfg.ID, frame)
	}
}

func (s *Session) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame := <-s.send:
			if err := s.writeFrame(conn, frame); err != nil {
				return
			}
		}
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, frame *onebot.Frame) error {
	data, err := frame.Bytes()
	if err != nil {
		return nil // malformed outbound frame is dropped, not fatal to the session
	}
	_, err = s.brk.Execute(s.ctx, s.cfg.ID, func() (any, error) {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		return nil, conn.WriteMessage(websocket.TextMessage, data)
	})
	return err
}

// watchQueueGrace drops anything still queued 30s after the session went
// disconnected, per the outbound-queue grace period.
func (s *Session) watchQueueGrace() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			expired := !s.queuedAt.IsZero() && time.Since(s.queuedAt) > queuedGraceTTL
			s.mu.Unlock()
			if !expired {
				continue
			}
			drained := 0
		drain:
			for {
				select {
				case <-s.send:
					drained++
				default:
					break drain
				}
			}
			if drained > 0 {
				s.logger.Warn("dropped queued frames after grace period",
					clog.String("conn_id", s.cfg.ID), clog.Int("count", drained))
			}
			s.mu.Lock()
			s.queuedAt = time.Time{}
			s.mu.Unlock()
		}
	}
}

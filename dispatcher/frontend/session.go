// Package frontend implements the inbound WebSocket server (C4) that
// terminates chat-frontend connections, classifies each frame, and hands it
// to the dispatcher glue. The session wrapper mirrors the teacher's
// connection.Conn: one read pump, one write pump, a bounded outbound
// channel, and keep-alive pings.
package frontend

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"

	"github.com/ceyewan/obgate/dispatcher/onebot"
)

const (
	pingInterval  = 30 * time.Second
	pongTimeout   = 60 * time.Second
	writeDeadline = 5 * time.Second
	sendQueueSize = 256
)

// OnFrame is invoked once per inbound frame, in order, from a single
// session's reader — the server maintains at most one frame in flight per
// reader, per §4.4.
type OnFrame func(session *Session, frame *onebot.Frame, kind onebot.Kind)

// OnClose is invoked once when a session's connection is torn down.
type OnClose func(session *Session)

// Session is a single accepted frontend connection.
type Session struct {
	id         string
	conn       *websocket.Conn
	send       chan *onebot.Frame
	logger     clog.Logger
	remoteAddr string

	maxMessageSize int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, logger clog.Logger, maxMessageSize int64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:             id,
		conn:           conn,
		send:           make(chan *onebot.Frame, sendQueueSize),
		logger:         logger,
		remoteAddr:     conn.RemoteAddr().String(),
		maxMessageSize: maxMessageSize,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ID returns the session's opaque handle, used by the correlation table.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the client's network address, for logging.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Send queues frame for delivery to this frontend. Overflow closes the
// session with an internal error, per the bounded-channel back-pressure
// design: a frontend that can't keep up is disconnected rather than let
// unbounded memory accumulate.
func (s *Session) Send(frame *onebot.Frame) error {
	select {
	case s.send <- frame:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
		s.logger.Warn("frontend session write backlog, closing", clog.String("session_id", s.id))
		s.Close()
		return ErrSessionClosed
	}
}

// Close signals the session to tear down; idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

// Done reports the session's close signal (§4.4's "close signal").
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// run starts the read and write pumps and blocks until both exit.
func (s *Session) run(onFrame OnFrame, onClose OnClose) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump()
	}()
	s.readPump(onFrame)
	s.Close()
	<-done
	onClose(s)
}

func (s *Session) readPump(onFrame OnFrame) {
	s.conn.SetReadLimit(s.maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, kind, err := onebot.ParseFrame(data)
		if err != nil {
			s.logger.Warn("malformed frame from frontend",
				clog.String("session_id", s.id), clog.Error(err))
			continue
		}
		onFrame(s, frame, kind)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame := <-s.send:
			data, err := frame.Bytes()
			if err != nil {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

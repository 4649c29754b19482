package frontend

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/onebot"
)

// ErrSessionClosed is returned by Send and Server.SendTo when the target
// session is gone.
var ErrSessionClosed = errors.New("frontend session closed")

// inboundLimit caps how many frames a single frontend session may push per
// second, guarding the router against a runaway or malicious frontend.
var inboundLimit = ratelimit.Limit{Rate: 50, Burst: 100}

// Server accepts inbound WebSocket connections from chat frontends.
type Server struct {
	cfg      config.Frontend
	logger   clog.Logger
	upgrader websocket.Upgrader
	limiter  ratelimit.Limiter
	onFrame  OnFrame
	onGone   OnClose

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewServer builds a frontend server. onFrame receives every frame from
// every session, already classified; the caller (dispatcher glue) decides
// what to do with each kind. onGone is invoked once per session after it has
// torn down, so the caller can mark outstanding correlation entries tied to
// it as caller_gone (§5).
func NewServer(cfg config.Frontend, logger clog.Logger, onFrame OnFrame, onGone OnClose) (*Server, error) {
	limiter, err := ratelimit.New(&ratelimit.Config{
		Driver: ratelimit.DriverStandalone,
		Standalone: &ratelimit.StandaloneConfig{
			CleanupInterval: time.Minute,
			IdleTimeout:     5 * time.Minute,
		},
	}, ratelimit.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	readBuf := cfg.ReadBufferSize
	if readBuf == 0 {
		readBuf = 4096
	}
	writeBuf := cfg.WriteBufferSize
	if writeBuf == 0 {
		writeBuf = 4096
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		limiter:  limiter,
		onFrame:  onFrame,
		onGone:   onGone,
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, nil
}

// HandleWebSocket upgrades an inbound HTTP request and runs the resulting
// session until it closes. Intended to be registered directly as an
// http.HandlerFunc for the configured listener address.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Token != "" && !bearerMatches(r, s.cfg.Token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade frontend websocket", clog.Error(err))
		return
	}

	maxSize := s.cfg.MaxMessageSize
	if maxSize == 0 {
		maxSize = 1 << 20
	}

	sess := newSession(uuid.NewString(), conn, s.logger, maxSize)
	s.addSession(sess)
	s.logger.Info("frontend session connected",
		clog.String("session_id", sess.id), clog.String("remote_addr", sess.RemoteAddr()))

	sess.run(s.dispatchFrame, s.removeSession)
}

func bearerMatches(r *http.Request, token string) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return auth[len(prefix):] == token
}

func (s *Server) dispatchFrame(sess *Session, frame *onebot.Frame, kind onebot.Kind) {
	ok, err := s.limiter.Allow(sess.ctx, sess.id, inboundLimit)
	if err != nil {
		s.logger.Warn("ratelimit check failed, allowing by default", clog.Error(err))
	} else if !ok {
		s.logger.Warn("frontend session exceeded inbound rate limit", clog.String("session_id", sess.id))
		return
	}
	s.onFrame(sess, frame, kind)
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.logger.Info("frontend session disconnected", clog.String("session_id", sess.id))
	if s.onGone != nil {
		s.onGone(sess)
	}
}

// SendTo delivers frame to the named session, used when correlating an
// upstream api_response back to the session that issued the call.
func (s *Server) SendTo(sessionID string, frame *onebot.Frame) error {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionClosed
	}
	return sess.Send(frame)
}

// Broadcast delivers frame to every currently connected session, for
// meta_event/other frames arriving from an upstream with no single
// addressee.
func (s *Server) Broadcast(frame *onebot.Frame) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		_ = sess.Send(frame)
	}
}

// Close tears down every active session, for process shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

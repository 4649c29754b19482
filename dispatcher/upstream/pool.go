package upstream

import (
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/breaker"
	"github.com/ceyewan/genesis/clog"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/onebot"
)

// Pool owns one Session per configured Connection. It satisfies both
// router.ConnectionAvailability and style.ConnStats without importing
// either package, keeping the dependency direction inward.
type Pool struct {
	logger clog.Logger
	onIn   InboundFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewPool builds a pool with no sessions yet; call Reconcile to populate it.
func NewPool(logger clog.Logger, onIn InboundFunc) *Pool {
	return &Pool{logger: logger, onIn: onIn, sessions: make(map[string]*Session)}
}

// Reconcile implements the added/removed/changed half of reload_config's
// diff-apply for connections (§4.6): new connections are started, removed
// ones torn down, and connections whose url or token changed are restarted.
func (p *Pool) Reconcile(conns []config.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := make(map[string]config.Connection, len(conns))
	for _, c := range conns {
		want[c.ID] = c
	}

	for id, sess := range p.sessions {
		cfg, ok := want[id]
		if !ok {
			sess.Stop()
			delete(p.sessions, id)
			continue
		}
		if cfg.URL != sess.cfg.URL || cfg.Token != sess.cfg.Token {
			sess.Stop()
			delete(p.sessions, id)
		}
	}

	for id, cfg := range want {
		if _, ok := p.sessions[id]; ok {
			continue
		}
		brk, err := newBreaker(p.logger)
		if err != nil {
			p.logger.Error("failed to build breaker for connection",
				clog.String("conn_id", id), clog.Error(err))
			continue
		}
		sess := newSession(cfg, p.logger, p.onIn, brk)
		p.sessions[id] = sess
		sess.Start()
	}
}

func newBreaker(logger clog.Logger) (breaker.Breaker, error) {
	return breaker.New(&breaker.Config{
		MaxRequests:     5,
		Interval:        60 * time.Second,
		Timeout:         30 * time.Second,
		FailureRatio:    0.6,
		MinimumRequests: 10,
	}, breaker.WithLogger(logger))
}

// Send routes a frame to the named connection, or ErrConnectionUnavailable
// if it is unknown or its session refuses the frame (desired state
// disconnected, breaker open, or outbound queue full).
func (p *Pool) Send(connID string, frame *onebot.Frame) error {
	p.mu.RLock()
	sess, ok := p.sessions[connID]
	p.mu.RUnlock()
	if !ok {
		return ErrConnectionUnavailable
	}
	return sess.Send(frame)
}

// Available reports whether connID names a currently-connected session.
// Implements router.ConnectionAvailability.
func (p *Pool) Available(connID string) bool {
	p.mu.RLock()
	sess, ok := p.sessions[connID]
	p.mu.RUnlock()
	return ok && sess.Connected()
}

// Stats reports total and currently-connected session counts. Implements
// style.ConnStats.
func (p *Pool) Stats() (total, connected int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total = len(p.sessions)
	for _, sess := range p.sessions {
		if sess.Connected() {
			connected++
		}
	}
	return total, connected
}

// Connect and Disconnect implement the admin connect(id)/disconnect(id)
// surface (§4.6).
func (p *Pool) Connect(id string) error {
	sess, ok := p.lookup(id)
	if !ok {
		return fmt.Errorf("unknown connection %q", id)
	}
	sess.Connect()
	return nil
}

func (p *Pool) Disconnect(id string) error {
	sess, ok := p.lookup(id)
	if !ok {
		return fmt.Errorf("unknown connection %q", id)
	}
	sess.Disconnect()
	return nil
}

func (p *Pool) lookup(id string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[id]
	return sess, ok
}

// Stop tears down every session, for process shutdown.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sess := range p.sessions {
		sess.Stop()
	}
}

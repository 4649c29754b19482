// Package dispatcher is the glue layer (C8): it owns the lifecycle of the
// frontend server and upstream pool, invokes the router per inbound
// message event, and correlates upstream API responses back to their
// originating frontend session.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/google/uuid"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/correlation"
	"github.com/ceyewan/obgate/dispatcher/frontend"
	"github.com/ceyewan/obgate/dispatcher/onebot"
	"github.com/ceyewan/obgate/dispatcher/repository"
	"github.com/ceyewan/obgate/dispatcher/router"
	"github.com/ceyewan/obgate/dispatcher/style"
	"github.com/ceyewan/obgate/dispatcher/upstream"
)

// ConnStats mirrors the counts reported by snapshot_stats (§6).
type ConnStats struct {
	Total     int
	Connected int
}

// Stats is the admin snapshot_stats() response shape.
type Stats struct {
	Connections         ConnStats
	MessagesToday       int64
	CorrelationInFlight int
}

// Dispatcher owns C3 (upstream), C4 (frontend), C5 (correlation) and C7
// (style) and drives C6 (router) for every inbound message event.
type Dispatcher struct {
	logger clog.Logger
	repo   repository.Repository

	idx atomic.Pointer[config.Index]

	pool     *upstream.Pool
	frontend *frontend.Server
	corr     *correlation.Table
	styleMgr *style.Manager
	counter  *messageCounter

	httpServer *http.Server
}

// New builds a dispatcher from a validated configuration. It does not start
// listening; call Run for that.
func New(cfg *config.Config) (*Dispatcher, error) {
	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return nil, xerrors.Wrapf(err, "logger init")
	}

	d := &Dispatcher{
		logger:  logger,
		repo:    repository.NewInMemory(),
		corr:    correlation.New(),
		counter: newMessageCounter(),
	}
	d.idx.Store(config.BuildIndex(cfg))

	d.pool = upstream.NewPool(logger, d.onUpstreamFrame)
	d.pool.Reconcile(cfg.Connections)

	d.styleMgr = style.NewManager(d.repo, d.pool, d.counter)

	srv, err := frontend.NewServer(cfg.Frontend, logger, d.onFrontendFrame, d.onFrontendSessionGone)
	if err != nil {
		return nil, xerrors.Wrapf(err, "frontend server init")
	}
	d.frontend = srv

	return d, nil
}

// Run starts the frontend listener. It blocks until the listener stops.
func (d *Dispatcher) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.frontend.HandleWebSocket)

	d.httpServer = &http.Server{
		Addr:    d.config().Frontend.Addr,
		Handler: mux,
	}

	d.logger.Info("dispatcher listening", clog.String("addr", d.httpServer.Addr))
	if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return xerrors.Wrapf(err, "frontend listener")
	}
	return nil
}

// Close shuts everything down: the frontend listener, every frontend
// session, every upstream session, and the correlation sweeper.
func (d *Dispatcher) Close() error {
	d.logger.Info("shutting down dispatcher")

	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.httpServer.Shutdown(ctx)
	}
	d.frontend.Close()
	d.pool.Stop()
	d.corr.Close()
	return nil
}

func (d *Dispatcher) config() *config.Config {
	return d.idx.Load().Config()
}

// onFrontendFrame is frontend.OnFrame: the entry point for everything a
// chat frontend sends.
func (d *Dispatcher) onFrontendFrame(sess *frontend.Session, frame *onebot.Frame, kind onebot.Kind) {
	switch kind {
	case onebot.KindMessageEvent:
		d.handleMessageEvent(sess, frame)
	case onebot.KindAPICall:
		d.handleAPICall(sess, frame)
	default:
		d.broadcastToUpstreams(frame)
	}
}

func (d *Dispatcher) handleMessageEvent(sess *frontend.Session, frame *onebot.Frame) {
	ctx := context.Background()
	event := frame.AsMessageEvent()

	user, err := d.repo.GetUser(ctx, event.UserID)
	if err != nil {
		d.logger.Warn("repository unavailable, proceeding with transient user record",
			clog.Error(err))
		user = repository.User{QQID: event.UserID, SelectedStyles: map[string]string{}}
	}

	d.counter.Increment()
	decision := router.Resolve(ctx, d.idx.Load(), d.styleMgr, d.pool, frame, user)

	switch dec := decision.(type) {
	case router.Forward:
		if err := d.pool.Send(dec.ConnectionID, dec.Frame); err != nil {
			d.logger.Warn("forward failed", clog.Error(&ConnectionUnavailableError{ConnID: dec.ConnectionID}))
			_ = sess.Send(replyFrame("目标连接不可用"))
		}
	case router.Reply:
		_ = sess.Send(replyFrame(dec.Text))
	case router.Drop:
		// nothing
	}
}

func (d *Dispatcher) handleAPICall(sess *frontend.Session, frame *onebot.Frame) {
	echo, ok := frame.Echo()
	if !ok || echo == "" {
		echo = uuid.NewString()
		frame.SetEcho(echo)
	}
	d.corr.Insert(echo, sess.ID())
	d.broadcastToUpstreams(frame)
}

// onFrontendSessionGone is frontend.OnClose: once a frontend session has
// torn down, any correlation entries still waiting on it are marked
// caller_gone so a late upstream response isn't delivered to a dead session.
func (d *Dispatcher) onFrontendSessionGone(sess *frontend.Session) {
	d.corr.MarkSessionGone(sess.ID())
}

func (d *Dispatcher) broadcastToUpstreams(frame *onebot.Frame) {
	for _, conn := range d.idx.Load().Connections() {
		if !conn.AllowForward {
			continue
		}
		if err := d.pool.Send(conn.ID, frame); err != nil {
			d.logger.Warn("passthrough forward failed",
				clog.String("conn_id", conn.ID), clog.Error(err))
		}
	}
}

// onUpstreamFrame is upstream.InboundFunc: the entry point for everything
// an upstream connection sends back.
func (d *Dispatcher) onUpstreamFrame(connID string, frame *onebot.Frame) {
	switch frame.Kind() {
	case onebot.KindAPIResponse:
		d.deliverResponse(frame)
	default:
		d.frontend.Broadcast(frame)
	}
}

func (d *Dispatcher) deliverResponse(frame *onebot.Frame) {
	echo, ok := frame.Echo()
	if !ok {
		return
	}
	sessionID, found := d.corr.Resolve(echo)
	if !found {
		return // best-effort: evicted, unknown, or caller gone
	}
	if err := d.frontend.SendTo(sessionID, frame); err != nil {
		d.logger.Debug("response delivery dropped, session gone",
			clog.String("session_id", sessionID))
	}
}

func replyFrame(text string) *onebot.Frame {
	raw, _ := uuid.NewRandom()
	return onebot.SyntheticReply(text, raw.String())
}

// --- admin surface (§6) ---

// Resolve runs the router for a dry-run check, without delivering anything.
func (d *Dispatcher) Resolve(ctx context.Context, text string, userID, groupID int64, hasGroup bool) router.Decision {
	user, err := d.repo.GetUser(ctx, userID)
	if err != nil {
		user = repository.User{QQID: userID, SelectedStyles: map[string]string{}}
	}
	frame := onebot.SyntheticMessageEvent(text, userID, groupID, hasGroup)
	return router.Resolve(ctx, d.idx.Load(), d.styleMgr, d.pool, frame, user)
}

// Connect and Disconnect implement the admin connection toggles.
func (d *Dispatcher) Connect(id string) error    { return d.pool.Connect(id) }
func (d *Dispatcher) Disconnect(id string) error { return d.pool.Disconnect(id) }

// Reload performs reload_config's diff-apply (§4.6): connections are
// reconciled first, then the router snapshot is swapped atomically. In
// flight decisions keep running against the snapshot they began with.
func (d *Dispatcher) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload rejected, keeping previous snapshot: %w", err)
	}
	d.pool.Reconcile(cfg.Connections)
	d.idx.Store(config.BuildIndex(cfg))
	return nil
}

// SnapshotStats implements the admin snapshot_stats() call.
func (d *Dispatcher) SnapshotStats() Stats {
	total, connected := d.pool.Stats()
	return Stats{
		Connections:         ConnStats{Total: total, Connected: connected},
		MessagesToday:       d.counter.Today(),
		CorrelationInFlight: d.corr.InFlight(),
	}
}

// Package mesh is the public façade: it wires Transport, Router, Peer
// Registry, Session Controller, Request Tracker, Chat History, Model
// Catalog, and (on a host) the Inference Proxy into one running session,
// and owns the single serializing actor goroutine the concurrency model
// requires (spec.md §5). It generalizes the teacher's (zeromq-gyre) Gyre
// façade in gyre.go — a buffered command channel feeding one actor
// goroutine's select loop, with events delivered on a separate buffered
// channel — onto this spec's topic/peer/frame model.
package mesh

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/llmesh/llmesh/catalog"
	"github.com/llmesh/llmesh/chatlog"
	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/inference"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/registry"
	"github.com/llmesh/llmesh/request"
	"github.com/llmesh/llmesh/router"
	"github.com/llmesh/llmesh/session"
	"github.com/llmesh/llmesh/topic"
	"github.com/llmesh/llmesh/transport"
	"github.com/llmesh/llmesh/wire"
)

const reapInterval = 5 * time.Second

// config holds the functional-options settings shared by NewHost and
// NewJoiner.
type config struct {
	log              *logrus.Entry
	displayName      string
	defaultMode      session.Mode
	idleTimeout      time.Duration
	historyCapacity  int
	inferenceBaseURL string
	httpClient       *http.Client
}

func defaultConfig() config {
	return config{
		log:              logrus.NewEntry(logrus.StandardLogger()),
		defaultMode:      session.ModeCollaborative,
		idleTimeout:      request.DefaultIdleTimeout,
		historyCapacity:  chatlog.DefaultCapacity,
		inferenceBaseURL: "http://localhost:11434",
		httpClient:       http.DefaultClient,
	}
}

// Option configures a Mesh at construction, following the same
// functional-options convention used across the ambient stack.
type Option func(*config)

func WithLogger(log *logrus.Entry) Option        { return func(c *config) { c.log = log } }
func WithDisplayName(name string) Option         { return func(c *config) { c.displayName = name } }
func WithDefaultMode(mode session.Mode) Option    { return func(c *config) { c.defaultMode = mode } }
func WithIdleTimeout(d time.Duration) Option      { return func(c *config) { c.idleTimeout = d } }
func WithHistoryCapacity(n int) Option            { return func(c *config) { c.historyCapacity = n } }
func WithInferenceBaseURL(url string) Option      { return func(c *config) { c.inferenceBaseURL = url } }
func WithHTTPClient(client *http.Client) Option   { return func(c *config) { c.httpClient = client } }

// Mesh is one running session: either host or joiner, bound to a single
// topic, for its whole lifetime (spec.md §3/§5 — joining a new topic
// implicitly leaves the previous one, which this module models as
// constructing a fresh Mesh and Close()ing the old one).
type Mesh struct {
	transport transport.Transport
	router    *router.Router
	sender    *fanout

	controller *session.Controller
	registry   *registry.Registry
	tracker    *request.Tracker
	history    *chatlog.History
	catalog    *catalog.Catalog

	selfId      peerid.PeerId
	displayName string

	events chan *Event
	cmds   chan func(*Mesh)
	inbox  chan inboundFrame

	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	log    *logrus.Entry
}

type inboundFrame struct {
	from  peerid.PeerId
	frame wire.Frame
}

func newMesh(tp transport.Transport, cfg config) *Mesh {
	selfId := tp.LocalId()
	ctrl := session.New(selfId, cfg.defaultMode)
	reg := registry.New()
	tr := request.New(cfg.idleTimeout)
	cat := catalog.New()
	hist := chatlog.New(cfg.historyCapacity)
	sender := newFanout(cfg.log)
	ctx, cancel := context.WithCancel(context.Background())
	eg, _ := errgroup.WithContext(ctx)

	m := &Mesh{
		transport:   tp,
		sender:      sender,
		controller:  ctrl,
		registry:    reg,
		tracker:     tr,
		history:     hist,
		catalog:     cat,
		selfId:      selfId,
		displayName: cfg.displayName,
		events:      make(chan *Event, 1024),
		cmds:        make(chan func(*Mesh), 256),
		inbox:       make(chan inboundFrame, 1024),
		quit:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		eg:          eg,
		log:         cfg.log,
	}
	m.router = router.New(reg, ctrl, tr, cat, hist, nil, sender)
	m.router.Log = cfg.log
	m.router.Spawn = func(fn func()) { m.eg.Go(func() error { fn(); return nil }) }
	return m
}

// NewHost initializes a fresh topic, starts the Inference Proxy against
// cfg.inferenceBaseURL, and begins advertising on the transport.
func NewHost(ctx context.Context, tp transport.Transport, opts ...Option) (*Mesh, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := newMesh(tp, cfg)
	m.router.Proxy = inference.New(cfg.httpClient, cfg.inferenceBaseURL)

	models, err := catalog.Fetch(ctx, cfg.httpClient, cfg.inferenceBaseURL)
	if err != nil {
		m.log.WithError(err).Debug("mesh: model catalog fetch failed, using defaults")
	}
	m.catalog.Replace(models, false)

	t, err := m.controller.InitializeHost()
	if err != nil {
		return nil, err
	}
	if err := tp.Join(ctx, t); err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}

	m.start()
	return m, nil
}

// NewJoiner validates topicHex, joins it over tp, and tracks mode
// tentatively until the host's first mode_update arrives.
func NewJoiner(ctx context.Context, tp transport.Transport, topicHex string, opts ...Option) (*Mesh, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := newMesh(tp, cfg)
	t, err := m.controller.Join(topicHex, cfg.defaultMode)
	if err != nil {
		m.history.AppendSystem(err.Error())
		return nil, err
	}
	if err := tp.Join(ctx, t); err != nil {
		m.history.AppendSystem(err.Error())
		return nil, fmt.Errorf("mesh: %w", err)
	}

	m.start()
	return m, nil
}

// start launches the actor loop under the supervising errgroup, which
// also collects every per-connection reader/writer goroutine spawned by
// handleNewConn — generalizing the teacher's unmanaged `go
// node.handler()` into a group whose first non-nil error Close() surfaces.
func (m *Mesh) start() {
	m.eg.Go(func() error {
		m.run()
		return nil
	})
}

func (m *Mesh) run() {
	reap := time.NewTicker(reapInterval)
	defer reap.Stop()

	for {
		select {
		case <-m.quit:
			return

		case act := <-m.cmds:
			act(m)

		case in := <-m.inbox:
			if err := m.router.HandleFrame(m.ctx, in.from, in.frame); err != nil {
				m.log.WithError(err).WithField("peer", in.from).Debug("mesh: frame handling error")
			}
			m.emit(&Event{typ: EventHistoryUpdated})

		case conn, ok := <-m.transport.Connections():
			if !ok {
				return
			}
			m.handleNewConn(conn)

		case now := <-reap.C:
			reaped := m.tracker.ReapIdle(now)
			m.router.ObserveReap(len(reaped))
			for _, req := range reaped {
				m.history.AppendSystem("request timed out: " + req.Id)
				m.emit(&Event{typ: EventSystemError, error: errs.ErrRequestIdleTimeout.Error()})
			}
		}
	}
}

func (m *Mesh) handleNewConn(conn transport.Conn) {
	id := conn.RemoteId()
	ps := m.sender.add(id)

	m.eg.Go(func() error { m.writeLoop(conn, ps); return nil })
	m.eg.Go(func() error { m.readLoop(conn, id); return nil })

	hs := wire.NewHandshake()
	hs.ClientId = m.selfId.String()
	hs.DisplayName = m.displayName
	hs.Timestamp = time.Now().Unix()
	hs.IsHost = m.controller.Role() == session.RoleHost
	_ = m.sender.SendTo(id, hs)

	m.emit(&Event{typ: EventPeerEnter, peer: id})
}

func (m *Mesh) writeLoop(conn transport.Conn, ps *peerSender) {
	for f := range ps.outbox {
		if err := wire.Encode(conn, f); err != nil {
			m.log.WithError(err).WithField("peer", ps.id).Debug("mesh: write failed, closing stream")
			break
		}
	}
	conn.Close()
}

func (m *Mesh) readLoop(conn transport.Conn, id peerid.PeerId) {
	r := wire.NewReader(conn)
	r.OnDrop = func(err error, line []byte) {
		m.log.WithError(err).WithField("peer", id).Debug("mesh: dropped malformed frame")
	}

	for {
		f, err := r.Next()
		if err != nil {
			break
		}
		select {
		case m.inbox <- inboundFrame{from: id, frame: f}:
		case <-m.quit:
			return
		}
	}

	select {
	case m.cmds <- func(mm *Mesh) { mm.handleDisconnect(id) }:
	case <-m.quit:
	}
}

func (m *Mesh) handleDisconnect(id peerid.PeerId) {
	m.registry.Remove(id)
	m.sender.remove(id)

	abandoned := m.tracker.RemoveByOrigin(id)
	m.router.ObserveReap(len(abandoned))
	for _, req := range abandoned {
		m.history.AppendSystem("peer disconnected, abandoning request: " + req.Id)
		m.emit(&Event{typ: EventSystemError, error: errs.ErrPeerDisconnected.Error()})
	}

	m.emit(&Event{typ: EventPeerExit, peer: id})
}

func (m *Mesh) emit(e *Event) {
	select {
	case m.events <- e:
	default:
		m.log.Warn("mesh: events channel full, dropping event")
	}
}

// SubmitPrompt records a local user submission and, depending on role,
// either runs inference directly (host) or gossip-forwards a query
// (joiner); see router.Router.SubmitPrompt.
func (m *Mesh) SubmitPrompt(ctx context.Context, model, prompt string) (string, error) {
	type result struct {
		id  string
		err error
	}
	resCh := make(chan result, 1)
	select {
	case m.cmds <- func(mm *Mesh) {
		id, err := mm.router.SubmitPrompt(ctx, model, prompt)
		resCh <- result{id, err}
	}:
	case <-m.quit:
		return "", errs.ErrTransportUnavailable
	}
	r := <-resCh
	return r.id, r.err
}

// SetMode is the host-only mode mutation (spec.md §4.4): updates local
// mode and broadcasts mode_update to every open stream regardless of
// current mode.
func (m *Mesh) SetMode(mode session.Mode) error {
	errCh := make(chan error, 1)
	select {
	case m.cmds <- func(mm *Mesh) {
		err := mm.controller.SetMode(mode)
		if err == nil {
			mu := wire.NewModeUpdate()
			mu.IsCollaborativeMode = mode == session.ModeCollaborative
			mu.IsHost = true
			_ = mm.sender.Broadcast(mu, peerid.Zero)
		}
		errCh <- err
	}:
	case <-m.quit:
		errCh <- errs.ErrTransportUnavailable
	}
	return <-errCh
}

func (m *Mesh) Topic() (topic.Topic, bool)     { return m.controller.Topic() }
func (m *Mesh) Role() session.Role             { return m.controller.Role() }
func (m *Mesh) Mode() session.Mode             { return m.controller.Mode() }
func (m *Mesh) SelfId() peerid.PeerId          { return m.selfId }
func (m *Mesh) History() []*chatlog.Entry      { return m.history.Entries() }
func (m *Mesh) Peers() []*registry.Peer        { return m.registry.All() }
func (m *Mesh) Models() []catalog.Model        { return m.catalog.Models() }
func (m *Mesh) Events() <-chan *Event          { return m.events }

// Close tears down every stream and stops the actor, per spec.md §5:
// "Leaving the session destroys all streams; in-flight requests
// transition to errored."
func (m *Mesh) Close() error {
	close(m.quit)
	m.cancel()
	err := m.transport.Close()
	if egErr := m.eg.Wait(); egErr != nil && err == nil {
		err = egErr
	}
	return err
}

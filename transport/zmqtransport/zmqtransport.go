// Package zmqtransport is the real transport.Transport backend: a
// CURVE-secured ZMQ ROUTER/DEALER pair discovered via UDP beacon. It
// generalizes the teacher's (zeromq-gyre) Node — one bound ROUTER inbox
// plus one DEALER mailbox per known peer, with beacon.Signals() driving
// peer discovery — onto spec.md §4.1's topic-keyed, 32-byte-identity
// transport, and adds CURVE so the PeerId a joiner authenticates against
// is the same Curve25519 public key securing the link, not a bare UUID.
package zmqtransport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/sirupsen/logrus"

	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/topic"
	"github.com/llmesh/llmesh/transport"
	"github.com/llmesh/llmesh/transport/beacon"
)

const (
	dynPortFrom uint16 = 0xc000
	dynPortTo   uint16 = 0xffff

	identityPrefix byte = 1 // avoids a leading zero byte, per the teacher's peer.go comment
)

// Transport is the production transport.Transport: one ROUTER socket
// accepting inbound traffic from every peer, one DEALER socket dialed
// out per discovered peer, and a beacon announcing/discovering peers
// scoped to whichever topic has been Join'd.
type Transport struct {
	log *logrus.Entry

	router   *zmq.Socket
	port     uint16
	pubKey   string
	secKey   string
	localId  peerid.PeerId
	discPort int

	beacon *beacon.Beacon

	mu      sync.Mutex
	joined  topic.Topic
	hasJoin bool
	peers   map[peerid.PeerId]*zmqConn
	closed  bool

	conns chan transport.Conn
	quit  chan struct{}
	wg    sync.WaitGroup
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithLogger overrides the default logrus.StandardLogger() entry, the
// same override convention used across the ambient stack (see
// mesh.WithLogger).
func WithLogger(log *logrus.Entry) Option {
	return func(t *Transport) { t.log = log }
}

// WithDiscoveryPort overrides the UDP port beacon.New binds; 0 keeps
// beacon.DefaultPort.
func WithDiscoveryPort(port int) Option {
	return func(t *Transport) { t.discPort = port }
}

// New creates a Transport with a fresh CURVE keypair, whose public key
// becomes this endpoint's PeerId. The ROUTER socket binds a dynamic port
// immediately; Join starts the beacon and begins accepting peers for a
// topic.
func New(opts ...Option) (*Transport, error) {
	t := &Transport{
		log:   logrus.NewEntry(logrus.StandardLogger()),
		peers: make(map[peerid.PeerId]*zmqConn),
		conns: make(chan transport.Conn, 64),
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	pub, sec, err := zmq.NewCurveKeypair()
	if err != nil {
		return nil, fmt.Errorf("zmqtransport: generate curve keypair: %w", err)
	}
	t.pubKey, t.secKey = pub, sec

	rawPub, err := zmq.Z85Decode(pub)
	if err != nil {
		return nil, fmt.Errorf("zmqtransport: decode curve public key: %w", err)
	}
	copy(t.localId[:], rawPub)

	router, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("zmqtransport: new router socket: %w", err)
	}
	if err := router.SetCurveServer(1); err != nil {
		return nil, err
	}
	if err := router.SetCurveSecretkey(sec); err != nil {
		return nil, err
	}
	if err := router.SetRouterMandatory(1); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := dynPortFrom; i <= dynPortTo; i++ {
		port := uint16(rng.Intn(int(dynPortTo-dynPortFrom))) + dynPortFrom
		if err := router.Bind(fmt.Sprintf("tcp://*:%d", port)); err == nil {
			t.port = port
			break
		}
	}
	if t.port == 0 {
		return nil, errs.ErrTransportUnavailable
	}
	t.router = router

	b, err := beacon.New(t.discPort)
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("zmqtransport: new beacon: %w", err)
	}
	t.beacon = b

	t.wg.Add(2)
	go t.routerLoop()
	go t.beaconLoop()

	return t, nil
}

func (t *Transport) LocalId() peerid.PeerId { return t.localId }

// Join begins announcing on tp and dialing peers it discovers there.
// zmqtransport supports being joined to a single topic at a time, since
// one CURVE-keyed ROUTER identity only ever rendezvouses on one shared
// mesh (spec.md §3's one-topic-per-session model).
func (t *Transport) Join(ctx context.Context, tp topic.Topic) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errs.ErrTransportUnavailable
	}
	t.joined = tp
	t.hasJoin = true
	t.mu.Unlock()

	t.beacon.Announce(tp, t.localId, t.port)
	return nil
}

func (t *Transport) Leave(tp topic.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasJoin && t.joined == tp {
		t.hasJoin = false
		t.beacon.Silence()
	}
	return nil
}

func (t *Transport) Connections() <-chan transport.Conn { return t.conns }

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]*zmqConn, 0, len(t.peers))
	for _, c := range t.peers {
		peers = append(peers, c)
	}
	t.mu.Unlock()

	close(t.quit)
	t.beacon.Close()
	for _, c := range peers {
		c.Close()
	}
	t.router.Close()
	t.wg.Wait()
	close(t.conns)
	return nil
}

// beaconLoop mirrors the teacher's handler() select-loop arm for
// beacon.Signals(): every topic-matching signal from an unknown peer
// triggers requirePeer-equivalent dial-and-register.
func (t *Transport) beaconLoop() {
	defer t.wg.Done()
	for sig := range t.beacon.Signals() {
		t.requirePeer(sig.PeerId, sig.From.IP.String(), sig.Port)
	}
}

func (t *Transport) requirePeer(remote peerid.PeerId, host string, port uint16) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, ok := t.peers[remote]; ok {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	conn, err := t.dial(remote, host, port)
	if err != nil {
		t.log.WithError(err).WithField("peer", remote).Warn("zmqtransport: dial failed")
		return
	}

	t.mu.Lock()
	t.peers[remote] = conn
	t.mu.Unlock()

	select {
	case t.conns <- conn:
	case <-t.quit:
		conn.Close()
	}
}

func (t *Transport) dial(remote peerid.PeerId, host string, port uint16) (*zmqConn, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, err
	}
	if err := sock.SetCurveServerkey(zmq.Z85Encode(string(remote[:]))); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetCurvePublickey(t.pubKey); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetCurveSecretkey(t.secKey); err != nil {
		sock.Close()
		return nil, err
	}
	routingId := append([]byte{identityPrefix}, t.localId[:]...)
	if err := sock.SetIdentity(string(routingId)); err != nil {
		sock.Close()
		return nil, err
	}
	sock.SetSndtimeo(0)

	endpoint := fmt.Sprintf("tcp://%s:%d", host, port)
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, err
	}

	r, w := io.Pipe()
	return &zmqConn{remote: remote, out: sock, r: r, w: w}, nil
}

// routerLoop is the single goroutine allowed to touch t.router, mirroring
// the teacher's inboxHandler()+handler() split collapsed into one loop:
// every inbound frame is demultiplexed by its identity prefix and written
// into the matching zmqConn's pipe.
func (t *Transport) routerLoop() {
	defer t.wg.Done()
	poller := zmq.NewPoller()
	poller.Add(t.router, zmq.POLLIN)

	for {
		select {
		case <-t.quit:
			return
		default:
		}

		sockets, err := poller.Poll(500 * time.Millisecond)
		if err != nil {
			return
		}
		for _, s := range sockets {
			frames, err := s.Socket.RecvMessageBytes(0)
			if err != nil || len(frames) < 2 {
				continue
			}
			idFrame, payload := frames[0], frames[1]
			if len(idFrame) != peerid.Size+1 || idFrame[0] != identityPrefix {
				continue
			}
			var remote peerid.PeerId
			copy(remote[:], idFrame[1:])

			t.mu.Lock()
			conn, ok := t.peers[remote]
			t.mu.Unlock()
			if !ok {
				// A peer dialed us before our own beacon-triggered dial
				// landed; we have no endpoint to dial back with yet, so
				// the frame is dropped until our side discovers them.
				t.log.WithField("peer", remote).Debug("zmqtransport: frame from unregistered peer, dropping")
				continue
			}
			if _, err := conn.w.Write(payload); err != nil {
				t.log.WithError(err).WithField("peer", remote).Warn("zmqtransport: deliver to local pipe failed")
			}
		}
	}
}

// zmqConn adapts one DEALER mailbox (outbound) plus the inbound pipe fed
// by routerLoop into a single transport.Conn, the same Write-once-per-
// frame convention memtransport's pipeConn satisfies.
type zmqConn struct {
	remote peerid.PeerId
	out    *zmq.Socket
	outMu  sync.Mutex
	r      *io.PipeReader
	w      *io.PipeWriter
}

func (c *zmqConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *zmqConn) Write(p []byte) (int, error) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := c.out.SendBytes(p, 0); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *zmqConn) RemoteId() peerid.PeerId { return c.remote }

func (c *zmqConn) Close() error {
	_ = c.w.Close()
	_ = c.r.Close()
	return c.out.Close()
}

package mesh

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/wire"
)

// outboxCapacity bounds how many not-yet-written frames a stream may
// queue before new sends are dropped. There are no retries at this
// layer (spec.md §4.1), so a full outbox means a stuck or slow peer, not
// a bug to recover from.
const outboxCapacity = 256

// peerSender is one connected peer's write side: a buffered outbox
// drained by its own goroutine, so a slow peer's write never blocks the
// caller (which may be the Mesh actor or a background inference task).
type peerSender struct {
	id     peerid.PeerId
	outbox chan wire.Frame
}

// fanout implements router.Sender over the set of currently connected
// peers. It is safe for concurrent use: both the Mesh actor and
// in-flight inference.Proxy goroutines call SendTo/Broadcast directly,
// per spec.md §5's "no lock held across a suspension point" — sends here
// only enqueue onto a channel, never block on the wire.
type fanout struct {
	mu    sync.Mutex
	peers map[peerid.PeerId]*peerSender
	log   *logrus.Entry
}

func newFanout(log *logrus.Entry) *fanout {
	return &fanout{peers: make(map[peerid.PeerId]*peerSender), log: log}
}

func (f *fanout) add(id peerid.PeerId) *peerSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &peerSender{id: id, outbox: make(chan wire.Frame, outboxCapacity)}
	f.peers[id] = p
	return p
}

func (f *fanout) remove(id peerid.PeerId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.peers[id]; ok {
		close(p.outbox)
		delete(f.peers, id)
	}
}

func (f *fanout) SendTo(id peerid.PeerId, frame wire.Frame) error {
	f.mu.Lock()
	p, ok := f.peers[id]
	f.mu.Unlock()
	if !ok {
		return nil // peer disconnected meanwhile; best-effort per spec.md §4.1
	}
	select {
	case p.outbox <- frame:
	default:
		f.log.WithField("peer", id).Warn("mesh: outbox full, dropping frame")
	}
	return nil
}

func (f *fanout) Broadcast(frame wire.Frame, except peerid.PeerId) error {
	f.mu.Lock()
	targets := make([]*peerSender, 0, len(f.peers))
	for id, p := range f.peers {
		if id == except {
			continue
		}
		targets = append(targets, p)
	}
	f.mu.Unlock()

	for _, p := range targets {
		cloned := wire.Clone(frame)
		select {
		case p.outbox <- cloned:
		default:
			f.log.WithField("peer", p.id).Warn("mesh: outbox full, dropping broadcast frame")
		}
	}
	return nil
}

func (f *fanout) OpenPeers() []peerid.PeerId {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]peerid.PeerId, 0, len(f.peers))
	for id := range f.peers {
		out = append(out, id)
	}
	return out
}

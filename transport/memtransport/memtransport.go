// Package memtransport is an in-process fake of transport.Transport used
// by tests. It generalizes the teacher's own integration-test shape —
// node_test.go spins up two real *Node values on loopback ZMQ sockets and
// exchanges events — into a pure in-memory substrate keyed by topic, so
// package tests exercising router/session/gossip logic don't need libzmq,
// real UDP multicast, or open ports.
package memtransport

import (
	"context"
	"io"
	"sync"

	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/topic"
	"github.com/llmesh/llmesh/transport"
)

// Broker is the shared rendezvous point every memtransport.Transport in a
// test must join through, standing in for the beacon+socket substrate.
type Broker struct {
	mu      sync.Mutex
	members map[topic.Topic]map[peerid.PeerId]*Transport
}

func NewBroker() *Broker {
	return &Broker{members: make(map[topic.Topic]map[peerid.PeerId]*Transport)}
}

// Transport is a Broker-connected participant.
type Transport struct {
	broker *Broker
	id     peerid.PeerId

	mu     sync.Mutex
	topics map[topic.Topic]bool
	conns  chan transport.Conn
	opened []*pipeConn
	closed bool
}

func New(broker *Broker, id peerid.PeerId) *Transport {
	return &Transport{
		broker: broker,
		id:     id,
		topics: make(map[topic.Topic]bool),
		conns:  make(chan transport.Conn, 64),
	}
}

func (t *Transport) LocalId() peerid.PeerId { return t.id }

func (t *Transport) Join(ctx context.Context, tp topic.Topic) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errs.ErrTransportUnavailable
	}
	t.topics[tp] = true
	t.mu.Unlock()

	t.broker.mu.Lock()
	defer t.broker.mu.Unlock()

	members, ok := t.broker.members[tp]
	if !ok {
		members = make(map[peerid.PeerId]*Transport)
		t.broker.members[tp] = members
	}

	for otherId, other := range members {
		if otherId == t.id {
			continue
		}
		selfConn, otherConn := newPipePair(t.id, otherId)
		t.deliver(selfConn)
		other.deliver(otherConn)
	}
	members[t.id] = t

	return nil
}

func (t *Transport) Leave(tp topic.Topic) error {
	t.broker.mu.Lock()
	defer t.broker.mu.Unlock()
	if members, ok := t.broker.members[tp]; ok {
		delete(members, t.id)
	}
	t.mu.Lock()
	delete(t.topics, tp)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Connections() <-chan transport.Conn { return t.conns }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, c := range t.opened {
		c.Close()
	}
	close(t.conns)
	return nil
}

func (t *Transport) deliver(c *pipeConn) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.Close()
		return
	}
	t.opened = append(t.opened, c)
	t.mu.Unlock()

	select {
	case t.conns <- c:
	default:
	}
}

// pipeConn wires two io.Pipe halves into one full-duplex transport.Conn.
type pipeConn struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	remote peerid.PeerId
}

func newPipePair(aId, bId peerid.PeerId) (a *pipeConn, b *pipeConn) {
	aToB_r, aToB_w := io.Pipe()
	bToA_r, bToA_w := io.Pipe()
	a = &pipeConn{r: bToA_r, w: aToB_w, remote: bId}
	b = &pipeConn{r: aToB_r, w: bToA_w, remote: aId}
	return a, b
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *pipeConn) RemoteId() peerid.PeerId     { return c.remote }
func (c *pipeConn) Close() error {
	_ = c.w.Close()
	_ = c.r.Close()
	return nil
}

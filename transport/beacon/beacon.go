// Package beacon implements topic-keyed peer discovery on a local
// network: a participant broadcasts and listens for UDP multicast
// announcements carrying its topic and PeerId, the same way the
// teacher's (zeromq-gyre) beacon package announces a node's UUID. Here
// the 32-byte topic takes the place of the teacher's per-node UUID
// filter, so only participants rendezvousing on the same topic ever
// connect to each other.
//
// The teacher's own beacon.go depends on the long-dead
// code.google.com/p/go.net/{ipv4,ipv6} import path; this is its direct
// modern-stdlib descendant using net.ListenMulticastUDP, which gives the
// identical multicast-socket semantics without an unresolvable legacy
// dependency (see DESIGN.md).
package beacon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/topic"
)

const (
	// DefaultPort is the UDP port used for beacon announce/listen,
	// distinct from the teacher's IANA-assigned ZRE discovery port since
	// this is a different wire protocol.
	DefaultPort = 38470

	beaconVersion   byte          = 0x1
	magic                         = "LMH"
	defaultInterval time.Duration = 1 * time.Second
	maxDatagram                   = 128
)

var multicastGroup = net.IPv4(224, 0, 0, 113)

// Signal is one received, topic-matching beacon.
type Signal struct {
	From   *net.UDPAddr
	PeerId peerid.PeerId
	Port   uint16
}

// Beacon announces this node's presence on tp and reports the presence
// of others announcing the same topic.
type Beacon struct {
	conn      *net.UDPConn
	groupAddr *net.UDPAddr

	topic    topic.Topic
	selfId   peerid.PeerId
	port     uint16
	interval time.Duration

	signals chan *Signal
	quit    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	transmit  []byte
	terminated bool
}

// New binds the multicast listener on discoveryPort (0 means
// beacon.DefaultPort).
func New(discoveryPort int) (*Beacon, error) {
	if discoveryPort == 0 {
		discoveryPort = DefaultPort
	}
	groupAddr := &net.UDPAddr{IP: multicastGroup, Port: discoveryPort}

	conn, err := net.ListenMulticastUDP("udp4", nil, groupAddr)
	if err != nil {
		return nil, err
	}
	conn.SetReadBuffer(maxDatagram * 64)

	b := &Beacon{
		conn:      conn,
		groupAddr: groupAddr,
		interval:  defaultInterval,
		signals:   make(chan *Signal, 256),
		quit:      make(chan struct{}),
	}
	return b, nil
}

// Announce starts broadcasting presence for tp/selfId/inboxPort and
// begins listening for other participants' announcements on the same
// topic. inboxPort is the TCP/ZMQ port remote peers should dial to reach
// this node.
func (b *Beacon) Announce(tp topic.Topic, selfId peerid.PeerId, inboxPort uint16) {
	b.topic = tp
	b.selfId = selfId
	b.port = inboxPort

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(beaconVersion)
	buf.Write(tp[:])
	buf.Write(selfId[:])
	binary.Write(&buf, binary.BigEndian, inboxPort)

	b.mu.Lock()
	b.transmit = buf.Bytes()
	b.mu.Unlock()

	b.wg.Add(2)
	go b.listen()
	go b.announceLoop()
}

// Silence stops broadcasting without closing the listener, mirroring the
// teacher's Beacon.Silence in beacon/beacon.go.
func (b *Beacon) Silence() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transmit = nil
}

// Signals returns the channel of topic-matching peer announcements.
func (b *Beacon) Signals() <-chan *Signal { return b.signals }

// Close stops announcing and listening.
func (b *Beacon) Close() error {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return nil
	}
	b.terminated = true
	b.mu.Unlock()

	close(b.quit)
	err := b.conn.Close()
	b.wg.Wait()
	close(b.signals)
	return err
}

func (b *Beacon) announceLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.quit:
			return
		case <-ticker.C:
			b.mu.Lock()
			payload := b.transmit
			b.mu.Unlock()
			if payload == nil {
				continue
			}
			b.conn.WriteToUDP(payload, b.groupAddr)
		}
	}
}

func (b *Beacon) listen() {
	defer b.wg.Done()
	buf := make([]byte, maxDatagram)

	for {
		select {
		case <-b.quit:
			return
		default:
		}

		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		sig, err := b.parse(buf[:n], addr)
		if err != nil {
			continue
		}
		if sig.PeerId == b.selfId {
			continue // noecho, per the teacher's NoEcho()
		}
		select {
		case b.signals <- sig:
		default:
		}
	}
}

func (b *Beacon) parse(datagram []byte, from *net.UDPAddr) (*Signal, error) {
	want := len(magic) + 1 + topic.Size + peerid.Size + 2
	if len(datagram) != want {
		return nil, errors.New("beacon: wrong datagram length")
	}
	if string(datagram[:len(magic)]) != magic {
		return nil, errors.New("beacon: bad magic")
	}
	off := len(magic)
	version := datagram[off]
	off++
	if version != beaconVersion {
		return nil, errors.New("beacon: unsupported version")
	}

	var gotTopic topic.Topic
	copy(gotTopic[:], datagram[off:off+topic.Size])
	off += topic.Size
	if gotTopic != b.topic {
		return nil, errors.New("beacon: topic mismatch")
	}

	var pid peerid.PeerId
	copy(pid[:], datagram[off:off+peerid.Size])
	off += peerid.Size

	port := binary.BigEndian.Uint16(datagram[off : off+2])

	return &Signal{From: from, PeerId: pid, Port: port}, nil
}

// Package registry implements the Peer Registry (spec.md §4.3): the
// in-memory table of currently connected remotes and their negotiated
// attributes. It generalizes the teacher's (zeromq-gyre) peers map plus
// its peer-number-free Peer struct (peer.go) into the richer attribute
// set spec.md §3 requires: display name, host flag, color slot rotation,
// and stable monotonic peer numbering.
package registry

import (
	"strconv"
	"time"

	"github.com/llmesh/llmesh/peerid"
)

// ColorSlots is the fixed rotation of color slots assigned to peers in
// admission order, per spec.md §3 ("Color slots rotate through five
// fixed slots in order of admission").
const ColorSlots = 5

// Peer is one registry entry.
type Peer struct {
	Id          peerid.PeerId
	DisplayName string
	PeerNumber  int
	ColorSlot   int
	IsHost      bool
	ClientId    peerid.PeerId
	ConnectedAt time.Time
}

// Attrs is the set of attributes Upsert merges into a (possibly new)
// registry entry.
type Attrs struct {
	DisplayName string
	IsHost      bool
	ClientId    peerid.PeerId
}

// Registry is the single-writer table of connected peers. Like
// chatlog.History, it is meant to be reached from one owning goroutine
// (spec.md §5); the mutex exists for the rare concurrent snapshot read.
type Registry struct {
	peers      map[peerid.PeerId]*Peer
	nextNumber int
	nextSlot   int
	// stableNames remembers a peer's negotiated display name across a
	// disconnect/reconnect of the same PeerId, per spec.md §4.6's
	// "retains display-name stability if one was negotiated".
	stableNames map[peerid.PeerId]string
}

func New() *Registry {
	return &Registry{
		peers:       make(map[peerid.PeerId]*Peer),
		stableNames: make(map[peerid.PeerId]string),
		nextNumber:  1,
	}
}

// Upsert merges attrs into the entry for id, creating it if absent. The
// literal display name "You" supplied by a remote is replaced with
// Peer<N>, since "You" is reserved for the local participant
// (spec.md §4.3).
func (r *Registry) Upsert(id peerid.PeerId, attrs Attrs) *Peer {
	p, ok := r.peers[id]
	if !ok {
		p = &Peer{
			Id:          id,
			PeerNumber:  r.allocNumber(),
			ColorSlot:   r.allocSlot(),
			ConnectedAt: time.Now(),
		}
		if name, ok := r.stableNames[id]; ok {
			p.DisplayName = name
		}
		r.peers[id] = p
	}

	name := attrs.DisplayName
	if name == "You" {
		name = peerLabel(p.PeerNumber)
	}
	if name != "" {
		p.DisplayName = name
		r.stableNames[id] = name
	}
	if attrs.IsHost {
		p.IsHost = true
	}
	if !attrs.ClientId.IsZero() {
		p.ClientId = attrs.ClientId
	}
	return p
}

// Remove deletes the entry for id. Idempotent.
func (r *Registry) Remove(id peerid.PeerId) {
	delete(r.peers, id)
}

// Get returns the entry for id, if present.
func (r *Registry) Get(id peerid.PeerId) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// All returns every currently connected peer. Order is unspecified.
func (r *Registry) All() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of connected peers.
func (r *Registry) Count() int {
	return len(r.peers)
}

// allocNumber assigns the lowest unused peer number among currently
// connected peers, per spec.md §3 ("assigned monotonically on first
// observation, never reused while the peer is connected").
func (r *Registry) allocNumber() int {
	used := make(map[int]bool, len(r.peers))
	for _, p := range r.peers {
		used[p.PeerNumber] = true
	}
	n := 1
	for used[n] {
		n++
	}
	return n
}

// allocSlot returns the next color slot in the fixed 5-slot rotation.
func (r *Registry) allocSlot() int {
	slot := r.nextSlot%ColorSlots + 1
	r.nextSlot++
	return slot
}

func peerLabel(n int) string {
	return "Peer" + strconv.Itoa(n)
}

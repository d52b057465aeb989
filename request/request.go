// Package request implements the Request Tracker (spec.md §4.5): the
// correlation table mapping RequestIds to request metadata. On the
// originator it decides whether an incoming response frame belongs to an
// active local request; on the host it additionally tracks requests
// received from remotes so their chunks can be attributed.
package request

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/peerid"
)

// NewId generates a fresh RequestId: 8 random bytes, hex-encoded, unique
// within a session with overwhelming probability (spec.md §3).
func NewId() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// State is a Request's lifecycle stage.
type State int

const (
	StatePending State = iota
	StateStreaming
	StateComplete
	StateErrored
)

// DefaultIdleTimeout is the recommended window from spec.md §5: a
// Request with no chunk received for this long is garbage-collected.
const DefaultIdleTimeout = 120 * time.Second

// Request is one tracked correlation record.
type Request struct {
	Id          string
	OriginPeer  peerid.PeerId // peerid.Zero means "self" (spec.md §3)
	OriginIsSelf bool
	Model       string
	Prompt      string
	StartedAt   time.Time
	LastChunkAt time.Time
	Accumulator []byte
	State       State

	// HopCount belongs to the gossip loop-prevention design in spec.md
	// §9's REDESIGN FLAG; tracker membership itself is the floor the spec
	// requires. The forwarder counts hops on wire.Query.HopCount and does
	// not set this field.
	HopCount int
}

type key struct {
	origin peerid.PeerId
	id     string
}

// Tracker is the single-writer correlation table. At most one Request
// exists per (OriginPeer, Id) pair, satisfying both the originator's
// per-RequestId uniqueness invariant and the host's per-(originPeer,
// RequestId) invariant from spec.md §3.
type Tracker struct {
	mu          sync.Mutex
	byKey       map[key]*Request
	idleTimeout time.Duration
}

func New(idleTimeout time.Duration) *Tracker {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Tracker{byKey: make(map[key]*Request), idleTimeout: idleTimeout}
}

// Register inserts req. It returns errs.ErrDuplicateRequest if a Request
// already exists for the same (OriginPeer, Id).
func (t *Tracker) Register(req *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{origin: req.OriginPeer, id: req.Id}
	if _, exists := t.byKey[k]; exists {
		return errs.ErrDuplicateRequest
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = time.Now()
	}
	req.LastChunkAt = req.StartedAt
	t.byKey[k] = req
	return nil
}

// Lookup returns the tracked request for (origin, id), if any.
func (t *Tracker) Lookup(origin peerid.PeerId, id string) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byKey[key{origin: origin, id: id}]
	return r, ok
}

// LookupByIdAnyOrigin scans for a request by Id regardless of origin. An
// originator tracks its own requests under the constant "self" origin
// key (peerid.Zero) and finds them with Lookup; this scan does not need
// the origin at all.
func (t *Tracker) LookupByIdAnyOrigin(id string) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, r := range t.byKey {
		if k.id == id {
			return r, true
		}
	}
	return nil, false
}

// Touch records that a chunk was just received for (origin, id), resetting
// the idle-GC clock, and appends to the accumulator.
func (t *Tracker) Touch(origin peerid.PeerId, id string, chunk []byte, state State) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byKey[key{origin: origin, id: id}]
	if !ok {
		return nil, false
	}
	r.Accumulator = append(r.Accumulator, chunk...)
	r.LastChunkAt = time.Now()
	r.State = state
	return r, true
}

// Remove deletes the entry for (origin, id). GC removes complete or
// errored entries immediately per spec.md §5's resource policy.
func (t *Tracker) Remove(origin peerid.PeerId, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, key{origin: origin, id: id})
}

// Has reports whether (origin, id) is currently tracked.
func (t *Tracker) Has(origin peerid.PeerId, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byKey[key{origin: origin, id: id}]
	return ok
}

// HasAnyOrigin reports whether id is tracked under any origin — used by
// the Gossip Forwarder's duplicate-suppression rule (spec.md §4.9): "the
// receiver MUST NOT re-enqueue a query whose RequestId is already
// present in its tracker."
func (t *Tracker) HasAnyOrigin(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.byKey {
		if k.id == id {
			return true
		}
	}
	return false
}

// ReapIdle removes and returns every Request whose last chunk predates
// the idle timeout, transitioning it to errored first so the caller can
// surface errs.ErrRequestIdleTimeout as a system ChatEntry on the
// originator per spec.md §7.
func (t *Tracker) ReapIdle(now time.Time) []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reaped []*Request
	for k, r := range t.byKey {
		if r.State == StateComplete || r.State == StateErrored {
			continue
		}
		if now.Sub(r.LastChunkAt) >= t.idleTimeout {
			r.State = StateErrored
			reaped = append(reaped, r)
			delete(t.byKey, k)
		}
	}
	return reaped
}

// RemoveByOrigin deletes and returns every Request tracked under the
// given OriginPeer, transitioning each to errored first. Used when a
// peer disconnects: any request the host was servicing on that peer's
// behalf is abandoned per spec.md §7's PeerDisconnect handling.
func (t *Tracker) RemoveByOrigin(origin peerid.PeerId) []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []*Request
	for k, r := range t.byKey {
		if k.origin != origin {
			continue
		}
		r.State = StateErrored
		removed = append(removed, r)
		delete(t.byKey, k)
	}
	return removed
}

// Count returns the number of currently tracked requests.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}

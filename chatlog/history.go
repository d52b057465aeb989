package chatlog

import (
	"sync"
	"time"
)

// DefaultCapacity is the recommended N from spec.md §5's resource policy:
// "ChatHistory: keep the last N entries (recommended N=100) by dropping
// the oldest non-system entries."
const DefaultCapacity = 100

// History is the in-memory, append-mostly chat log. It is a single-writer
// logical object: callers are expected to reach it mainly from the owning
// session's serializing goroutine (spec.md §5). Every method, appends
// included, takes History's own mutex, so a cross-goroutine read (e.g. a
// UI snapshot taken concurrently with the session actor) is safe.
type History struct {
	mu       sync.Mutex
	entries  []*Entry
	capacity int
}

// New creates a History with the given capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity}
}

// AppendUser appends a user ChatEntry attributed to fromPeer ("" for the
// local user).
func (h *History) AppendUser(content, fromPeer string) *Entry {
	e := &Entry{Kind: KindUser, Content: content, RawContent: content, FromPeer: fromPeer, Timestamp: now(), Complete: true}
	h.append(e)
	return e
}

// AppendSystem appends a system ChatEntry, e.g. for the error kinds in
// spec.md §7. System entries are never dropped by capacity trimming.
func (h *History) AppendSystem(content string) *Entry {
	e := &Entry{Kind: KindSystem, Content: content, RawContent: content, Timestamp: now(), Complete: true}
	h.append(e)
	return e
}

// AppendOrUpdateAssistant implements the streaming reassembly invariant
// from spec.md §3: "While a Request is in streaming, its assistant
// ChatEntry exists and is the most recent assistant entry with that
// RequestId." A matching-by-RequestId lookup is performed; if none
// exists, one is created (first chunk of a request, or isNewMessage from
// a peer_message frame). Finalization is a state transition
// (Entry.Complete), not a sentinel empty-chunk convention — this is the
// spec.md §9 REDESIGN FLAG fix for the teacher-analog ad-hoc-map +
// duplicate-render-suppression pattern.
func (h *History) AppendOrUpdateAssistant(requestId, fromPeer, rawChunk string, isComplete bool) *Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.Kind == KindAssistant && e.RequestId == requestId {
			e.RawContent += rawChunk
			e.Content = FormatThinking(e.RawContent)
			e.Complete = e.Complete || isComplete
			return e
		}
	}

	e := &Entry{
		Kind:       KindAssistant,
		RequestId:  requestId,
		FromPeer:   fromPeer,
		RawContent: rawChunk,
		Content:    FormatThinking(rawChunk),
		Timestamp:  now(),
		Complete:   isComplete,
	}
	h.entries = append(h.entries, e)
	h.trimLocked()
	return e
}

// append adds e and enforces the capacity policy.
func (h *History) append(e *Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	h.trimLocked()
}

// trimLocked drops the oldest non-system entries once len(entries)
// exceeds capacity. Must be called with h.mu held.
func (h *History) trimLocked() {
	overflow := len(h.entries) - h.capacity
	if overflow <= 0 {
		return
	}
	kept := h.entries[:0]
	dropped := 0
	for _, e := range h.entries {
		if dropped < overflow && e.Kind != KindSystem {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
}

// Entries returns a snapshot slice of the current log, oldest first.
func (h *History) Entries() []*Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// FindAssistant returns the most recent assistant entry for requestId, if
// any.
func (h *History) FindAssistant(requestId string) (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.Kind == KindAssistant && e.RequestId == requestId {
			return e, true
		}
	}
	return nil, false
}

// now is a seam so tests can observe deterministic ordering without
// depending on wall-clock resolution.
var now = time.Now

package mesh

import "github.com/llmesh/llmesh/peerid"

// EventType discriminates the notifications Mesh pushes to Events(),
// generalizing the teacher's (zeromq-gyre) EventType enum in event.go
// from group membership events to this spec's peer and history events.
type EventType int

const (
	EventPeerEnter EventType = iota + 1
	EventPeerExit
	EventHistoryUpdated
	EventSystemError
)

func (t EventType) String() string {
	switch t {
	case EventPeerEnter:
		return "PeerEnter"
	case EventPeerExit:
		return "PeerExit"
	case EventHistoryUpdated:
		return "HistoryUpdated"
	case EventSystemError:
		return "SystemError"
	default:
		return ""
	}
}

// Event is one notification delivered on Mesh.Events(). Fields are
// accessed through methods, mirroring the teacher's private-field Event
// in event.go.
type Event struct {
	typ   EventType
	peer  peerid.PeerId
	error string
}

func (e *Event) Type() EventType      { return e.typ }
func (e *Event) Peer() peerid.PeerId  { return e.peer }
func (e *Event) Error() string        { return e.error }

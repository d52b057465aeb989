// Package session implements the Session Controller (spec.md §4.4): role,
// chat mode, and the active topic. Authoritative on the host; slaved to
// host updates on joiners. This is the direct generalization of the
// teacher's ad-hoc role inference ("first connection" heuristics,
// spec.md §9 REDESIGN FLAG) into an explicit state machine where isHost
// in a handshake/mode_update is the sole source of truth — the registry
// and controller never guess.
package session

import (
	"sync"

	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/topic"
)

// Role is the local session's role.
type Role int

const (
	RoleIdle Role = iota
	RoleHost
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	default:
		return "idle"
	}
}

// Mode is the chat broadcast mode.
type Mode int

const (
	ModeCollaborative Mode = iota
	ModePrivate
)

func (m Mode) String() string {
	if m == ModePrivate {
		return "private"
	}
	return "collaborative"
}

// Controller owns role, mode, and topic. It is meant to be reached only
// from the owning session's single serializing goroutine (spec.md §5);
// the mutex guards the rare concurrent read (e.g. a UI status line).
type Controller struct {
	mu     sync.Mutex
	role   Role
	mode   Mode
	topic  topic.Topic
	hasTop bool
	selfId peerid.PeerId
}

// New creates an idle controller for selfId, with the given
// user-configured default mode (spec.md §3: "On role=idle, mode is the
// user-configured default").
func New(selfId peerid.PeerId, defaultMode Mode) *Controller {
	return &Controller{role: RoleIdle, mode: defaultMode, selfId: selfId}
}

// InitializeHost generates a fresh topic and sets role=host. Mode stays
// whatever the caller had configured (default collaborative per
// spec.md §4.4).
func (c *Controller) InitializeHost() (topic.Topic, error) {
	t, err := topic.New()
	if err != nil {
		return topic.Topic{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = t
	c.hasTop = true
	c.role = RoleHost
	return t, nil
}

// Join validates topicHex, sets role=joiner, topic, and a tentative local
// mode (overwritten on the first authoritative mode_update from a host).
func (c *Controller) Join(topicHex string, tentativeMode Mode) (topic.Topic, error) {
	t, err := topic.Parse(topicHex)
	if err != nil {
		return topic.Topic{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = t
	c.hasTop = true
	c.role = RoleJoiner
	c.mode = tentativeMode
	return t, nil
}

// SetMode is the host-only mutation: it updates the local mode. Callers
// are still responsible for broadcasting mode_update to every open
// stream regardless of current mode (spec.md §4.4: "mode updates bypass
// the private-mode suppression") — that fan-out lives in mesh.Mesh.SetMode,
// which owns the peer streams, not here.
func (c *Controller) SetMode(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleHost {
		return errs.ErrNotHost
	}
	c.mode = mode
	return nil
}

// AcceptModeUpdate applies the acceptance rule from spec.md §4.4/§4.6: a
// mode_update is accepted only when the local role is joiner and the
// sender carries isHost=true. Anything else is
// errs.ErrModeUpdateFromNonHost and must be logged and ignored by the
// caller, not treated as fatal.
func (c *Controller) AcceptModeUpdate(senderIsHost bool, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleJoiner {
		return errs.ErrModeUpdateFromNonHost
	}
	if !senderIsHost {
		return errs.ErrModeUpdateFromNonHost
	}
	c.mode = mode
	return nil
}

func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Topic() (topic.Topic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic, c.hasTop
}

func (c *Controller) SelfId() peerid.PeerId {
	return c.selfId
}

// Leave returns the controller to idle, e.g. when joining a new topic
// implicitly leaves the previous session (spec.md §5).
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleIdle
	c.hasTop = false
}

// Package wire implements the Frame Codec (spec.md §4.2): each logical
// message is one self-delimited JSON record carrying a tagged envelope,
// newline-delimited on the stream. This generalizes the teacher's
// (zeromq-gyre's) hand-rolled binary TLV codec in msg/msg.go to the
// spec-mandated JSON wire format while keeping the same shape: one Go
// type per tag, a Transit-style marshal/unmarshal pair, and a Clone
// helper used when fanning a frame out to several peers.
package wire

// Type is the wire frame's mandatory `type` discriminator.
type Type string

const (
	TypeHandshake    Type = "handshake"
	TypeHandshakeAck Type = "handshake_ack"
	TypeModeUpdate   Type = "mode_update"
	TypeModelsUpdate Type = "models_update"
	TypeModelRequest Type = "model_request"
	TypeQuery        Type = "query"
	TypeResponse     Type = "response"
	TypePeerMessage  Type = "peer_message"
)

// Frame is satisfied by every wire message. Fields unknown to the
// receiver MUST be ignored per spec.md §6 — jsoniter already does this
// for struct-tagged decode, so no frame type needs to reject extra keys.
type Frame interface {
	FrameType() Type
}

// Handshake advertises identity and role on connect.
type Handshake struct {
	Type        Type              `json:"type"`
	ClientId    string            `json:"clientId"`
	DisplayName string            `json:"displayName"`
	Timestamp   int64             `json:"timestamp"`
	IsHost      bool              `json:"isHost,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewHandshake() *Handshake { return &Handshake{Type: TypeHandshake} }
func (h *Handshake) FrameType() Type { return TypeHandshake }

// HandshakeAck is sent by a dedicated server-style host endpoint.
type HandshakeAck struct {
	Type      Type   `json:"type"`
	ServerId  string `json:"serverId"`
	Timestamp int64  `json:"timestamp"`
}

func NewHandshakeAck() *HandshakeAck { return &HandshakeAck{Type: TypeHandshakeAck} }
func (h *HandshakeAck) FrameType() Type { return TypeHandshakeAck }

// ModeUpdate is the authoritative mode announcement, host to peers.
type ModeUpdate struct {
	Type                Type  `json:"type"`
	IsCollaborativeMode bool  `json:"isCollaborativeMode"`
	IsHost              bool  `json:"isHost,omitempty"`
	PreviousMode        *bool `json:"previousMode,omitempty"`
}

func NewModeUpdate() *ModeUpdate { return &ModeUpdate{Type: TypeModeUpdate} }
func (m *ModeUpdate) FrameType() Type { return TypeModeUpdate }

// ModelRef is one entry of a models_update catalog push.
type ModelRef struct {
	Name       string `json:"name"`
	Id         string `json:"id,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// ModelsUpdate pushes the host's model catalog to a peer.
type ModelsUpdate struct {
	Type   Type       `json:"type"`
	Models []ModelRef `json:"models"`
}

func NewModelsUpdate() *ModelsUpdate { return &ModelsUpdate{Type: TypeModelsUpdate} }
func (m *ModelsUpdate) FrameType() Type { return TypeModelsUpdate }

// ModelRequest asks the host to (re-)send its catalog.
type ModelRequest struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

func NewModelRequest() *ModelRequest { return &ModelRequest{Type: TypeModelRequest} }
func (m *ModelRequest) FrameType() Type { return TypeModelRequest }

// Query requests inference, originated by a peer and possibly re-forwarded
// peer to peer by the Gossip Forwarder. HopCount and the fromPeerId-is-the-
// original-submitter invariant are the spec.md §9 REDESIGN FLAG fixes for
// the teacher-analog gossip-loop bug.
type Query struct {
	Type       Type   `json:"type"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	RequestId  string `json:"requestId"`
	FromPeerId string `json:"fromPeerId"`
	HopCount   int    `json:"hopCount,omitempty"`
}

func NewQuery() *Query { return &Query{Type: TypeQuery} }
func (q *Query) FrameType() Type { return TypeQuery }

// Response is a direct streamed answer, host to origin (and host to
// others in collaborative mode).
type Response struct {
	Type       Type   `json:"type"`
	RequestId  string `json:"requestId"`
	Data       string `json:"data"`
	IsComplete bool   `json:"isComplete"`
	IsJson     bool   `json:"isJson,omitempty"`
	IsPrivate  bool   `json:"isPrivate,omitempty"`
	FromPeerId string `json:"fromPeerId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewResponse() *Response { return &Response{Type: TypeResponse} }
func (r *Response) FrameType() Type { return TypeResponse }

// PeerMessage broadcasts a participant's message or a streaming assistant
// chunk; collaborative mode only.
type PeerMessage struct {
	Type         Type   `json:"type"`
	MessageType  string `json:"messageType"` // "user" | "assistant"
	RequestId    string `json:"requestId"`
	Content      string `json:"content"`
	FromPeer     string `json:"fromPeer"`
	RawContent   string `json:"rawContent,omitempty"`
	IsComplete   bool   `json:"isComplete,omitempty"`
	IsNewMessage bool   `json:"isNewMessage,omitempty"`
}

func NewPeerMessage() *PeerMessage { return &PeerMessage{Type: TypePeerMessage} }
func (p *PeerMessage) FrameType() Type { return TypePeerMessage }

const (
	PeerMessageUser      = "user"
	PeerMessageAssistant = "assistant"
)

// Unknown wraps a frame whose tag has no local handler. The codec still
// decodes its envelope so the router can log the tag and drop it per
// spec.md §4.6 ("Unknown tags are logged and ignored") without tearing
// down the stream.
type Unknown struct {
	Type Type `json:"type"`
	Raw  []byte
}

func (u *Unknown) FrameType() Type { return u.Type }

// Clone deep-copies a frame so it can be fanned out to several peer
// mailboxes independently, mirroring the teacher's msg.Clone in msg/msg.go
// (there needed because libzmq frames are consumed on send; here kept for
// the same reason a Handshake's Metadata map and a ModelsUpdate's Models
// slice must not be shared across concurrent per-stream writers).
func Clone(f Frame) Frame {
	switch v := f.(type) {
	case *Handshake:
		c := *v
		if v.Metadata != nil {
			c.Metadata = make(map[string]string, len(v.Metadata))
			for k, val := range v.Metadata {
				c.Metadata[k] = val
			}
		}
		return &c
	case *HandshakeAck:
		c := *v
		return &c
	case *ModeUpdate:
		c := *v
		return &c
	case *ModelsUpdate:
		c := *v
		c.Models = append([]ModelRef(nil), v.Models...)
		return &c
	case *ModelRequest:
		c := *v
		return &c
	case *Query:
		c := *v
		return &c
	case *Response:
		c := *v
		return &c
	case *PeerMessage:
		c := *v
		return &c
	default:
		return f
	}
}

// Package router implements the Router / Message Handler (spec.md §4.6):
// the central state machine dispatching each decoded frame by tag,
// enforcing the mode and role invariants, and driving the Peer Registry,
// Session Controller, Request Tracker, and Chat History. It generalizes
// the teacher's (zeromq-gyre) Node.recvFromPeer tag-switch in node.go —
// same shape, one case per message tag, peer lookup before dispatch — to
// the spec's JSON frame set and to a dispatcher that does not itself own
// the transport, so it can be exercised with a fake Sender in tests.
package router

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llmesh/llmesh/catalog"
	"github.com/llmesh/llmesh/chatlog"
	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/gossip"
	"github.com/llmesh/llmesh/inference"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/registry"
	"github.com/llmesh/llmesh/request"
	"github.com/llmesh/llmesh/session"
	"github.com/llmesh/llmesh/wire"
)

// Sender is everything the Router needs from the transport layer: send
// one frame to a specific peer, or to every open stream but one. Kept
// separate from transport.Transport/Conn so Router can be tested without
// a real substrate.
type Sender interface {
	SendTo(id peerid.PeerId, f wire.Frame) error
	Broadcast(f wire.Frame, except peerid.PeerId) error
	OpenPeers() []peerid.PeerId
}

// Router is the single-writer dispatcher. Like the teacher's Node, it
// assumes every method is called from the owning session's one
// serializing goroutine (spec.md §5) except where a suspension point
// (the inference HTTP call) is explicitly handed off to its own task.
type Router struct {
	Registry   *registry.Registry
	Controller *session.Controller
	Tracker    *request.Tracker
	Catalog    *catalog.Catalog
	History    *chatlog.History
	Proxy      *inference.Proxy // nil is fine on a joiner; host-only use
	Sender     Sender
	Rng        *rand.Rand
	Log        *logrus.Entry

	// Spawn launches the inference-proxy goroutine for one accepted or
	// locally-submitted query. The default is a bare `go fn()`; Mesh
	// overrides it to run under its supervising errgroup instead.
	Spawn func(fn func())
}

// New wires the components sharing the defaults the rest of the ambient
// stack uses (a time-seeded RNG, the standard logger).
func New(reg *registry.Registry, ctrl *session.Controller, tr *request.Tracker, cat *catalog.Catalog, hist *chatlog.History, proxy *inference.Proxy, sender Sender) *Router {
	return &Router{
		Registry:   reg,
		Controller: ctrl,
		Tracker:    tr,
		Catalog:    cat,
		History:    hist,
		Proxy:      proxy,
		Sender:     sender,
		Rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		Log:        logrus.NewEntry(logrus.StandardLogger()),
		Spawn:      func(fn func()) { go fn() },
	}
}

// HandleFrame dispatches one decoded frame received from "from". Unknown
// tags and unknown-frame-decode recoveries (wire.Unknown) are logged and
// ignored, per spec.md §4.6's "Unknown tags are logged and ignored" and
// testable property "an unknown type leaves all state unchanged".
func (r *Router) HandleFrame(ctx context.Context, from peerid.PeerId, f wire.Frame) error {
	framesHandled.WithLabelValues(string(f.FrameType())).Inc()
	switch v := f.(type) {
	case *wire.Handshake:
		return r.handleHandshake(from, v)
	case *wire.HandshakeAck:
		return r.handleHandshakeAck(from, v)
	case *wire.ModeUpdate:
		return r.handleModeUpdate(from, v)
	case *wire.ModelsUpdate:
		return r.handleModelsUpdate(v)
	case *wire.ModelRequest:
		return r.handleModelRequest(from)
	case *wire.Query:
		return r.handleQuery(ctx, from, v)
	case *wire.Response:
		return r.handleResponse(v)
	case *wire.PeerMessage:
		return r.handlePeerMessage(v)
	case *wire.Unknown:
		r.Log.WithField("tag", v.Type).Debug("router: unknown frame tag, dropping")
		return nil
	default:
		r.Log.Warn("router: unrecognized frame implementation, dropping")
		return errs.ErrUnknownMessageType
	}
}

func (r *Router) handleHandshake(from peerid.PeerId, h *wire.Handshake) error {
	clientId, _ := peerid.Parse(h.ClientId)
	r.Registry.Upsert(from, registry.Attrs{DisplayName: h.DisplayName, IsHost: h.IsHost, ClientId: clientId})

	mu := wire.NewModeUpdate()
	mu.IsCollaborativeMode = r.Controller.Mode() == session.ModeCollaborative
	mu.IsHost = r.Controller.Role() == session.RoleHost
	if err := r.Sender.SendTo(from, mu); err != nil {
		return err
	}

	if r.Controller.Role() == session.RoleHost {
		return r.sendModelsUpdate(from)
	}
	return nil
}

func (r *Router) handleHandshakeAck(from peerid.PeerId, ack *wire.HandshakeAck) error {
	if ack.ServerId == "" {
		return nil
	}
	r.Registry.Upsert(from, registry.Attrs{IsHost: true})
	return nil
}

func (r *Router) handleModeUpdate(from peerid.PeerId, mu *wire.ModeUpdate) error {
	mode := session.ModeCollaborative
	if !mu.IsCollaborativeMode {
		mode = session.ModePrivate
	}
	if err := r.Controller.AcceptModeUpdate(mu.IsHost, mode); err != nil {
		r.Log.WithError(err).WithField("peer", from).Debug("router: mode_update rejected")
		return nil
	}
	return nil
}

func (r *Router) handleModelsUpdate(mu *wire.ModelsUpdate) error {
	if r.Controller.Role() != session.RoleJoiner {
		return nil
	}
	models := make([]catalog.Model, 0, len(mu.Models))
	for _, m := range mu.Models {
		models = append(models, catalog.Model{Id: m.Name, DisplayName: m.Name})
	}
	r.Catalog.Replace(models, true)
	return nil
}

func (r *Router) handleModelRequest(from peerid.PeerId) error {
	if r.Controller.Role() != session.RoleHost {
		return nil
	}
	return r.sendModelsUpdate(from)
}

func (r *Router) sendModelsUpdate(to peerid.PeerId) error {
	mu := wire.NewModelsUpdate()
	for _, m := range r.Catalog.Models() {
		mu.Models = append(mu.Models, wire.ModelRef{Name: m.Id})
	}
	return r.Sender.SendTo(to, mu)
}

// handleQuery implements spec.md §4.6's query dispatch: host accepts and
// runs inference, joiner gossip-forwards.
func (r *Router) handleQuery(ctx context.Context, from peerid.PeerId, q *wire.Query) error {
	switch r.Controller.Role() {
	case session.RoleHost:
		return r.acceptQueryAsHost(ctx, q)
	case session.RoleJoiner:
		return r.forwardQueryAsJoiner(q)
	default:
		return nil
	}
}

func (r *Router) acceptQueryAsHost(ctx context.Context, q *wire.Query) error {
	origin, err := peerid.Parse(q.FromPeerId)
	if err != nil {
		r.Log.WithError(err).Warn("router: query with unparsable fromPeerId, dropping")
		return nil
	}

	req := &request.Request{Id: q.RequestId, OriginPeer: origin, Model: q.Model, Prompt: q.Prompt, State: request.StatePending}
	if err := r.Tracker.Register(req); err != nil {
		// Already being served; this is the duplicate-suppression floor.
		return nil
	}
	requestsActive.Inc()

	if r.Controller.Mode() == session.ModeCollaborative {
		name := origin.String()
		if p, ok := r.Registry.Get(origin); ok {
			name = p.DisplayName
		}
		r.History.AppendUser(q.Prompt, name)

		pm := wire.NewPeerMessage()
		pm.MessageType = wire.PeerMessageUser
		pm.Content = q.Prompt
		pm.FromPeer = name
		if err := r.Sender.Broadcast(pm, origin); err != nil {
			r.Log.WithError(err).WithField("requestId", q.RequestId).Debug("router: peer_message(user) broadcast failed")
		}
	}

	if r.Proxy == nil {
		return nil
	}
	collaborative := r.Controller.Mode() == session.ModeCollaborative
	r.Spawn(func() {
		sendResponse := func(to peerid.PeerId, f *wire.Response) error {
			f.FromPeerId = r.Controller.SelfId().String()
			return r.Sender.SendTo(to, f)
		}
		broadcast := func(f *wire.PeerMessage) error {
			return r.Sender.Broadcast(f, origin)
		}
		if err := r.Proxy.Run(ctx, r.Tracker, r.History, req, collaborative, sendResponse, broadcast); err != nil {
			r.Log.WithError(err).WithField("requestId", req.Id).Warn("router: inference run ended in error")
		}
	})
	return nil
}

func (r *Router) forwardQueryAsJoiner(q *wire.Query) error {
	if !gossip.ShouldForward(r.Tracker, q.RequestId) {
		gossipForwards.WithLabelValues("suppressed").Inc()
		return nil
	}
	open := r.Sender.OpenPeers()
	_, err := gossip.Forward(r.Rng, open, q, func(to peerid.PeerId, fwd *wire.Query) error {
		return r.Sender.SendTo(to, fwd)
	})
	if err != nil {
		gossipForwards.WithLabelValues("declined").Inc()
		r.Log.WithError(err).WithField("requestId", q.RequestId).Debug("router: gossip forward declined")
		return nil
	}
	gossipForwards.WithLabelValues("sent").Inc()
	return nil
}

// SubmitPrompt is the local-user-submission entry point (spec.md §2's
// data-flow: "UI -> Router (record user message, assign requestId)").
// On a host it runs inference directly; on a joiner it gossip-forwards
// to a random fan-out.
func (r *Router) SubmitPrompt(ctx context.Context, model, prompt string) (string, error) {
	id, err := request.NewId()
	if err != nil {
		return "", err
	}

	req := &request.Request{Id: id, OriginPeer: peerid.Zero, Model: model, Prompt: prompt, State: request.StatePending}
	if err := r.Tracker.Register(req); err != nil {
		return "", err
	}
	requestsActive.Inc()
	r.History.AppendUser(prompt, "")

	switch r.Controller.Role() {
	case session.RoleHost:
		if r.Proxy == nil {
			return id, nil
		}
		collaborative := r.Controller.Mode() == session.ModeCollaborative
		r.Spawn(func() {
			sendResponse := func(to peerid.PeerId, f *wire.Response) error {
				f.FromPeerId = r.Controller.SelfId().String()
				if to.IsZero() {
					// Our own prompt: nothing to send over the wire, the
					// History mutation inside Proxy.Run already reflects it.
					return nil
				}
				return r.Sender.SendTo(to, f)
			}
			broadcast := func(f *wire.PeerMessage) error {
				return r.Sender.Broadcast(f, peerid.Zero)
			}
			if err := r.Proxy.Run(ctx, r.Tracker, r.History, req, collaborative, sendResponse, broadcast); err != nil {
				r.Log.WithError(err).WithField("requestId", id).Warn("router: local inference run ended in error")
			}
		})
		return id, nil

	case session.RoleJoiner:
		q := wire.NewQuery()
		q.Model, q.Prompt, q.RequestId = model, prompt, id
		q.FromPeerId = r.Controller.SelfId().String()
		open := r.Sender.OpenPeers()
		if _, err := gossip.Forward(r.Rng, open, q, func(to peerid.PeerId, fwd *wire.Query) error {
			return r.Sender.SendTo(to, fwd)
		}); err != nil {
			r.Tracker.Remove(peerid.Zero, id)
			requestsActive.Dec()
			return "", err
		}
		return id, nil

	default:
		r.Tracker.Remove(peerid.Zero, id)
		requestsActive.Dec()
		return "", errs.ErrTransportUnavailable
	}
}

func (r *Router) handleResponse(resp *wire.Response) error {
	req, ok := r.Tracker.Lookup(peerid.Zero, resp.RequestId)
	if !ok {
		// Late or foreign chunk: logged and dropped, per spec.md §4.6/§7.
		r.Log.WithField("requestId", resp.RequestId).Debug("router: response for unknown/finalized request, dropping")
		return nil
	}

	if resp.Error != "" {
		req.State = request.StateErrored
		r.History.AppendSystem(resp.Error)
		r.Tracker.Remove(peerid.Zero, resp.RequestId)
		requestsActive.Dec()
		return nil
	}

	fragment := extractResponseData(resp)
	if fragment != "" {
		r.History.AppendOrUpdateAssistant(resp.RequestId, "", fragment, resp.IsComplete)
	}

	state := request.StateStreaming
	if resp.IsComplete {
		state = request.StateComplete
	}
	r.Tracker.Touch(peerid.Zero, resp.RequestId, []byte(fragment), state)

	if resp.IsComplete {
		r.History.AppendOrUpdateAssistant(resp.RequestId, "", "", true)
		r.Tracker.Remove(peerid.Zero, resp.RequestId)
		requestsActive.Dec()
	}
	return nil
}

func (r *Router) handlePeerMessage(pm *wire.PeerMessage) error {
	if r.Controller.Mode() != session.ModeCollaborative {
		return nil
	}
	switch pm.MessageType {
	case wire.PeerMessageUser:
		r.History.AppendUser(pm.Content, pm.FromPeer)
	case wire.PeerMessageAssistant:
		r.History.AppendOrUpdateAssistant(pm.RequestId, pm.FromPeer, pm.Content, pm.IsComplete)
	}
	return nil
}

// ObserveReap adjusts the active-request gauge after the owning Mesh's
// idle reaper removes n timed-out requests directly from Tracker.
func (r *Router) ObserveReap(n int) {
	requestsActive.Sub(float64(n))
}

// extractResponseData implements spec.md §4.6's response parsing: raw
// text, or (isJson=true) newline-delimited JSON objects whose .response
// fields are concatenated.
func extractResponseData(resp *wire.Response) string {
	if !resp.IsJson {
		return resp.Data
	}
	return inference.ExtractNDJSONText(resp.Data)
}

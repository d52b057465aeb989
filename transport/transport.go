// Package transport wraps the rendezvous/stream substrate (spec.md §4.1).
// It generalizes the teacher's (zeromq-gyre) ROUTER/DEALER + UDP-beacon
// pair into the spec's join(topic)/leave(topic)/on-connection/write/
// on-data/on-close/destroy shape, keyed by a 32-byte topic instead of the
// teacher's per-node UUID beacon payload.
package transport

import (
	"context"
	"io"

	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/topic"
)

// Conn is one authenticated, encrypted, reliable connection to a remote
// participant. Bytes within a single Conn are delivered in order and
// without duplication; no retries happen at this layer — a closed Conn
// is terminal (spec.md §4.1).
//
// Write is expected to be called once per self-delimited frame (the
// Frame Codec already appends the trailing newline), and Read returns
// whatever bytes the substrate has available next; both the in-memory
// pipe transport and the ZMQ transport satisfy this with a whole frame
// per underlying message, so newline-delimited frame readers such as
// wire.Reader work unmodified over either.
type Conn interface {
	io.ReadWriteCloser
	RemoteId() peerid.PeerId
}

// Transport is the adapter Router and the rest of the mesh depend on.
type Transport interface {
	// Join begins advertising and accepting connections for t. It fails
	// with errs.ErrTransportUnavailable if the substrate refuses.
	Join(ctx context.Context, t topic.Topic) error

	// Leave stops advertising for t; existing connections persist until
	// Close'd.
	Leave(t topic.Topic) error

	// Connections yields every newly established connection, both
	// accepted and dialed, as the substrate discovers peers on a joined
	// topic. This is the "on-connection(stream, remote-id)" callback
	// from spec.md §4.1, delivered as a channel instead of a callback.
	Connections() <-chan Conn

	// LocalId returns this endpoint's long-lived 32-byte identity.
	LocalId() peerid.PeerId

	// Close tears down every connection and stops all discovery
	// activity. Best-effort, per spec.md §4.1's destroy semantics.
	Close() error
}

// errNotJoined is returned internally when an operation is attempted
// against a topic the transport was never asked to Join.
var errNotJoined = errs.ErrTransportUnavailable

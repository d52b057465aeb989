// Package errs collects the sentinel error kinds enumerated in the error
// handling design: each is local to a stream or a request and none of them
// tear down the session.
package errs

import "errors"

var (
	// ErrInvalidTopic is returned when a topic fails the 64-lowercase-hex
	// validation regex. Join is aborted before any transport activity.
	ErrInvalidTopic = errors.New("llmesh: invalid topic")

	// ErrTransportUnavailable is returned when the underlying substrate
	// refuses to advertise or accept connections for a topic.
	ErrTransportUnavailable = errors.New("llmesh: transport unavailable")

	// ErrFrameDecode marks a frame that failed to parse. The stream that
	// produced it is never torn down because of this.
	ErrFrameDecode = errors.New("llmesh: frame decode error")

	// ErrUnknownMessageType marks a frame whose tag has no local handler.
	ErrUnknownMessageType = errors.New("llmesh: unknown message type")

	// ErrInferenceHTTP covers a non-2xx status, a network failure, or the
	// inference endpoint simply being absent.
	ErrInferenceHTTP = errors.New("llmesh: inference endpoint error")

	// ErrUpstreamInterrupted marks a streaming response body that closed
	// before a terminal record was observed.
	ErrUpstreamInterrupted = errors.New("llmesh: upstream stream interrupted")

	// ErrRequestIdleTimeout marks a request garbage-collected by the
	// tracker after its idle window elapsed with no chunk received.
	ErrRequestIdleTimeout = errors.New("llmesh: request idle timeout")

	// ErrModeUpdateFromNonHost marks a mode_update whose sender did not
	// carry isHost=true. Logged and ignored.
	ErrModeUpdateFromNonHost = errors.New("llmesh: mode_update from non-host peer")

	// ErrNotHost is returned by host-only operations invoked while the
	// local session role is not host.
	ErrNotHost = errors.New("llmesh: operation requires host role")

	// ErrPeerUnknown is returned when an operation names a PeerId the
	// registry has no entry for.
	ErrPeerUnknown = errors.New("llmesh: unknown peer")

	// ErrRequestUnknown is returned when a response or chunk names a
	// RequestId the tracker has no entry for (a late or foreign chunk).
	ErrRequestUnknown = errors.New("llmesh: unknown or finalized request")

	// ErrDuplicateRequest is returned by the tracker when a Register call
	// names a (originPeer, RequestId) pair that already has an entry.
	ErrDuplicateRequest = errors.New("llmesh: duplicate request")

	// ErrPeerDisconnected marks a request abandoned because its origin
	// peer's stream closed before the request completed.
	ErrPeerDisconnected = errors.New("llmesh: origin peer disconnected")
)

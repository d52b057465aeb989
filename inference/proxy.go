// Package inference implements the Inference Proxy (spec.md §4.8): the
// host-only pipeline that streams a query to the local inference endpoint
// and fans the resulting text out to the origin peer and, in
// collaborative mode, to every other open stream. It generalizes the
// teacher's (zeromq-gyre) pattern of one goroutine per suspension-point
// operation — here the suspension point is an HTTP streaming body
// instead of a ZMQ socket. Frames leave through the SendResponse and
// Broadcast callbacks; the chat history and the request tracker are
// written directly, relying on their own mutexes.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/llmesh/llmesh/chatlog"
	"github.com/llmesh/llmesh/errs"
	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/request"
	"github.com/llmesh/llmesh/wire"
)

// generateRequest is the POST /api/generate body (spec.md §6).
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateChunk is one newline-delimited JSON record from the streaming
// response body.
type generateChunk struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
}

// SendResponse delivers a response frame to the request's origin peer.
// origin.IsZero() means the origin is this (host) process itself.
type SendResponse func(origin peerid.PeerId, frame *wire.Response) error

// Broadcast delivers a peer_message frame to every other open stream,
// used only when the session is in collaborative mode.
type Broadcast func(frame *wire.PeerMessage) error

// Proxy runs the POST /api/generate pipeline against one local endpoint.
type Proxy struct {
	Client  *http.Client
	BaseURL string
}

// New creates a Proxy with the given *http.Client (nil uses
// http.DefaultClient) and base URL of the local inference endpoint, e.g.
// "http://localhost:11434".
func New(client *http.Client, baseURL string) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Proxy{Client: client, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Run drives req from pending through to completion, emitting response
// frames to the origin and, if collaborative is true, peer_message
// frames to everyone else. It always removes req from tracker before
// returning, per spec.md §4.8's "Remove the request from the tracker."
//
// The accumulated text is also appended to history so the host's own
// chat log reflects the exchange; the assistant entry is keyed by req.Id
// and carries no FromPeer.
func (p *Proxy) Run(ctx context.Context, tracker *request.Tracker, history *chatlog.History, req *request.Request, collaborative bool, sendResponse SendResponse, broadcast Broadcast) error {
	defer tracker.Remove(req.OriginPeer, req.Id)

	body, err := json.Marshal(generateRequest{Model: req.Model, Prompt: req.Prompt, Stream: true})
	if err != nil {
		return p.fail(req, sendResponse, fmt.Errorf("inference: encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return p.fail(req, sendResponse, fmt.Errorf("%w: %v", errs.ErrInferenceHTTP, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return p.fail(req, sendResponse, fmt.Errorf("%w: %v", errs.ErrInferenceHTTP, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return p.fail(req, sendResponse, fmt.Errorf("%w: status %d", errs.ErrInferenceHTTP, resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	firstChunk := true
	lastChunkAt := time.Now()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		now := time.Now()
		chunkLatency.Observe(now.Sub(lastChunkAt).Seconds())
		lastChunkAt = now

		chunk, done := extractChunk(line)
		if chunk.Response != "" {
			req.Accumulator = append(req.Accumulator, chunk.Response...)
			history.AppendOrUpdateAssistant(req.Id, "", chunk.Response, false)

			if collaborative && broadcast != nil {
				pm := wire.NewPeerMessage()
				pm.MessageType = wire.PeerMessageAssistant
				pm.RequestId = req.Id
				pm.Content = chunk.Response
				pm.IsNewMessage = firstChunk
				pm.IsComplete = false
				if err := broadcast(pm); err != nil {
					return p.fail(req, sendResponse, fmt.Errorf("%w: %v", errs.ErrUpstreamInterrupted, err))
				}
			}

			out := wire.NewResponse()
			out.RequestId = req.Id
			out.Data = chunk.Response
			out.IsComplete = false
			out.IsPrivate = !collaborative
			if err := sendResponse(req.OriginPeer, out); err != nil {
				return p.fail(req, sendResponse, fmt.Errorf("%w: %v", errs.ErrUpstreamInterrupted, err))
			}
			firstChunk = false
		}

		if done {
			runsTotal.WithLabelValues("complete").Inc()
			return p.finish(req, tracker, history, sendResponse, broadcast, collaborative)
		}
	}
	if err := scanner.Err(); err != nil {
		return p.fail(req, sendResponse, fmt.Errorf("%w: %v", errs.ErrUpstreamInterrupted, err))
	}

	// Stream closed without a terminal .done record: treat as the
	// interrupted-upstream error kind, per spec.md §7.
	return p.fail(req, sendResponse, errs.ErrUpstreamInterrupted)
}

func (p *Proxy) finish(req *request.Request, tracker *request.Tracker, history *chatlog.History, sendResponse SendResponse, broadcast Broadcast, collaborative bool) error {
	req.State = request.StateComplete
	history.AppendOrUpdateAssistant(req.Id, "", "", true)

	out := wire.NewResponse()
	out.RequestId = req.Id
	out.IsComplete = true
	out.IsPrivate = !collaborative
	if err := sendResponse(req.OriginPeer, out); err != nil {
		return err
	}

	if collaborative && broadcast != nil {
		pm := wire.NewPeerMessage()
		pm.MessageType = wire.PeerMessageAssistant
		pm.RequestId = req.Id
		pm.IsComplete = true
		if err := broadcast(pm); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) fail(req *request.Request, sendResponse SendResponse, cause error) error {
	runsTotal.WithLabelValues("errored").Inc()
	req.State = request.StateErrored
	out := wire.NewResponse()
	out.RequestId = req.Id
	out.IsComplete = true
	out.Error = cause.Error()
	_ = sendResponse(req.OriginPeer, out)
	return cause
}

// extractChunk parses one line of the streaming body. A line that fails
// to parse as JSON is passed through a best-effort text extractor that
// yields the raw line as-is, per spec.md §4.8 step 2.
func extractChunk(line []byte) (generateChunk, bool) {
	var c generateChunk
	if err := json.Unmarshal(line, &c); err != nil {
		return generateChunk{Response: extractText(line)}, false
	}
	return c, c.Done
}

// extractText is the best-effort fallback for a chunk that isn't valid
// JSON: the raw bytes, trimmed, are treated as the response fragment
// verbatim.
func extractText(line []byte) string {
	return strings.TrimSpace(string(line))
}

// ExtractNDJSONText implements the Router's response-parsing rule
// (spec.md §4.6): when a response frame carries isJson=true, its data
// field is itself newline-delimited JSON records, each with an optional
// .response field; this concatenates every such field in order. Lines
// that fail to parse fall back to their raw trimmed text, the same
// best-effort convention as the streaming proxy itself.
func ExtractNDJSONText(raw string) string {
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, _ := extractChunk(line)
		out.WriteString(chunk.Response)
	}
	return out.String()
}

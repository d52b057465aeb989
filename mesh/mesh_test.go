package mesh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/session"
	"github.com/llmesh/llmesh/transport/memtransport"
)

// TestHostAndJoinerExchangePromptEndToEnd is this repo's analog of the
// teacher's node_test.go TestNode: two real Mesh values connected over an
// in-memory transport, exercising the handshake, a joiner's gossip-
// forwarded prompt, and the host's streamed reply landing back in the
// joiner's chat history (spec.md §2's data-flow and §8 scenario 2).
func TestHostAndJoinerExchangePromptEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"hello","done":false}` + "\n"))
		w.Write([]byte(`{"response":"","done":true}` + "\n"))
	}))
	defer srv.Close()

	broker := memtransport.NewBroker()
	hostId, err := peerid.Generate()
	require.NoError(t, err)
	joinerId, err := peerid.Generate()
	require.NoError(t, err)

	hostTP := memtransport.New(broker, hostId)
	joinerTP := memtransport.New(broker, joinerId)

	ctx := context.Background()
	hostMesh, err := NewHost(ctx, hostTP,
		WithInferenceBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithDisplayName("Host"),
	)
	require.NoError(t, err)
	defer hostMesh.Close()

	tp, ok := hostMesh.Topic()
	require.True(t, ok)

	joinerMesh, err := NewJoiner(ctx, joinerTP, tp.String(), WithDisplayName("Joiner"))
	require.NoError(t, err)
	defer joinerMesh.Close()

	require.Eventually(t, func() bool {
		return len(joinerMesh.Peers()) == 1 && len(hostMesh.Peers()) == 1
	}, time.Second, 5*time.Millisecond, "handshake never completed")

	require.Equal(t, session.ModeCollaborative, joinerMesh.Mode())

	reqId, err := joinerMesh.SubmitPrompt(ctx, "llama3", "hi there")
	require.NoError(t, err)
	require.NotEmpty(t, reqId)

	require.Eventually(t, func() bool {
		for _, e := range joinerMesh.History() {
			if e.RequestId == reqId && e.Complete && e.RawContent == "hello" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "joiner never observed the completed assistant reply")
}

// TestSetModePropagatesToJoiner exercises spec.md §8's mode-toggle
// propagation scenario: the host's SetMode broadcasts mode_update, and
// the joiner's observed mode follows it exactly.
func TestSetModePropagatesToJoiner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"","done":true}` + "\n"))
	}))
	defer srv.Close()

	broker := memtransport.NewBroker()
	hostId, _ := peerid.Generate()
	joinerId, _ := peerid.Generate()
	hostTP := memtransport.New(broker, hostId)
	joinerTP := memtransport.New(broker, joinerId)

	ctx := context.Background()
	hostMesh, err := NewHost(ctx, hostTP, WithInferenceBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer hostMesh.Close()

	tp, _ := hostMesh.Topic()
	joinerMesh, err := NewJoiner(ctx, joinerTP, tp.String())
	require.NoError(t, err)
	defer joinerMesh.Close()

	require.Eventually(t, func() bool {
		return len(joinerMesh.Peers()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hostMesh.SetMode(session.ModePrivate))

	require.Eventually(t, func() bool {
		return joinerMesh.Mode() == session.ModePrivate
	}, time.Second, 5*time.Millisecond, "joiner never observed the host's mode_update")
}

package gossip

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/request"
	"github.com/llmesh/llmesh/wire"
)

// TestFanOutSevenPeers is scenario 6 from spec.md §8: with n=7 connected
// peers the forwarder sends to exactly ceil(log2(8)) = 3 peers.
func TestFanOutSevenPeers(t *testing.T) {
	require.Equal(t, 3, FanOut(7))
}

func TestFanOutIsAtLeastOne(t *testing.T) {
	require.Equal(t, 1, FanOut(0))
	require.Equal(t, 1, FanOut(1))
}

func TestFanOutNeverExceedsPeerCount(t *testing.T) {
	require.Equal(t, 2, FanOut(2))
}

func TestSampleChoosesDistinctPeers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	peers := make([]peerid.PeerId, 7)
	for i := range peers {
		peers[i][0] = byte(i + 1)
	}

	chosen := Sample(rng, peers, FanOut(len(peers)))
	require.Len(t, chosen, 3)

	seen := map[peerid.PeerId]bool{}
	for _, p := range chosen {
		require.False(t, seen[p], "peer chosen twice")
		seen[p] = true
	}
}

func TestForwardPreservesOriginalFromPeerId(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	peers := []peerid.PeerId{{1}, {2}, {3}}
	q := &wire.Query{Type: wire.TypeQuery, RequestId: "r1", FromPeerId: "original-submitter"}

	var sentTo []peerid.PeerId
	send := func(to peerid.PeerId, fwd *wire.Query) error {
		sentTo = append(sentTo, to)
		require.Equal(t, "original-submitter", fwd.FromPeerId)
		require.Equal(t, 1, fwd.HopCount)
		return nil
	}

	chosen, err := Forward(rng, peers, q, send)
	require.NoError(t, err)
	require.Equal(t, chosen, sentTo)
}

func TestForwardRefusesPastMaxHops(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	q := &wire.Query{RequestId: "r1", HopCount: MaxHops}
	_, err := Forward(rng, []peerid.PeerId{{1}}, q, func(peerid.PeerId, *wire.Query) error { return nil })
	require.ErrorIs(t, err, ErrMaxHopsExceeded)
}

func TestShouldForwardRespectsTrackerMembership(t *testing.T) {
	tr := request.New(time.Minute)
	require.True(t, ShouldForward(tr, "r1"))

	require.NoError(t, tr.Register(&request.Request{Id: "r1", OriginPeer: peerid.Zero}))
	require.False(t, ShouldForward(tr, "r1"))
}

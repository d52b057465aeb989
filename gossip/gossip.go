// Package gossip implements the Gossip Forwarder (spec.md §4.9): on a
// joiner, a query that cannot be served locally is forwarded to a random
// subset of peers of size k = max(1, ceil(log2(n+1))) for n peers.
//
// spec.md §9 flags a bug in the teacher-analog source: the forwarded
// query's fromPeerId is set to the outbound hop's remote key instead of
// the original submitter's PeerId, which breaks reply routing through
// gossip. This package carries the original submitter's PeerId unchanged
// through every hop, and adds the hop counter and RequestId memoization
// the spec recommends as defense in depth against fan-out loops.
package gossip

import (
	"errors"
	"math"
	"math/rand"

	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/request"
	"github.com/llmesh/llmesh/wire"
)

// MaxHops bounds how many times a query may be re-forwarded before a
// node refuses to propagate it further, the spec's recommended
// complement to RequestId memoization (spec.md §9).
const MaxHops = 4

var ErrMaxHopsExceeded = errors.New("gossip: query exceeded max hop count")

// FanOut computes k = max(1, min(n, ceil(log2(n+1)))) for n connected
// peers, per spec.md §4.9 and the Fan-out glossary entry.
func FanOut(n int) int {
	if n <= 0 {
		return 1
	}
	k := int(math.Ceil(math.Log2(float64(n + 1))))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Sample draws k distinct peers uniformly at random without replacement
// from peers, using rng (inject a seeded *rand.Rand for deterministic
// tests per spec.md §8's "seed the RNG" scenario).
func Sample(rng *rand.Rand, peers []peerid.PeerId, k int) []peerid.PeerId {
	if k >= len(peers) {
		out := make([]peerid.PeerId, len(peers))
		copy(out, peers)
		return out
	}
	shuffled := make([]peerid.PeerId, len(peers))
	copy(shuffled, peers)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:k]
}

// ShouldForward is the receiver-side duplicate-suppression rule from
// spec.md §4.9: a query whose RequestId is already tracked (under any
// origin) must not be re-enqueued, which is what prevents fan-out loops
// together with the hop counter.
func ShouldForward(tracker *request.Tracker, requestId string) bool {
	return !tracker.HasAnyOrigin(requestId)
}

// SendFunc delivers a forwarded query to one peer.
type SendFunc func(to peerid.PeerId, q *wire.Query) error

// Forward selects FanOut(len(peers)) peers and sends each a clone of
// original with HopCount incremented and FromPeerId left untouched
// (the original submitter's PeerId, never the forwarding hop's own id).
// It returns the set of peers chosen for the query; a peer whose send
// failed is skipped but still listed.
func Forward(rng *rand.Rand, peers []peerid.PeerId, original *wire.Query, send SendFunc) ([]peerid.PeerId, error) {
	if original.HopCount >= MaxHops {
		return nil, ErrMaxHopsExceeded
	}
	if len(peers) == 0 {
		return nil, nil
	}

	k := FanOut(len(peers))
	chosen := Sample(rng, peers, k)

	for _, to := range chosen {
		fwd := wire.Clone(original).(*wire.Query)
		fwd.HopCount = original.HopCount + 1
		// fromPeerId is deliberately left as original.FromPeerId: it must
		// stay the original submitter so the host can reply to the
		// origin through the gossip path (spec.md §9 REDESIGN FLAG).
		if err := send(to, fwd); err != nil {
			continue
		}
	}
	return chosen, nil
}

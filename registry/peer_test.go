package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmesh/llmesh/peerid"
)

func newId(t *testing.T, b byte) peerid.PeerId {
	t.Helper()
	var id peerid.PeerId
	id[0] = b
	return id
}

func TestUpsertAssignsMonotonicPeerNumbersAndRotatingSlots(t *testing.T) {
	r := New()
	p1 := r.Upsert(newId(t, 1), Attrs{DisplayName: "Ada"})
	p2 := r.Upsert(newId(t, 2), Attrs{DisplayName: "Grace"})

	require.Equal(t, 1, p1.PeerNumber)
	require.Equal(t, 2, p2.PeerNumber)
	require.Equal(t, 1, p1.ColorSlot)
	require.Equal(t, 2, p2.ColorSlot)
}

func TestUpsertReclaimsLowestFreePeerNumberAfterRemoval(t *testing.T) {
	r := New()
	id1, id2, id3 := newId(t, 1), newId(t, 2), newId(t, 3)
	r.Upsert(id1, Attrs{})
	r.Upsert(id2, Attrs{})
	r.Remove(id1)

	p3 := r.Upsert(id3, Attrs{})
	require.Equal(t, 1, p3.PeerNumber)
}

func TestUpsertReplacesReservedYouName(t *testing.T) {
	r := New()
	id := newId(t, 1)
	p := r.Upsert(id, Attrs{DisplayName: "You"})
	require.Equal(t, "Peer1", p.DisplayName)
}

func TestDisplayNameStableAcrossReconnect(t *testing.T) {
	r := New()
	id := newId(t, 1)
	r.Upsert(id, Attrs{DisplayName: "Ada"})
	r.Remove(id)

	p := r.Upsert(id, Attrs{})
	require.Equal(t, "Ada", p.DisplayName)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	id := newId(t, 1)
	r.Remove(id)
	r.Remove(id)
	require.Equal(t, 0, r.Count())
}

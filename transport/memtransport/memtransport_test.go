package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmesh/llmesh/peerid"
	"github.com/llmesh/llmesh/topic"
)

func TestJoinConnectsExistingMembers(t *testing.T) {
	broker := NewBroker()
	var idA, idB peerid.PeerId
	idA[0], idB[0] = 1, 2

	a := New(broker, idA)
	b := New(broker, idB)

	tp, err := topic.New()
	require.NoError(t, err)

	require.NoError(t, a.Join(context.Background(), tp))
	require.NoError(t, b.Join(context.Background(), tp))

	var connA, connB interface{ RemoteId() peerid.PeerId }
	select {
	case c := <-a.Connections():
		connA = c
	case <-time.After(time.Second):
		t.Fatal("a never saw a connection")
	}
	select {
	case c := <-b.Connections():
		connB = c
	case <-time.After(time.Second):
		t.Fatal("b never saw a connection")
	}

	require.Equal(t, idB, connA.RemoteId())
	require.Equal(t, idA, connB.RemoteId())
}

func TestPipeConnCarriesBytesInOrder(t *testing.T) {
	broker := NewBroker()
	var idA, idB peerid.PeerId
	idA[0], idB[0] = 1, 2
	a := New(broker, idA)
	b := New(broker, idB)
	tp, _ := topic.New()
	require.NoError(t, a.Join(context.Background(), tp))
	require.NoError(t, b.Join(context.Background(), tp))

	connA := <-a.Connections()
	connB := <-b.Connections()

	go connA.Write([]byte("hello\n"))
	buf := make([]byte, 6)
	n, err := connB.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(buf[:n]))
}

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmesh/llmesh/peerid"
)

func TestInitializeHostGeneratesTopicAndSetsRole(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	tp, err := c.InitializeHost()
	require.NoError(t, err)
	require.Equal(t, RoleHost, c.Role())
	got, ok := c.Topic()
	require.True(t, ok)
	require.Equal(t, tp, got)
}

func TestJoinRejectsInvalidTopic(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	_, err := c.Join("not-hex", ModeCollaborative)
	require.Error(t, err)
	require.Equal(t, RoleIdle, c.Role())
}

func TestJoinAcceptsValidTopic(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	hex := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	_, err := c.Join(hex, ModePrivate)
	require.NoError(t, err)
	require.Equal(t, RoleJoiner, c.Role())
	require.Equal(t, ModePrivate, c.Mode())
}

func TestAcceptModeUpdateOverwritesTentativeMode(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	hex := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	_, _ = c.Join(hex, ModePrivate)

	err := c.AcceptModeUpdate(true, ModeCollaborative)
	require.NoError(t, err)
	require.Equal(t, ModeCollaborative, c.Mode())
}

func TestAcceptModeUpdateIgnoredFromNonHost(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	hex := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	_, _ = c.Join(hex, ModePrivate)

	err := c.AcceptModeUpdate(false, ModeCollaborative)
	require.Error(t, err)
	require.Equal(t, ModePrivate, c.Mode())
}

func TestSetModeRequiresHostRole(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	err := c.SetMode(ModePrivate)
	require.Error(t, err)
}

func TestSetModeTogglesAsHost(t *testing.T) {
	c := New(peerid.PeerId{}, ModeCollaborative)
	_, _ = c.InitializeHost()

	require.NoError(t, c.SetMode(ModePrivate))
	require.Equal(t, ModePrivate, c.Mode())
}

package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRoundTrip is the direct descendant of the teacher's TestHello in
// msg/hello_test.go: build a frame, send it down a pipe, read it back,
// assert the fields survived. Here the pipe is a bytes.Buffer instead of
// an inproc zmq socket pair, and the wire format is JSON instead of TLV.
func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		&Handshake{Type: TypeHandshake, ClientId: "ab12", DisplayName: "Ada", Timestamp: 42, IsHost: true},
		&HandshakeAck{Type: TypeHandshakeAck, ServerId: "cd34", Timestamp: 7},
		&ModeUpdate{Type: TypeModeUpdate, IsCollaborativeMode: true, IsHost: true},
		&ModelsUpdate{Type: TypeModelsUpdate, Models: []ModelRef{{Name: "m1", Id: "m1"}}},
		&ModelRequest{Type: TypeModelRequest, Timestamp: 1},
		&Query{Type: TypeQuery, Model: "m1", Prompt: "hello", RequestId: "deadbeef", FromPeerId: "ab12"},
		&Response{Type: TypeResponse, RequestId: "deadbeef", Data: "hi", IsComplete: false},
		&PeerMessage{Type: TypePeerMessage, MessageType: PeerMessageUser, RequestId: "deadbeef", Content: "hi", FromPeer: "Ada"},
	}

	var buf bytes.Buffer
	for _, f := range cases {
		require.NoError(t, Encode(&buf, f))
	}

	r := NewReader(&buf)
	for _, want := range cases {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeMalformedIsDroppedNotFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("not json at all\n")
	buf.WriteString(`{"type":"query","model":"m1","prompt":"p","requestId":"r1","fromPeerId":"f1"}` + "\n")

	var dropped int
	r := NewReader(&buf)
	r.OnDrop = func(err error, line []byte) { dropped++ }

	f, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	q, ok := f.(*Query)
	require.True(t, ok)
	require.Equal(t, "m1", q.Model)
}

func TestOversizedFrameIsDroppedNotFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"query","model":"m1","prompt":"`)
	buf.WriteString(strings.Repeat("x", MaxFrameBytes))
	buf.WriteString(`","requestId":"r1","fromPeerId":"f1"}` + "\n")
	buf.WriteString(`{"type":"query","model":"m1","prompt":"p","requestId":"r2","fromPeerId":"f1"}` + "\n")

	var dropped int
	r := NewReader(&buf)
	r.OnDrop = func(err error, line []byte) { dropped++ }

	f, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	q, ok := f.(*Query)
	require.True(t, ok)
	require.Equal(t, "r2", q.RequestId)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	f, err := Decode([]byte(`{"type":"future_tag","foo":"bar"}`))
	require.NoError(t, err)
	unk, ok := f.(*Unknown)
	require.True(t, ok)
	require.Equal(t, Type("future_tag"), unk.Type)
}

func TestDecodeEmptyTypeIsFrameDecodeError(t *testing.T) {
	_, err := Decode([]byte(`{"foo":"bar"}`))
	require.Error(t, err)
}

func TestCloneHandshakeIsIndependent(t *testing.T) {
	orig := &Handshake{Type: TypeHandshake, Metadata: map[string]string{"a": "1"}}
	cloned := Clone(orig).(*Handshake)
	cloned.Metadata["a"] = "2"
	require.Equal(t, "1", orig.Metadata["a"])
}

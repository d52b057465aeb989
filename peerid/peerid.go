// Package peerid implements PeerId: the 32-byte transport-level public key
// that identifies a remote participant, rendered as hex for equality,
// logging, and map keys.
package peerid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Size is the raw length of a PeerId in bytes (a Curve25519 public key).
const Size = 32

// PeerId identifies a remote participant by its long-lived transport
// identity.
type PeerId [Size]byte

// Zero is the PeerId used to mean "no remote", e.g. for locally originated
// requests where spec.md §3 calls for originPeer = "self".
var Zero PeerId

// Generate produces a fresh random PeerId. In the real transport this is
// superseded by the CURVE keypair's actual public key (see
// transport/zmqtransport); Generate exists for tests and for the
// memtransport fake.
func Generate() (PeerId, error) {
	var id PeerId
	if _, err := rand.Read(id[:]); err != nil {
		return PeerId{}, err
	}
	return id, nil
}

// String renders the PeerId as lowercase hex, its stable map-key and
// logging form.
func (id PeerId) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id PeerId) IsZero() bool {
	return id == Zero
}

// Parse decodes a hex-rendered PeerId, such as one carried in a
// `clientId`/`fromPeerId`/`serverId` wire field.
func Parse(s string) (PeerId, error) {
	var id PeerId
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerId{}, err
	}
	if len(b) != Size {
		return PeerId{}, fmt.Errorf("peerid: wrong length: got %d bytes, want %d", len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

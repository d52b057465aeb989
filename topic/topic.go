// Package topic implements the 32-byte rendezvous topic identifier: its
// generation, hex rendering, and user-input validation.
package topic

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"

	"github.com/llmesh/llmesh/errs"
)

// Size is the raw length of a Topic in bytes.
const Size = 32

// hexPattern matches spec.md §6: 64 lowercase hex characters.
var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Topic is a 32-byte shared rendezvous identifier.
type Topic [Size]byte

// New generates a fresh topic using a cryptographic RNG, per spec.md §6:
// "generated with a cryptographic RNG on create".
func New() (Topic, error) {
	var t Topic
	if _, err := rand.Read(t[:]); err != nil {
		return Topic{}, err
	}
	return t, nil
}

// String renders the topic as 64 lowercase hex characters.
func (t Topic) String() string {
	return hex.EncodeToString(t[:])
}

// Parse validates and decodes a user-supplied topic string. It rejects
// anything that does not match ^[0-9a-f]{64}$.
func Parse(s string) (Topic, error) {
	if !hexPattern.MatchString(s) {
		return Topic{}, errs.ErrInvalidTopic
	}
	var t Topic
	if _, err := hex.Decode(t[:], []byte(s)); err != nil {
		return Topic{}, errs.ErrInvalidTopic
	}
	return t, nil
}

// Valid reports whether s would be accepted by Parse, without allocating
// a Topic. Used by callers that only need the validation predicate from
// spec.md §8's "Topic validation" testable property.
func Valid(s string) bool {
	return hexPattern.MatchString(s)
}

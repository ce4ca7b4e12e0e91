// Package peerid generates the local peer identity sent in every handshake
// for a torrent's lifetime.
package peerid

import (
	"crypto/rand"
	"fmt"
)

// Prefix is the fixed 8-byte client identifier carried in every peer id.
const Prefix = "-RS0001-"

const Length = 20

// Generate returns a fresh 20-byte peer identity: Prefix followed by 12
// cryptographically random bytes. Unlike an ASCII-folded GeneratePeerID, which
// folds the random tail into a printable character subset, this keeps the
// tail as raw random bytes straight off crypto/rand.
func Generate() ([Length]byte, error) {
	var id [Length]byte
	copy(id[:len(Prefix)], Prefix)

	if _, err := rand.Read(id[len(Prefix):]); err != nil {
		return id, fmt.Errorf("peerid: generating random tail: %w", err)
	}
	return id, nil
}

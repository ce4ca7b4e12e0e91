// Package piece implements the piece registry: per-piece metadata, peer
// availability, the completion set, hash verification, and rarest-first
// selection with a per-worker blacklist.
//
// Descriptor deliberately carries no priority field: ordering is purely
// rarest-first-by-index, with no per-piece priority override.
package piece

// Descriptor is one piece's immutable metadata.
type Descriptor struct {
	Index  int
	Hash   [20]byte
	Length int64
}

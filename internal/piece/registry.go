package piece

import (
	"crypto/sha1"
	"sort"
	"sync"

	"github.com/lvbealr/gotorrent/internal/errs"
)

// Registry holds the ordered piece descriptors, each peer slot's advertised
// availability, and the completed set. It is shared across every worker
// goroutine and the coordinator behind a single exclusive lock; per the
// concurrency model, network I/O must never happen while the lock is held.
type Registry struct {
	mu         sync.Mutex
	pieces     []Descriptor
	byPeer     map[int]map[int]struct{} // slot -> set of piece indices advertised
	completed  map[int]struct{}
	numPieces  int
}

// New builds a registry from a piece-length L, ordered hashes H, and total
// resource length N. Piece lengths are L for every piece but the last,
// which is N - (P-1)*L, clamped to (0, L].
func New(pieceLength int64, hashes [][20]byte, totalLength int64) *Registry {
	n := len(hashes)
	pieces := make([]Descriptor, n)

	for i, h := range hashes {
		length := pieceLength
		if i == n-1 {
			remainder := totalLength - int64(n-1)*pieceLength
			if remainder > 0 && remainder <= pieceLength {
				length = remainder
			}
		}
		pieces[i] = Descriptor{Index: i, Hash: h, Length: length}
	}

	return &Registry{
		pieces:    pieces,
		byPeer:    make(map[int]map[int]struct{}),
		completed: make(map[int]struct{}),
		numPieces: n,
	}
}

// NumPieces returns P.
func (r *Registry) NumPieces() int {
	return r.numPieces
}

// GetPiece returns the descriptor for index i.
func (r *Registry) GetPiece(i int) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= r.numPieces {
		return Descriptor{}, errs.New(errs.Piece, "get_piece", errPieceOutOfRange(i))
	}
	return r.pieces[i], nil
}

// RegisterPeer adds an empty availability entry for slot, if not present.
func (r *Registry) RegisterPeer(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPeer[slot]; !ok {
		r.byPeer[slot] = make(map[int]struct{})
	}
}

// RemovePeer discards slot's availability entry. Idempotent.
func (r *Registry) RemovePeer(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byPeer, slot)
}

// AddPeerPiece records that slot advertises piece i. Indices outside
// [0, P) are ignored, preserving the registry's invariant that every
// availability entry stays in range regardless of what a peer claims.
func (r *Registry) AddPeerPiece(slot, i int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= r.numPieces {
		return
	}
	if _, ok := r.byPeer[slot]; !ok {
		r.byPeer[slot] = make(map[int]struct{})
	}
	r.byPeer[slot][i] = struct{}{}
}

// NextPieceExcluding returns the next piece slot should download: among
// pieces slot advertises, not yet completed, and not in blacklist, the one
// with the smallest availability count (number of peers advertising it,
// restricted to uncompleted pieces), breaking ties by the lowest index. It
// returns (Descriptor{}, false) when no eligible piece exists.
func (r *Registry) NextPieceExcluding(slot int, blacklist map[int]struct{}) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	advertised, ok := r.byPeer[slot]
	if !ok || len(advertised) == 0 {
		return Descriptor{}, false
	}

	counts := r.availabilityCountsLocked()

	best := -1
	bestCount := 0
	for idx := range advertised {
		if _, done := r.completed[idx]; done {
			continue
		}
		if _, excluded := blacklist[idx]; excluded {
			continue
		}
		c := counts[idx]
		if best == -1 || c < bestCount || (c == bestCount && idx < best) {
			best = idx
			bestCount = c
		}
	}

	if best == -1 {
		return Descriptor{}, false
	}
	return r.pieces[best], true
}

// availabilityCountsLocked computes c[i] = number of peers advertising piece
// i, restricted to pieces not yet completed. Caller must hold mu.
func (r *Registry) availabilityCountsLocked() map[int]int {
	counts := make(map[int]int)
	for _, advertised := range r.byPeer {
		for idx := range advertised {
			if _, done := r.completed[idx]; done {
				continue
			}
			counts[idx]++
		}
	}
	return counts
}

// VerifyPiece reports whether SHA-1(data) equals the published hash for
// piece i. It does not check data's length; a wrong-length block is caught
// earlier as a session-level Protocol error, so a verification failure here
// is always attributed to the peer that supplied bad piece data.
func (r *Registry) VerifyPiece(i int, data []byte) bool {
	r.mu.Lock()
	desc := r.pieces[i]
	r.mu.Unlock()

	sum := sha1.Sum(data)
	return sum == desc.Hash
}

// MarkCompleted records piece i as done. Calling it twice for the same
// index is a no-op on the completed set's size.
func (r *Registry) MarkCompleted(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed[i] = struct{}{}
}

// IsComplete reports whether every piece in [0, P) is completed.
func (r *Registry) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.completed) == r.numPieces
}

// Progress returns |completed| / P.
func (r *Registry) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.numPieces == 0 {
		return 1
	}
	return float64(len(r.completed)) / float64(r.numPieces)
}

// CompletedCount returns |completed|, mainly for status reporting.
func (r *Registry) CompletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.completed)
}

// MissingPieces returns, in ascending index order, every piece not yet
// completed. Used to build the endgame set once the worker pool drains.
func (r *Registry) MissingPieces() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	missing := make([]int, 0, r.numPieces-len(r.completed))
	for i := 0; i < r.numPieces; i++ {
		if _, done := r.completed[i]; !done {
			missing = append(missing, i)
		}
	}
	return missing
}

// PeersAdvertising returns, in ascending order, the slots currently
// registered as advertising piece i.
func (r *Registry) PeersAdvertising(i int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var slots []int
	for slot, advertised := range r.byPeer {
		if _, ok := advertised[i]; ok {
			slots = append(slots, slot)
		}
	}
	sort.Ints(slots)
	return slots
}

type errPieceOutOfRange int

func (e errPieceOutOfRange) Error() string {
	return "piece index out of range"
}

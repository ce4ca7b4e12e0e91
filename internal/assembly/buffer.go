// Package assembly implements the download's output buffer: a contiguous
// byte array of length N that verified piece bytes are placed into at
// offset index*L. Owned solely by the download coordinator; workers never
// touch it directly.
package assembly

// Buffer is a pre-sized, zero-initialized assembly area.
type Buffer struct {
	data        []byte
	pieceLength int64
}

// New allocates a zero-filled buffer of length n, to be filled at
// pieceLength-sized offsets.
func New(n int64, pieceLength int64) *Buffer {
	return &Buffer{data: make([]byte, n), pieceLength: pieceLength}
}

// StorePiece writes data at byte offset index*pieceLength. Rewriting the
// same index with the same verified bytes (as endgame re-verification can
// do) is idempotent.
func (b *Buffer) StorePiece(index int, data []byte) {
	offset := int64(index) * b.pieceLength
	copy(b.data[offset:], data)
}

// Bytes returns the assembled contents. Callers must not mutate the
// returned slice; this is only safe to call after every piece has
// completed.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer's total length, N.
func (b *Buffer) Len() int64 {
	return int64(len(b.data))
}

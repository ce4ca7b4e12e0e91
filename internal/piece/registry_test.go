package piece

import (
	"crypto/sha1"
	"testing"
)

func hashesOf(n int) [][20]byte {
	hs := make([][20]byte, n)
	for i := range hs {
		hs[i][0] = byte(i)
	}
	return hs
}

func TestShortLastPiece(t *testing.T) {
	r := New(1024, hashesOf(3), 2500)

	cases := []int64{1024, 1024, 452}
	for i, want := range cases {
		d, err := r.GetPiece(i)
		if err != nil {
			t.Fatalf("GetPiece(%d): %v", i, err)
		}
		if d.Length != want {
			t.Errorf("piece %d length = %d, want %d", i, d.Length, want)
		}
	}
}

func TestLastPieceExactMultipleIsFullLength(t *testing.T) {
	r := New(1024, hashesOf(2), 2048)

	d, err := r.GetPiece(1)
	if err != nil {
		t.Fatalf("GetPiece(1): %v", err)
	}
	if d.Length != 1024 {
		t.Errorf("last piece length = %d, want 1024 (not 0)", d.Length)
	}
}

func TestRarestFirstTieBreak(t *testing.T) {
	r := New(1024, hashesOf(3), 3072)

	r.RegisterPeer(1)
	r.RegisterPeer(2)
	r.RegisterPeer(3)

	r.AddPeerPiece(1, 0)
	r.AddPeerPiece(1, 1)
	r.AddPeerPiece(2, 1)
	r.AddPeerPiece(2, 2)
	r.AddPeerPiece(3, 2)

	d, ok := r.NextPieceExcluding(1, map[int]struct{}{})
	if !ok || d.Index != 0 {
		t.Fatalf("peer 1 next = %v, %v; want index 0", d, ok)
	}

	r.MarkCompleted(0)

	d, ok = r.NextPieceExcluding(1, map[int]struct{}{})
	if !ok || d.Index != 1 {
		t.Fatalf("peer 1 next after completing 0 = %v, %v; want index 1", d, ok)
	}

	r.MarkCompleted(1)

	if _, ok := r.NextPieceExcluding(1, map[int]struct{}{}); ok {
		t.Fatalf("peer 1 should have no eligible piece left")
	}

	d, ok = r.NextPieceExcluding(2, map[int]struct{}{})
	if !ok || d.Index != 2 {
		t.Fatalf("peer 2 next = %v, %v; want index 2", d, ok)
	}

	d, ok = r.NextPieceExcluding(3, map[int]struct{}{})
	if !ok || d.Index != 2 {
		t.Fatalf("peer 3 next = %v, %v; want index 2", d, ok)
	}
}

func TestNextPieceExcludingBlacklist(t *testing.T) {
	r := New(1024, hashesOf(2), 2048)
	r.RegisterPeer(1)
	r.AddPeerPiece(1, 0)
	r.AddPeerPiece(1, 1)

	blacklist := map[int]struct{}{0: {}}
	d, ok := r.NextPieceExcluding(1, blacklist)
	if !ok || d.Index != 1 {
		t.Fatalf("blacklisted selection = %v, %v; want index 1", d, ok)
	}
}

func TestDoubleMarkCompletedIsNoOp(t *testing.T) {
	r := New(1024, hashesOf(2), 2048)
	r.MarkCompleted(0)
	r.MarkCompleted(0)

	if got := r.CompletedCount(); got != 1 {
		t.Errorf("completed count = %d, want 1", got)
	}
}

func TestVerifyPiece(t *testing.T) {
	data := make([]byte, 16384)
	for i := range data {
		if i%2 == 0 {
			data[i] = 0x00
		} else {
			data[i] = 0x01
		}
	}

	hash := sha1.Sum(data)
	r := New(16384, [][20]byte{hash}, 16384)

	if !r.VerifyPiece(0, data) {
		t.Errorf("verify_piece should succeed for matching data")
	}
	if r.VerifyPiece(0, []byte("garbage")) {
		t.Errorf("verify_piece should fail for mismatched data")
	}
}

func TestAddPeerPieceOutOfRangeIgnored(t *testing.T) {
	r := New(1024, hashesOf(2), 2048)
	r.RegisterPeer(1)
	r.AddPeerPiece(1, 99)

	if _, ok := r.NextPieceExcluding(1, map[int]struct{}{}); ok {
		t.Errorf("out-of-range piece should never be selectable")
	}
}

func TestRemovePeerIdempotent(t *testing.T) {
	r := New(1024, hashesOf(1), 1024)
	r.RegisterPeer(1)
	r.RemovePeer(1)
	r.RemovePeer(1) // must not panic
}

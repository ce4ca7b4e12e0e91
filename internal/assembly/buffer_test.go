package assembly

import "testing"

func TestStorePieceWritesAtOffset(t *testing.T) {
	b := New(25, 10)

	b.StorePiece(0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	b.StorePiece(1, []byte{11, 12, 13, 14, 15, 16, 17, 18, 19, 20})
	b.StorePiece(2, []byte{21, 22, 23, 24, 25})

	got := b.Bytes()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25}
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStorePieceRewriteIsIdempotent(t *testing.T) {
	b := New(10, 10)
	data := []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9}

	b.StorePiece(0, data)
	b.StorePiece(0, data)

	got := b.Bytes()
	for i, v := range got {
		if v != 9 {
			t.Fatalf("byte %d = %d, want 9", i, v)
		}
	}
}

func TestLenReflectsTotalSize(t *testing.T) {
	b := New(1234, 16384)
	if b.Len() != 1234 {
		t.Errorf("Len() = %d, want 1234", b.Len())
	}
}

package manifest

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// buildTorrentBytes bencodes a minimal single-file torrent by hand, so the
// test controls the exact byte layout of the info dictionary rather than
// round-tripping through the encoder under test.
func buildTorrentBytes(t *testing.T, pieceLength int64, pieces []byte, name string, length int64) []byte {
	t.Helper()

	info := fmt.Sprintf("d6:lengthi%de4:name%d:%s12:piece lengthi%de6:pieces%d:%se",
		length, len(name), name, pieceLength, len(pieces), pieces)

	full := fmt.Sprintf("d8:announce%d:%s4:info%se",
		len("udp://tracker.example:80/announce"), "udp://tracker.example:80/announce", info)

	return []byte(full)
}

func writeTorrentFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.torrent")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write torrent fixture: %v", err)
	}
	return path
}

func TestLoadComputesInfoHashAndPieceHashes(t *testing.T) {
	h1 := sha1.Sum([]byte("piece-zero"))
	h2 := sha1.Sum([]byte("piece-one-"))
	pieces := append(append([]byte{}, h1[:]...), h2[:]...)

	const pieceLength = 10
	const totalLength = 20
	const name = "sample.bin"

	data := buildTorrentBytes(t, pieceLength, pieces, name, totalLength)
	path := writeTorrentFile(t, data)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.Name != name {
		t.Errorf("Name = %q, want %q", m.Name, name)
	}
	if m.PieceLength != pieceLength {
		t.Errorf("PieceLength = %d, want %d", m.PieceLength, pieceLength)
	}
	if m.Length != totalLength {
		t.Errorf("Length = %d, want %d", m.Length, totalLength)
	}
	if len(m.PieceHashes) != 2 {
		t.Fatalf("got %d piece hashes, want 2", len(m.PieceHashes))
	}
	if m.PieceHashes[0] != h1 || m.PieceHashes[1] != h2 {
		t.Errorf("piece hashes don't match input")
	}

	infoStart := bytes.Index(data, []byte("4:info"))
	if infoStart < 0 {
		t.Fatal("fixture missing 4:info, test is broken")
	}
	wantHash := sha1.Sum(data[infoStart+len("4:info") : len(data)-1])
	if m.InfoHash != wantHash {
		t.Errorf("InfoHash = %x, want %x", m.InfoHash, wantHash)
	}
}

func TestLoadRejectsMisalignedPieces(t *testing.T) {
	data := buildTorrentBytes(t, 10, []byte("not-twenty-bytes-aligned"), "x", 10)
	path := writeTorrentFile(t, data)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a pieces string not a multiple of 20 bytes")
	}
}

func TestPieceLenLastPieceShort(t *testing.T) {
	m := &Manifest{
		PieceLength: 10,
		Length:      25,
		PieceHashes: make([][20]byte, 3),
	}
	if got := m.PieceLen(0); got != 10 {
		t.Errorf("piece 0 length = %d, want 10", got)
	}
	if got := m.PieceLen(1); got != 10 {
		t.Errorf("piece 1 length = %d, want 10", got)
	}
	if got := m.PieceLen(2); got != 5 {
		t.Errorf("last piece length = %d, want 5", got)
	}
}

func TestPieceLenExactMultiple(t *testing.T) {
	m := &Manifest{
		PieceLength: 10,
		Length:      20,
		PieceHashes: make([][20]byte, 2),
	}
	if got := m.PieceLen(1); got != 10 {
		t.Errorf("last piece length = %d, want 10 (exact multiple)", got)
	}
}

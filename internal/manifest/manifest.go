// Package manifest parses a .torrent file into the fields the download core
// consumes: announce URL, piece length, ordered piece hashes, total length,
// and info-hash.
package manifest

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"strconv"

	"github.com/jackpal/bencode-go"

	"github.com/lvbealr/gotorrent/internal/errs"
)

// FileEntry describes one file inside a multi-file torrent. The download
// core only ever sees one flat byte array; this is retained so the
// manifest type stays faithful to real .torrent files.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

type rawInfo struct {
	PieceLength int64       `bencode:"piece length"`
	Pieces      string      `bencode:"pieces"`
	Name        string      `bencode:"name"`
	Length      int64       `bencode:"length"`
	Files       []FileEntry `bencode:"files"`
}

type rawFile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         rawInfo    `bencode:"info"`
}

// Manifest is the parsed, validated view of a .torrent file.
type Manifest struct {
	Announce     string
	AnnounceList [][]string
	Name         string
	PieceLength  int64
	PieceHashes  [][20]byte
	Length       int64 // total resource length N
	InfoHash     [20]byte
	Files        []FileEntry
}

// Load reads and parses path, computing the info-hash from the raw bencoded
// "info" dictionary span rather than re-encoding the decoded struct (field
// order and unknown keys would otherwise change the hash).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.IO, "manifest_read", err)
	}

	var raw rawFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, errs.New(errs.InvalidData, "manifest_decode", err)
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, errs.New(errs.InvalidData, "manifest_info_span", err)
	}
	infoHash := sha1.Sum(infoBytes)

	if len(raw.Info.Pieces)%20 != 0 {
		return nil, errs.New(errs.InvalidData, "manifest_pieces", fmt.Errorf("pieces length %d not a multiple of 20", len(raw.Info.Pieces)))
	}

	numPieces := len(raw.Info.Pieces) / 20
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], raw.Info.Pieces[i*20:(i+1)*20])
	}

	total := raw.Info.Length
	if len(raw.Info.Files) > 0 {
		total = 0
		for _, f := range raw.Info.Files {
			total += f.Length
		}
	}

	return &Manifest{
		Announce:     raw.Announce,
		AnnounceList: raw.AnnounceList,
		Name:         raw.Info.Name,
		PieceLength:  raw.Info.PieceLength,
		PieceHashes:  hashes,
		Length:       total,
		InfoHash:     infoHash,
		Files:        raw.Info.Files,
	}, nil
}

// PieceLen returns the length in bytes of piece i: PieceLength for every
// piece but possibly the last, which is N - (P-1)*L, clamped to (0, L].
func (m *Manifest) PieceLen(i int) int64 {
	numPieces := int64(len(m.PieceHashes))
	if int64(i) < numPieces-1 {
		return m.PieceLength
	}
	remainder := m.Length - (numPieces-1)*m.PieceLength
	if remainder <= 0 || remainder > m.PieceLength {
		return m.PieceLength
	}
	return remainder
}

// extractInfoBytes locates the raw bencoded span for the "4:info" dictionary
// so the computed hash matches what any other client would compute: the
// value immediately following the "4:info" key, measured by bencodeSpan.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("manifest: no \"4:info\" key found")
	}

	start := idx + len("4:info")
	end, err := bencodeSpan(data, start)
	if err != nil {
		return nil, err
	}
	return data[start:end], nil
}

// bencodeSpan returns the end offset (exclusive) of the single bencode value
// beginning at data[start]. Dictionaries and lists are measured by
// recursively measuring their elements rather than tracking a flat nesting
// depth across the whole buffer, so the same helper also works for any
// value a caller wants to skip over, not only a top-level "info" dict.
func bencodeSpan(data []byte, start int) (int, error) {
	if start >= len(data) {
		return 0, fmt.Errorf("manifest: truncated bencode value at offset %d", start)
	}

	switch data[start] {
	case 'i':
		end := bytes.IndexByte(data[start:], 'e')
		if end < 0 {
			return 0, fmt.Errorf("manifest: unterminated integer at offset %d", start)
		}
		return start + end + 1, nil

	case 'l', 'd':
		pos := start + 1
		for {
			if pos >= len(data) {
				return 0, fmt.Errorf("manifest: unterminated list or dict starting at offset %d", start)
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			next, err := bencodeSpan(data, pos)
			if err != nil {
				return 0, err
			}
			pos = next
		}

	default:
		if data[start] < '0' || data[start] > '9' {
			return 0, fmt.Errorf("manifest: unexpected bencode tag %q at offset %d", data[start], start)
		}
		colon := bytes.IndexByte(data[start:], ':')
		if colon < 0 {
			return 0, fmt.Errorf("manifest: malformed string length at offset %d", start)
		}
		length, err := strconv.Atoi(string(data[start : start+colon]))
		if err != nil {
			return 0, fmt.Errorf("manifest: invalid string length at offset %d", start)
		}
		valStart := start + colon + 1
		valEnd := valStart + length
		if length < 0 || valEnd > len(data) {
			return 0, fmt.Errorf("manifest: string length runs past end of data at offset %d", start)
		}
		return valEnd, nil
	}
}

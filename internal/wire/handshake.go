package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/lvbealr/gotorrent/internal/errs"
)

// Protocol is the fixed 19-byte literal every handshake carries.
const Protocol = "BitTorrent protocol"

// HandshakeLen is the total size of the fixed 68-byte greeting.
const HandshakeLen = 1 + 19 + 8 + 20 + 20

// Handshake is the fixed-layout greeting every peer connection opens with.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

func (h Handshake) encode() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = 19
	copy(buf[1:20], Protocol)
	// bytes 20:28 reserved, left zero
	copy(buf[28:48], h.InfoHash[:])
	copy(buf[48:68], h.PeerID[:])
	return buf
}

func decodeHandshake(buf []byte, wantInfoHash [20]byte) (Handshake, error) {
	if len(buf) != HandshakeLen {
		return Handshake{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("short handshake: %d bytes", len(buf)))
	}
	if buf[0] != 19 {
		return Handshake{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("invalid pstrlen %d", buf[0]))
	}
	if string(buf[1:20]) != Protocol {
		return Handshake{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("invalid protocol literal"))
	}

	var h Handshake
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])

	if !bytes.Equal(h.InfoHash[:], wantInfoHash[:]) {
		return Handshake{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("info hash mismatch"))
	}

	return h, nil
}

// Do performs the fixed 68-byte handshake exchange over rw: send the local
// greeting while reading the peer's, then validate the peer's. Sending and
// reading run concurrently so the exchange also completes over an unbuffered
// transport such as net.Pipe. rw should already have a deadline applied by
// the caller (the session enforces a 10s connect+handshake ceiling).
func Do(rw io.ReadWriter, infoHash, peerID [20]byte) (Handshake, error) {
	local := Handshake{InfoHash: infoHash, PeerID: peerID}

	sendErr := make(chan error, 1)
	go func() {
		_, err := rw.Write(local.encode())
		sendErr <- err
	}()

	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(rw, buf); err != nil {
		return Handshake{}, errs.New(errs.IO, "handshake_recv", err)
	}
	if err := <-sendErr; err != nil {
		return Handshake{}, errs.New(errs.IO, "handshake_send", err)
	}

	return decodeHandshake(buf, infoHash)
}

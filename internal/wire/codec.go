package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lvbealr/gotorrent/internal/errs"
)

// MaxMessageSize caps a single frame's payload at 1 MiB, matching the
// ReceiveMessage size guard used upstream.
const MaxMessageSize = 1 << 20

// Encode serializes msg as a length-prefixed frame: 4 bytes of big-endian
// length (payload length + 1 for the type tag), the type tag, then the
// payload.
func Encode(msg Message) []byte {
	buf := make([]byte, 4+1+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(msg.Payload)))
	buf[4] = byte(msg.Type)
	copy(buf[5:], msg.Payload)
	return buf
}

// EncodeKeepAlive returns a zero-length keep-alive frame.
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// Decoder frames an arbitrarily-split byte stream into messages. It
// tolerates any split of the underlying transport: Write accepts whatever
// bytes arrived, and Decode returns one message at a time, or (nil, nil)
// when fewer bytes are buffered than the next frame needs.
type Decoder struct {
	buf bytes.Buffer
}

// Write implements io.Writer so a Decoder can sit downstream of any reader.
func (d *Decoder) Write(p []byte) (int, error) {
	return d.buf.Write(p)
}

// Decode consumes one complete message from the buffered bytes, if present.
// It returns (nil, nil) for "need more bytes", including for a decoded
// keep-alive (which produces no message at all). A protocol error is
// returned for an unrecognized message type tag; the caller should tear
// down the session, not retry the same bytes.
func (d *Decoder) Decode() (*Message, error) {
	raw := d.buf.Bytes()

	if len(raw) < 4 {
		return nil, nil
	}

	length := int(binary.BigEndian.Uint32(raw[0:4]))
	if length < 0 || length > MaxMessageSize {
		return nil, errs.New(errs.Protocol, "decode", fmt.Errorf("message length %d exceeds cap", length))
	}

	if len(raw) < 4+length {
		return nil, nil
	}

	frame := raw[4 : 4+length]
	d.buf.Next(4 + length)

	if length == 0 {
		return nil, nil
	}

	tag := MessageType(frame[0])
	switch tag {
	case Choke, Unchoke, Interested, NotInterested, Have, Bitfield, Request, Piece, Cancel:
	default:
		return nil, errs.New(errs.Protocol, "decode", fmt.Errorf("unknown message tag %d", frame[0]))
	}

	payload := make([]byte, length-1)
	copy(payload, frame[1:])

	return &Message{Type: tag, Payload: payload}, nil
}

// ReadMessage reads exactly one framed message (or absorbs any number of
// keep-alives first) directly off r, which should have a read deadline
// already applied by the caller. It performs its own length-prefixed
// framing rather than delegating to Decoder, since a live connection
// doesn't need a growable re-assembly buffer: io.ReadFull already blocks
// until the requested bytes are available or the deadline fires.
func ReadMessage(r io.Reader) (*Message, error) {
	for {
		var lengthBuf [4]byte
		if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
			return nil, err
		}

		length := int(binary.BigEndian.Uint32(lengthBuf[:]))
		if length < 0 || length > MaxMessageSize {
			return nil, errs.New(errs.Protocol, "read_message", fmt.Errorf("message length %d exceeds cap", length))
		}
		if length == 0 {
			continue // keep-alive, absorbed silently
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}

		tag := MessageType(frame[0])
		switch tag {
		case Choke, Unchoke, Interested, NotInterested, Have, Bitfield, Request, Piece, Cancel:
		default:
			return nil, errs.New(errs.Protocol, "read_message", fmt.Errorf("unknown message tag %d", frame[0]))
		}

		return &Message{Type: tag, Payload: frame[1:]}, nil
	}
}

// WriteMessage writes one framed message to w, which should have a write
// deadline already applied by the caller.
func WriteMessage(w io.Writer, msg Message) error {
	_, err := w.Write(Encode(msg))
	return err
}

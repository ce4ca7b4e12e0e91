package wire

import "encoding/binary"

// MessageType is the closed set of message type tags the wire protocol
// recognizes.
type MessageType byte

const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not-interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// BlockSize is the fixed wire request unit: 16 KiB.
const BlockSize = 16384

// Message is one decoded, framed peer message. A keep-alive never becomes a
// Message value; the codec absorbs it silently.
type Message struct {
	Type    MessageType
	Payload []byte
}

// NewRequest builds the payload for a request or cancel message: three
// big-endian uint32 fields.
func NewRequest(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}

// NewHave builds the payload for a have message.
func NewHave(index int) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return payload
}

// ParseRequest decodes a request/cancel payload.
func ParseRequest(payload []byte) (index, begin, length int, ok bool) {
	if len(payload) != 12 {
		return 0, 0, 0, false
	}
	return int(binary.BigEndian.Uint32(payload[0:4])),
		int(binary.BigEndian.Uint32(payload[4:8])),
		int(binary.BigEndian.Uint32(payload[8:12])),
		true
}

// ParseHave decodes a have payload.
func ParseHave(payload []byte) (index int, ok bool) {
	if len(payload) != 4 {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(payload)), true
}

// ParsePieceHeader decodes the (index, begin) prefix of a piece message,
// returning the block bytes that follow.
func ParsePieceHeader(payload []byte) (index, begin int, block []byte, ok bool) {
	if len(payload) < 8 {
		return 0, 0, nil, false
	}
	return int(binary.BigEndian.Uint32(payload[0:4])),
		int(binary.BigEndian.Uint32(payload[4:8])),
		payload[8:],
		true
}

// NewPiece builds the payload for a piece message.
func NewPiece(index, begin int, block []byte) []byte {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return payload
}

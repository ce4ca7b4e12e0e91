package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		{Type: Choke},
		{Type: Unchoke},
		{Type: Interested},
		{Type: Have, Payload: NewHave(42)},
		{Type: Bitfield, Payload: []byte{0xff, 0x00, 0x80}},
		{Type: Request, Payload: NewRequest(1, 16384, 16384)},
		{Type: Piece, Payload: NewPiece(1, 0, []byte("hello world"))},
	}

	for _, want := range cases {
		var dec Decoder
		dec.Write(Encode(want))

		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("decode %v: %v", want.Type, err)
		}
		if got == nil {
			t.Fatalf("decode %v: got nil, want a message", want.Type)
		}
		if got.Type != want.Type {
			t.Errorf("type = %v, want %v", got.Type, want.Type)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("payload = %x, want %x", got.Payload, want.Payload)
		}
	}
}

func TestDecodeNeedsMoreBytes(t *testing.T) {
	full := Encode(Message{Type: Request, Payload: NewRequest(0, 0, 100)})

	var dec Decoder
	for i := 0; i < len(full)-1; i++ {
		dec.Write(full[i : i+1])
		msg, err := dec.Decode()
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if msg != nil {
			t.Fatalf("spurious message decoded at byte %d of %d", i, len(full))
		}
	}

	dec.Write(full[len(full)-1:])
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("final decode: %v", err)
	}
	if msg == nil {
		t.Fatalf("expected a complete message after final byte")
	}
}

func TestDecodeKeepAliveAbsorbed(t *testing.T) {
	var dec Decoder
	dec.Write(EncodeKeepAlive())

	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Fatalf("keep-alive should decode to no message, got %v", msg)
	}
}

func TestDecodeUnknownTagIsProtocolError(t *testing.T) {
	var dec Decoder
	dec.Write([]byte{0, 0, 0, 2, 0xff, 0x00})

	_, err := dec.Decode()
	if err == nil {
		t.Fatalf("expected a protocol error for unknown tag")
	}
}

func TestDecodeMultipleMessagesFromOneBuffer(t *testing.T) {
	var dec Decoder
	dec.Write(Encode(Message{Type: Choke}))
	dec.Write(Encode(Message{Type: Unchoke}))

	first, err := dec.Decode()
	if err != nil || first == nil || first.Type != Choke {
		t.Fatalf("first decode = %v, %v", first, err)
	}
	second, err := dec.Decode()
	if err != nil || second == nil || second.Type != Unchoke {
		t.Fatalf("second decode = %v, %v", second, err)
	}
}

package wire

import (
	"net"
	"testing"
	"time"
)

func TestHandshakeRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	infoHash := [20]byte{1, 2, 3}
	idA := [20]byte{0xaa}
	idB := [20]byte{0xbb}

	deadline := time.Now().Add(2 * time.Second)
	a.SetDeadline(deadline)
	b.SetDeadline(deadline)

	type result struct {
		hs  Handshake
		err error
	}
	doneA := make(chan result, 1)
	doneB := make(chan result, 1)

	go func() {
		hs, err := Do(a, infoHash, idA)
		doneA <- result{hs, err}
	}()
	go func() {
		hs, err := Do(b, infoHash, idB)
		doneB <- result{hs, err}
	}()

	ra := <-doneA
	rb := <-doneB

	if ra.err != nil {
		t.Fatalf("side A: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("side B: %v", rb.err)
	}
	if ra.hs.PeerID != idB {
		t.Errorf("side A saw peer id %x, want %x", ra.hs.PeerID, idB)
	}
	if rb.hs.PeerID != idA {
		t.Errorf("side B saw peer id %x, want %x", rb.hs.PeerID, idA)
	}
}

func TestHandshakeInfoHashMismatch(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	deadline := time.Now().Add(2 * time.Second)
	a.SetDeadline(deadline)
	b.SetDeadline(deadline)

	hashA := [20]byte{1}
	hashB := [20]byte{2}

	errCh := make(chan error, 1)
	go func() {
		_, err := Do(a, hashA, [20]byte{})
		errCh <- err
	}()

	_, errB := Do(b, hashB, [20]byte{})
	errA := <-errCh

	if errA == nil {
		t.Errorf("side A expected mismatch error")
	}
	if errB == nil {
		t.Errorf("side B expected mismatch error")
	}
}

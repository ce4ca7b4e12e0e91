// Package peer implements the per-peer wire session: handshake completion,
// choke/interest state, and block-by-block requests for one piece at a
// time, with one block request outstanding at once. A Session is strictly single-owner — exactly one goroutine may
// drive RequestPiece at a time; there is no pipelining of multiple pieces
// on one connection.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lvbealr/gotorrent/internal/bitfield"
	"github.com/lvbealr/gotorrent/internal/errs"
	"github.com/lvbealr/gotorrent/internal/piece"
	"github.com/lvbealr/gotorrent/internal/wire"
)

// Timing constants are vars, not consts, so tests can shrink them instead
// of waiting out real unchoke/block deadlines.
var (
	connectTimeout = 10 * time.Second
	unchokeTimeout = 30 * time.Second
	unchokeNudge   = 5 * time.Second
	blockTimeout   = 30 * time.Second
)

const maxBlockFailures = 3

// Session owns one live peer connection.
//
// Its bitfield starts empty (len 0) rather than pre-sized to the torrent's
// piece count. A peer that sends only "have" messages before ever sending an
// explicit bitfield is therefore treated as advertising nothing until it
// does: the handler's rule ("ignore a have beyond the stored bitfield
// length") applies uniformly, matching a bounds-checked, never-grow
// bit-set that never extends its own backing slice.
type Session struct {
	ID      uuid.UUID
	address string
	conn    net.Conn

	bitfield bitfield.Bitfield

	localChoking     bool
	localInterested  bool
	remoteChoking    bool
	remoteInterested bool
}

// Connect dials addr, performs the fixed handshake, and consumes the
// optional initial bitfield/have message. A Session is only ever created
// this way.
func Connect(ctx context.Context, addr string, infoHash, localPeerID [20]byte) (*Session, error) {
	deadline := time.Now().Add(connectTimeout)
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.New(errs.IO, "dial", err)
	}

	conn.SetDeadline(deadline)

	if _, err := wire.Do(conn, infoHash, localPeerID); err != nil {
		conn.Close()
		if isTimeout(err) {
			return nil, errs.New(errs.Timeout, "handshake", err)
		}
		return nil, err
	}

	s := &Session{
		ID:            uuid.New(),
		address:       addr,
		conn:          conn,
		localChoking:  true,
		remoteChoking: true,
	}

	msg, err := wire.ReadMessage(conn)
	if err != nil {
		conn.Close()
		if isEOF(err) {
			return nil, errs.WithReason(errs.Peer, errs.ReasonDisconnected, "initial_read",
				fmt.Errorf("peer disconnected before bitfield"))
		}
		if isTimeout(err) {
			return nil, errs.New(errs.Timeout, "initial_read", err)
		}
		return nil, errs.WithReason(errs.Peer, errs.ReasonIOFailure, "initial_read", err)
	}

	if msg != nil {
		switch msg.Type {
		case wire.Bitfield:
			s.bitfield = append(bitfield.Bitfield(nil), msg.Payload...)
		default:
			if err := s.handleMessage(*msg); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}

	conn.SetDeadline(time.Time{})
	return s, nil
}

// Addr returns the remote endpoint this session is connected to.
func (s *Session) Addr() string {
	return s.address
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// HasPiece reads bit i of the advertised availability bitfield.
func (s *Session) HasPiece(i int) bool {
	return s.bitfield.Has(i)
}

// GetBitfield returns the availability bitfield if the peer has advertised
// one, or (nil, false) if it hasn't yet.
func (s *Session) GetBitfield() (bitfield.Bitfield, bool) {
	if len(s.bitfield) == 0 {
		return nil, false
	}
	return s.bitfield, true
}

func (s *Session) handleMessage(msg wire.Message) error {
	switch msg.Type {
	case wire.Choke:
		s.remoteChoking = true
	case wire.Unchoke:
		s.remoteChoking = false
	case wire.Interested:
		s.remoteInterested = true
	case wire.NotInterested:
		s.remoteInterested = false
	case wire.Have:
		idx, ok := wire.ParseHave(msg.Payload)
		if !ok {
			return errs.New(errs.Protocol, "have", fmt.Errorf("malformed have payload"))
		}
		s.bitfield.Set(idx)
	case wire.Bitfield:
		if len(s.bitfield) != 0 {
			return errs.New(errs.Protocol, "bitfield", fmt.Errorf("duplicate bitfield"))
		}
		s.bitfield = append(bitfield.Bitfield(nil), msg.Payload...)
	case wire.Request, wire.Piece, wire.Cancel:
		// ignored outside a block-response wait
	}
	return nil
}

// RequestPiece downloads desc block-by-block and returns its bytes. Size
// validation (that the accumulated bytes equal desc.Length) is the piece
// registry's concern once verification happens; this only guarantees the
// byte count the wire actually delivered for each block matched the block
// size requested.
func (s *Session) RequestPiece(desc piece.Descriptor) ([]byte, error) {
	if !s.HasPiece(desc.Index) {
		return nil, errs.New(errs.Peer, "request_piece", fmt.Errorf("peer does not advertise piece %d", desc.Index))
	}

	if !s.localInterested {
		if err := s.send(wire.Message{Type: wire.Interested}); err != nil {
			return nil, err
		}
		s.localInterested = true
	}

	if err := s.waitForUnchoke(); err != nil {
		return nil, err
	}

	data := make([]byte, 0, desc.Length)
	offset := int64(0)

	for offset < desc.Length {
		blockLen := desc.Length - offset
		if blockLen > wire.BlockSize {
			blockLen = wire.BlockSize
		}

		block, err := s.requestBlock(desc.Index, offset, blockLen)
		if err != nil {
			return nil, err
		}

		data = append(data, block...)
		offset += blockLen
	}

	return data, nil
}

// requestBlock requests and retrieves a single block, resending the request
// after a failed attempt (a per-block timeout, a failed send, or a protocol
// error in the response) and failing the piece after maxBlockFailures
// consecutive failed attempts. A choke received mid-read, or a
// connection-level error while awaiting the block, is not retried: it fails
// the block immediately, on the first occurrence.
func (s *Session) requestBlock(index int, offset, length int64) ([]byte, error) {
	var failures int

	for {
		if err := s.send(wire.Message{Type: wire.Request, Payload: wire.NewRequest(index, int(offset), int(length))}); err != nil {
			failures++
			if failures >= maxBlockFailures {
				return nil, err
			}
			continue
		}

		block, err := s.awaitBlock(index, offset, length)
		if err == nil {
			return block, nil
		}
		if errs.IsConnectionError(err) || chokedMidTransfer(err) {
			return nil, err
		}

		failures++
		if failures >= maxBlockFailures {
			return nil, err
		}
	}
}

// chokedMidTransfer reports whether err is the Peer(choked-during-transfer)
// failure awaitBlock raises when the remote chokes while a block is in
// flight. That failure ends the block on the spot rather than feeding the
// resend-and-retry loop used for timeouts.
func chokedMidTransfer(err error) bool {
	var e *errs.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == errs.Peer && e.Reason == errs.ReasonChokedDuringTransfer
}

func (s *Session) awaitBlock(index int, offset, length int64) ([]byte, error) {
	deadline := time.Now().Add(blockTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errs.WithReason(errs.Peer, errs.ReasonRetryCeiling, "await_block",
				fmt.Errorf("timeout waiting for piece %d block at %d", index, offset))
		}

		s.conn.SetReadDeadline(time.Now().Add(remaining))
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			if isTimeout(err) {
				return nil, errs.WithReason(errs.Peer, errs.ReasonRetryCeiling, "await_block", err)
			}
			if isEOF(err) {
				return nil, errs.WithReason(errs.Peer, errs.ReasonDisconnected, "await_block", err)
			}
			return nil, errs.WithReason(errs.Peer, errs.ReasonIOFailure, "await_block", err)
		}

		if msg.Type == wire.Choke {
			s.remoteChoking = true
			return nil, errs.WithReason(errs.Peer, errs.ReasonChokedDuringTransfer, "await_block",
				fmt.Errorf("choked during transfer of piece %d", index))
		}

		if msg.Type != wire.Piece {
			if err := s.handleMessage(*msg); err != nil {
				return nil, err
			}
			continue
		}

		gotIndex, gotBegin, block, ok := wire.ParsePieceHeader(msg.Payload)
		if !ok {
			return nil, errs.New(errs.Protocol, "await_block", fmt.Errorf("malformed piece message"))
		}
		if gotIndex != index || int64(gotBegin) != offset {
			continue // stale response from a prior request, or endgame overlap
		}
		if int64(len(block)) != length {
			return nil, errs.New(errs.Protocol, "await_block",
				fmt.Errorf("block length %d != requested %d", len(block), length))
		}

		return block, nil
	}
}

// waitForUnchoke blocks until the remote unchokes us, for up to 30s total,
// resending interested as a keep-alive nudge every 5s of silence.
func (s *Session) waitForUnchoke() error {
	overall := time.Now().Add(unchokeTimeout)

	for s.remoteChoking {
		if time.Now().After(overall) {
			return errs.WithReason(errs.Peer, errs.ReasonUnchokeTimeout, "wait_unchoke",
				fmt.Errorf("timeout waiting for unchoke"))
		}

		waitFor := unchokeNudge
		if remaining := time.Until(overall); remaining < waitFor {
			waitFor = remaining
		}

		s.conn.SetReadDeadline(time.Now().Add(waitFor))
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			if isTimeout(err) {
				if nudgeErr := s.send(wire.Message{Type: wire.Interested}); nudgeErr != nil {
					return nudgeErr
				}
				continue
			}
			if isEOF(err) {
				return errs.WithReason(errs.Peer, errs.ReasonDisconnected, "wait_unchoke", err)
			}
			return errs.WithReason(errs.Peer, errs.ReasonIOFailure, "wait_unchoke", err)
		}

		if err := s.handleMessage(*msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) send(msg wire.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(blockTimeout))
	if err := wire.WriteMessage(s.conn, msg); err != nil {
		return errs.WithReason(errs.Peer, errs.ReasonIOFailure, "send", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

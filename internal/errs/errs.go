// Package errs gives the core a structural error-kind discriminator instead
// of substring matching to decide whether a peer error was connection-level.
package errs

import "fmt"

// Kind is the category of failure the core distinguishes.
type Kind int

const (
	IO Kind = iota
	Network
	Tracker
	Peer
	Protocol
	Piece
	Download
	Timeout
	InvalidData
	Client
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Network:
		return "network"
	case Tracker:
		return "tracker"
	case Peer:
		return "peer"
	case Protocol:
		return "protocol"
	case Piece:
		return "piece"
	case Download:
		return "download"
	case Timeout:
		return "timeout"
	case InvalidData:
		return "invalid-data"
	case Client:
		return "client"
	default:
		return "unknown"
	}
}

// Reason narrows a Peer-kind error to the specific connection-level
// condition that produced it. Workers use this field, not a string
// comparison, to decide whether a session is unusable.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDisconnected
	ReasonUnchokeTimeout
	ReasonRetryCeiling
	ReasonChokedDuringTransfer
	ReasonIOFailure
	ReasonNoPeers
)

// Error is the core's error type. Op names the operation that failed
// ("handshake", "request_piece", "send_tracker_request", ...).
type Error struct {
	Kind   Kind
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func WithReason(kind Kind, reason Reason, op string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Op: op, Err: err}
}

// IsConnectionError reports whether err reflects a peer session that is no
// longer usable and should be torn down by its worker. This replaces the
// old `strings.Contains(err.Error(), "connection")` check with a
// structural one on Kind and Reason.
func IsConnectionError(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Peer {
		return false
	}
	switch e.Reason {
	case ReasonDisconnected, ReasonIOFailure:
		return true
	default:
		// Unchoke timeouts, retry-ceiling block failures, and mid-transfer
		// chokes are recoverable at the piece level: the TCP connection is
		// still usable, so the worker blacklists the piece and keeps going
		// rather than tearing the session down.
		return false
	}
}

// KindOf extracts the Kind carried by err, defaulting to Client when err
// does not originate from this package (e.g. a bare context error at a
// boundary).
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Client
}

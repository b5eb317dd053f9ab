package outbound

import (
	"net"

	"github.com/jonboulle/clockwork"
)

// Status is the outcome delivered to a query's Completion.
type Status int

const (
	// StatusOK means a reply passed the key and socket-identity checks.
	StatusOK Status = iota
	// StatusTimeout means the timer fired before a matching reply arrived.
	StatusTimeout
	// StatusClosed covers every pre-send failure: dispatcher already shut
	// down, no egress socket for the destination family, transaction id
	// space exhausted, or the send syscall itself failed.
	StatusClosed
)

// String implements fmt.Stringer, following resolvers.CacheEntryType's
// pattern of a small hand-written switch rather than pulling in a
// stringer generator for a three-value enum.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReplyInfo carries the source address of a matched reply. It is non-nil
// only when Completion is invoked with StatusOK; the shared receive buffer
// backing the reply bytes is valid only for the duration of the
// Completion call.
type ReplyInfo struct {
	Addr *net.UDPAddr
	Data []byte
}

// Completion is a receiver invoked exactly once per submitted query, on
// whichever of the ok/timeout/closed paths completes it first, in place
// of a raw function-pointer callback.
type Completion func(status Status, reply *ReplyInfo)

// pending is the per-query record. It is a value owned exclusively by the
// pendingIndex entry and the timer goroutine that can reach it; once
// removed from the index by removeMatching, nothing else holds a
// reference to it except the goroutine that performed the removal.
type pending struct {
	key        pendingKey
	addr       *net.UDPAddr
	sock       *boundSocket
	timer      clockwork.Timer
	completion Completion
}

// Handle is an opaque reference to a submitted query, returned by Submit
// so callers that know it can Cancel the query before it completes.
type Handle struct {
	p *pending
}

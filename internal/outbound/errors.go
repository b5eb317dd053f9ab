// Package outbound implements the outbound query dispatcher: the subsystem
// that sends DNS queries to upstream servers over a pool of pre-bound UDP
// sockets and demultiplexes asynchronous replies back to their originators.
//
// Concurrency Model:
//
// Unlike a single reactor thread driving serialized callbacks, this package
// runs one goroutine per pooled socket, and each in-flight query's timer
// runs its timeout callback on its own goroutine when it fires. A mutex inside PendingIndex arbitrates between the reply
// path, the timeout path, and explicit cancellation so that exactly one of
// them ever invokes a query's completion (see Dispatcher's handleReply,
// handleTimeout and Cancel).
//
// Error Handling:
//
// Construction failures are returned directly. Per-query failures
// (no egress socket, ID space exhaustion, send failure) are delivered to
// the caller's Completion as StatusClosed rather than through a returned
// error, since submission itself is asynchronous from the caller's point
// of view once the packet has left the process.
package outbound

import "errors"

var (
	// ErrConstructionShortfall is returned by New when fewer sockets could
	// be bound per family than requested. The partially built pool is torn
	// down before this error is returned.
	ErrConstructionShortfall = errors.New("outbound: socket pool construction shortfall")

	// ErrNoEgressForFamily is logged (never surfaced as a returned error)
	// when Submit needs a socket for a family with an empty pool.
	ErrNoEgressForFamily = errors.New("outbound: no egress socket for address family")

	// ErrIDSpaceExhausted is logged when 1000 consecutive ID generation
	// attempts all collide with a live PendingIndex entry.
	ErrIDSpaceExhausted = errors.New("outbound: transaction id space exhausted")

	// ErrClosed names the shut-down state of a Dispatcher. Submit does not
	// return it: a Submit after Close reports StatusClosed to its completion.
	ErrClosed = errors.New("outbound: dispatcher is closed")

	// errKeyCollision is internal: it only ever drives the retry loop in
	// Dispatcher.assignID and is never returned to a caller.
	errKeyCollision = errors.New("outbound: pending key collision")
)

package outbound

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// maxIDAttempts bounds the ID-collision retry loop in Submit: after this
// many unsuccessful attempts, abort rather than risk a livelock against a
// nearly-full index.
const maxIDAttempts = 1000

// Dispatcher owns a PendingIndex and a SocketPool, and exposes
// Submit/Cancel/Close to callers (typically one ForwardingResolver-style
// upstream client per worker).
type Dispatcher struct {
	logger  *slog.Logger
	pool    *socketPool
	index   *pendingIndex
	metrics *Metrics
	clock   clockwork.Clock

	// idSource draws the next candidate transaction id for assignID. It
	// defaults to generateID; tests substitute a scripted source to force
	// the collision-retry path without depending on crypto/rand timing.
	idSource func() (uint16, error)

	recvBufSize int

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New constructs a Dispatcher: it opens the configured socket pool and
// starts one reply-reading goroutine per socket. On any construction
// failure the pool is torn down and the error returned; no goroutines are
// left running.
func New(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	return newDispatcher(cfg, logger, clockwork.NewRealClock())
}

// newDispatcher is the shared constructor behind New; tests use it with a
// clockwork.FakeClock to exercise the timeout path deterministically
// without real sleeps.
func newDispatcher(cfg Config, logger *slog.Logger, clock clockwork.Clock) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pool, err := newSocketPool(cfg, logger)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		logger:      logger,
		pool:        pool,
		index:       newPendingIndex(),
		metrics:     &Metrics{},
		clock:       clock,
		idSource:    generateID,
		recvBufSize: cfg.ReceiveBufferSize,
	}

	for _, sock := range pool.all() {
		s := sock
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.readLoop(s)
		}()
	}

	return d, nil
}

// Metrics returns the dispatcher's counters for reporting.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Submit sends packet to dest and arms a timer that fires after timeout.
// packet must be at least 2 bytes; its first two bytes are overwritten in
// place with the generated transaction id (ownership of packet is
// understood to transfer to Submit for the duration of the call).
//
// completion is invoked exactly once unless the query is cancelled first,
// with one of StatusOK, StatusTimeout or StatusClosed. StatusOK and
// StatusTimeout arrive from a read-loop or timer goroutine; StatusClosed
// for a closed Dispatcher, an invalid argument, ID exhaustion, a missing
// egress socket or a failed send is delivered on the caller's goroutine
// before Submit returns nil. Submit itself never blocks past the
// underlying WriteToUDP call.
func (d *Dispatcher) Submit(packet []byte, dest *net.UDPAddr, timeout time.Duration, completion Completion) *Handle {
	if completion == nil {
		completion = func(Status, *ReplyInfo) {}
	}
	if d.closed.Load() {
		completion(StatusClosed, nil)
		return nil
	}
	if len(packet) < 2 || dest == nil {
		completion(StatusClosed, nil)
		return nil
	}

	fam := familyOf(dest.IP)
	p := &pending{addr: dest, completion: completion}

	if !d.assignID(p, packet) {
		d.metrics.idExhausted.Add(1)
		d.logger.Warn("outbound: transaction id space exhausted", "dest", dest.String())
		completion(StatusClosed, nil)
		return nil
	}

	sock, err := d.pool.selectSocket(fam)
	if err != nil {
		d.index.removeMatching(p.key, p)
		d.metrics.noEgress.Add(1)
		d.logger.Warn("outbound: no egress socket for family", "family", fam.String(), "dest", dest.String())
		completion(StatusClosed, nil)
		return nil
	}
	p.sock = sock

	// Send before arming the timer: this keeps the measured round-trip
	// interval from being inflated by scheduling delay on the send path.
	if _, err := sock.conn.WriteToUDP(packet, dest); err != nil {
		d.index.removeMatching(p.key, p)
		d.metrics.sendFailed.Add(1)
		completion(StatusClosed, nil)
		return nil
	}

	p.timer = d.clock.AfterFunc(timeout, func() { d.handleTimeout(p) })
	d.metrics.submitted.Add(1)
	return &Handle{p: p}
}

// assignID generates transaction ids and retries PendingIndex insertion on
// collision, patching each candidate id into packet's first two bytes
// before trying it. Returns false if maxIDAttempts were all rejected.
func (d *Dispatcher) assignID(p *pending, packet []byte) bool {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := d.idSource()
		if err != nil {
			return false
		}
		binary.BigEndian.PutUint16(packet[0:2], id)
		p.key = newPendingKey(id, p.addr)

		if err := d.index.insert(p); err == nil {
			return true
		}
	}
	return false
}

// generateID draws a cryptographically random 16-bit transaction id,
// giving at least 16 bits of entropy per draw rather than a weak
// high-byte-of-random() scheme.
func generateID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// Cancel removes h's query from the index and stops its timer without
// invoking its completion. A no-op if the query already completed via
// reply, timeout, or an earlier Cancel.
func (d *Dispatcher) Cancel(h *Handle) {
	if h == nil || h.p == nil {
		return
	}
	p, ok := d.index.removeMatching(h.p.key, h.p)
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
}

// readLoop owns one pooled socket's receive path for the Dispatcher's
// lifetime. It exits when the socket is closed, which Close() triggers by
// closing every pooled socket.
func (d *Dispatcher) readLoop(sock *boundSocket) {
	buf := make([]byte, d.recvBufSize)
	for {
		n, peer, err := sock.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 2 {
			continue // too short to carry a transaction id
		}
		d.handleReply(sock, peer, buf[:n])
	}
}

// handleReply extracts the id, builds the lookup key, checks for a live
// Pending, enforces the socket-identity check, and completes it exactly
// once.
func (d *Dispatcher) handleReply(sock *boundSocket, peer *net.UDPAddr, datagram []byte) {
	id := binary.BigEndian.Uint16(datagram[0:2])
	key := newPendingKey(id, peer)

	p, ok := d.index.lookup(key)
	if !ok {
		d.metrics.unsolicited.Add(1)
		d.logger.Debug("outbound: unsolicited reply", "peer", peer.String())
		return
	}

	if p.sock != sock {
		// Matches the 4-tuple but arrived on the wrong socket: this is
		// exactly the off-path spoofing signature the socket-identity
		// check defends against. The real Pending stays registered so a
		// legitimate reply on the correct socket can still match it.
		d.metrics.wrongSocket.Add(1)
		d.logger.Debug("outbound: reply on wrong socket", "peer", peer.String())
		return
	}

	removed, ok := d.index.removeMatching(key, p)
	if !ok {
		// Lost the race to the timeout path between lookup and removal.
		return
	}
	if removed.timer != nil {
		removed.timer.Stop()
	}
	d.metrics.matched.Add(1)
	removed.completion(StatusOK, &ReplyInfo{Addr: peer, Data: datagram})
}

// handleTimeout only invokes the completion if it wins the removeMatching
// race against a concurrent reply.
func (d *Dispatcher) handleTimeout(p *pending) {
	removed, ok := d.index.removeMatching(p.key, p)
	if !ok {
		return
	}
	d.metrics.timedOut.Add(1)
	removed.completion(StatusTimeout, nil)
}

// Close is an idempotent shutdown that abandons every outstanding Pending
// without invoking its completion, then closes every pooled socket (which
// unblocks and ends each readLoop) and waits for them to exit.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.index.drain(func(p *pending) {
		if p.timer != nil {
			p.timer.Stop()
		}
	})

	d.pool.closeAll()
	d.wg.Wait()
	return nil
}

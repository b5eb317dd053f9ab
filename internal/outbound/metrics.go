package outbound

import "sync/atomic"

// Metrics collects dispatcher-wide counters. All methods are safe for
// concurrent use, following server.DNSStats's plain-atomic-counter
// pattern rather than pulling in a metrics client library the rest of
// this package has no other reason to depend on.
type Metrics struct {
	submitted   atomic.Uint64
	matched     atomic.Uint64
	timedOut    atomic.Uint64
	unsolicited atomic.Uint64
	wrongSocket atomic.Uint64
	idExhausted atomic.Uint64
	noEgress    atomic.Uint64
	sendFailed  atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics for reporting.
type MetricsSnapshot struct {
	Submitted   uint64
	Matched     uint64
	TimedOut    uint64
	Unsolicited uint64
	WrongSocket uint64
	IDExhausted uint64
	NoEgress    uint64
	SendFailed  uint64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submitted:   m.submitted.Load(),
		Matched:     m.matched.Load(),
		TimedOut:    m.timedOut.Load(),
		Unsolicited: m.unsolicited.Load(),
		WrongSocket: m.wrongSocket.Load(),
		IDExhausted: m.idExhausted.Load(),
		NoEgress:    m.noEgress.Load(),
		SendFailed:  m.sendFailed.Load(),
	}
}

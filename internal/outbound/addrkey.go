package outbound

import (
	"bytes"
	"net"
)

// family identifies an address family the socket pool and pending index
// care about. Anything that isn't IPv4 or IPv6 falls back to familyOther,
// which is still ordered and compared like any other family value.
type family uint8

const (
	familyOther family = iota
	familyIPv4
	familyIPv6
)

func (f family) String() string {
	switch f {
	case familyIPv4:
		return "ipv4"
	case familyIPv6:
		return "ipv6"
	default:
		return "other"
	}
}

// familyOf classifies a net.IP into the family used for pool selection and
// key comparison. A 4-in-6 mapped address is treated as IPv4, matching
// net.IP.To4's own semantics.
func familyOf(ip net.IP) family {
	if ip == nil {
		return familyOther
	}
	if ip.To4() != nil {
		return familyIPv4
	}
	if ip.To16() != nil {
		return familyIPv6
	}
	return familyOther
}

// pendingKey is the composite key (id, addrlen, family, port, raw address
// bytes) that identifies an in-flight query. It is a plain comparable
// struct so it can be used directly as a Go map key, which gives
// PendingIndex O(1) average insert/lookup/remove instead of an ordered
// tree's O(log N) — a strict improvement that still satisfies every
// uniqueness and lookup invariant a demultiplexer over this key needs.
type pendingKey struct {
	id      uint16
	addrLen uint8
	fam     family
	port    uint16
	addr    [16]byte // only addr[:addrLen] is meaningful
}

// newPendingKey builds the lookup/insert key for a query identified by id
// and addressed to (or received from) addr.
func newPendingKey(id uint16, addr *net.UDPAddr) pendingKey {
	k := pendingKey{id: id, port: uint16(addr.Port)} //nolint:gosec // UDP ports fit uint16
	k.fam = familyOf(addr.IP)

	var raw []byte
	switch k.fam {
	case familyIPv4:
		raw = addr.IP.To4()
	case familyIPv6:
		raw = addr.IP.To16()
	default:
		raw = addr.IP
		if len(raw) > 16 {
			raw = raw[:16]
		}
	}
	k.addrLen = uint8(len(raw)) //nolint:gosec // IPv4/IPv6 raw length is always <= 16
	copy(k.addr[:], raw)
	return k
}

// compare gives pendingKey a total order: id, then addrlen, then family,
// then port (compared as stored bytes, not interpreted), then the raw
// address bytes. It is not used by PendingIndex itself (map equality is
// all insertion/lookup needs) but is kept and tested as a standalone total
// order over addresses, since a future ordered-index backend (e.g. for
// range scans over a destination) could be built directly on top of it.
func (k pendingKey) compare(o pendingKey) int {
	if k.id != o.id {
		return cmpUint16(k.id, o.id)
	}
	if k.addrLen != o.addrLen {
		return cmpUint8(k.addrLen, o.addrLen)
	}
	if k.fam != o.fam {
		return cmpUint8(uint8(k.fam), uint8(o.fam))
	}
	if k.port != o.port {
		return cmpUint16(k.port, o.port)
	}
	return bytes.Compare(k.addr[:k.addrLen], o.addr[:o.addrLen])
}

func cmpUint16(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint8(a, b uint8) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

package outbound

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strconv"
)

// maxBindAttemptsPerSocket bounds how many consecutive resolve/bind
// failures buildFamily tolerates while trying to reach the requested
// count for one family, so a persistently broken interface list fails
// construction instead of looping forever.
const maxBindAttemptsPerSocket = 8

// boundSocket is one entry in the socket pool: an open UDP socket together
// with the bookkeeping the Dispatcher needs to identify it on the reply
// path (the socket identity check).
type boundSocket struct {
	conn *net.UDPConn
	fam  family
	idx  int
}

// socketPool holds the two per-family sequences of bound UDP endpoints.
// Indexing is stable for the pool's lifetime: v4 and v6 are only appended
// to during construction and never mutated afterwards.
type socketPool struct {
	v4 []*boundSocket
	v6 []*boundSocket
}

// newSocketPool opens cfg.PortsPerFamily sockets for each enabled family.
// Construction is all-or-nothing per family: if the requested count can't
// be reached, every socket opened so far (across both families) is closed
// and ErrConstructionShortfall is returned.
func newSocketPool(cfg Config, logger *slog.Logger) (*socketPool, error) {
	sp := &socketPool{}

	if cfg.IPv4Enabled {
		v4, err := buildFamily(familyIPv4, "udp4", cfg)
		if err != nil {
			sp.closeAll()
			return nil, err
		}
		sp.v4 = v4
	}
	if cfg.IPv6Enabled {
		v6, err := buildFamily(familyIPv6, "udp6", cfg)
		if err != nil {
			sp.closeAll()
			return nil, err
		}
		sp.v6 = v6
	}

	logger.Info("outbound socket pool ready",
		"ipv4_sockets", len(sp.v4), "ipv6_sockets", len(sp.v6))
	return sp, nil
}

// buildFamily opens cfg.PortsPerFamily sockets of the given network
// ("udp4" or "udp6"), cycling through cfg.Interfaces (wildcard bind when
// empty) and incrementing cfg.BasePort between attempts when a base port
// was given. A resolve or bind failure is skipped and retried with the
// next port/interface; failures that persist for maxBindAttemptsPerSocket
// consecutive tries abort the family.
func buildFamily(fam family, network string, cfg Config) ([]*boundSocket, error) {
	ifaces := cfg.Interfaces
	if len(ifaces) == 0 {
		ifaces = []string{""}
	}

	socks := make([]*boundSocket, 0, cfg.PortsPerFamily)
	port := cfg.BasePort
	consecutiveFailures := 0

	for i := 0; len(socks) < cfg.PortsPerFamily; i++ {
		if consecutiveFailures >= maxBindAttemptsPerSocket {
			break
		}

		host := ifaces[i%len(ifaces)]
		portStr := "0"
		if port >= 0 {
			portStr = strconv.Itoa(port)
		}

		addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(host, portStr))
		if err != nil {
			consecutiveFailures++
			if port >= 0 {
				port++
			}
			continue
		}

		conn, err := net.ListenUDP(network, addr)
		if err != nil {
			consecutiveFailures++
			if port >= 0 {
				port++
			}
			continue
		}

		if cfg.ReceiveBufferSize > 0 {
			_ = conn.SetReadBuffer(cfg.ReceiveBufferSize)
			_ = conn.SetWriteBuffer(cfg.ReceiveBufferSize)
		}

		consecutiveFailures = 0
		socks = append(socks, &boundSocket{conn: conn, fam: fam, idx: len(socks)})
		if port >= 0 {
			port++
		}
	}

	if len(socks) != cfg.PortsPerFamily {
		for _, s := range socks {
			_ = s.conn.Close()
		}
		return nil, fmt.Errorf("%w: family=%s requested=%d bound=%d",
			ErrConstructionShortfall, fam, cfg.PortsPerFamily, len(socks))
	}
	return socks, nil
}

// listFor returns the pool's socket list for fam, or nil for any other
// family.
func (sp *socketPool) listFor(fam family) []*boundSocket {
	switch fam {
	case familyIPv4:
		return sp.v4
	case familyIPv6:
		return sp.v6
	default:
		return nil
	}
}

// all returns every open socket across both families, used by Dispatcher
// to spawn one reader goroutine per socket.
func (sp *socketPool) all() []*boundSocket {
	out := make([]*boundSocket, 0, len(sp.v4)+len(sp.v6))
	out = append(out, sp.v4...)
	out = append(out, sp.v6...)
	return out
}

// selectSocket draws a uniformly random socket from fam's list using a
// cryptographically seeded source, so the per-query egress socket carries
// real entropy rather than a weak PRNG.
func (sp *socketPool) selectSocket(fam family) (*boundSocket, error) {
	list := sp.listFor(fam)
	if len(list) == 0 {
		return nil, ErrNoEgressForFamily
	}
	i, err := randIndex(len(list))
	if err != nil {
		return nil, err
	}
	return list[i], nil
}

// randIndex draws a uniform random index in [0, n) from crypto/rand,
// clamping defensively so a pathological rand.Int result can't escape the
// valid range.
func randIndex(n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoEgressForFamily
	}
	bound, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	idx := int(bound.Int64())
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx, nil
}

// closeAll closes every socket in the pool. Safe to call on a partially
// constructed pool.
func (sp *socketPool) closeAll() {
	for _, s := range sp.v4 {
		_ = s.conn.Close()
	}
	for _, s := range sp.v6 {
		_ = s.conn.Close()
	}
	sp.v4 = nil
	sp.v6 = nil
}

package outbound

import "fmt"

// Config configures a Dispatcher at construction time. HydraDNS's own
// config.Config carries a matching UpstreamDispatcher section that is
// translated into this struct by the caller (see Runner's resolver-chain
// wiring), the same way UpstreamSocketPoolSize already flows into
// ForwardingResolver.
type Config struct {
	// PortsPerFamily is the number of sockets to open per enabled family.
	// The pool's entropy budget scales with this; 16-256 is the typical
	// range.
	PortsPerFamily int

	// Interfaces lists local addresses to bind to, cycled round-robin
	// across the requested sockets. An empty list binds the wildcard
	// address for each family.
	Interfaces []string

	// IPv4Enabled / IPv6Enabled select which families get a pool built.
	IPv4Enabled bool
	IPv6Enabled bool

	// BasePort, if >= 0, is the first port requested; subsequent sockets
	// for the same family increment it monotonically. -1 requests an
	// OS-chosen ephemeral port for every socket.
	BasePort int

	// ReceiveBufferSize sizes each socket reader's per-goroutine receive
	// buffer. Must be large enough for the largest EDNS response expected
	// from upstream.
	ReceiveBufferSize int
}

// validate checks the fields New actually depends on before attempting any
// socket construction.
func (c Config) validate() error {
	if c.PortsPerFamily <= 0 {
		return fmt.Errorf("outbound: PortsPerFamily must be positive, got %d", c.PortsPerFamily)
	}
	if !c.IPv4Enabled && !c.IPv6Enabled {
		return fmt.Errorf("outbound: at least one of IPv4Enabled/IPv6Enabled must be set")
	}
	if c.ReceiveBufferSize <= 0 {
		return fmt.Errorf("outbound: ReceiveBufferSize must be positive, got %d", c.ReceiveBufferSize)
	}
	return nil
}

package outbound

import (
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testPoolConfig() Config {
	return Config{
		PortsPerFamily:    4,
		Interfaces:        []string{"127.0.0.1"},
		IPv4Enabled:       true,
		BasePort:          -1,
		ReceiveBufferSize: 4096,
	}
}

func TestNewSocketPool_OpensRequestedCount(t *testing.T) {
	cfg := testPoolConfig()
	sp, err := newSocketPool(cfg, discardLogger())
	require.NoError(t, err)
	defer sp.closeAll()

	assert.Len(t, sp.v4, cfg.PortsPerFamily)
	assert.Empty(t, sp.v6)
	assert.Len(t, sp.all(), cfg.PortsPerFamily)
}

func TestNewSocketPool_DistinctPorts(t *testing.T) {
	cfg := testPoolConfig()
	sp, err := newSocketPool(cfg, discardLogger())
	require.NoError(t, err)
	defer sp.closeAll()

	seen := make(map[int]bool)
	for _, s := range sp.v4 {
		port := s.conn.LocalAddr().(*net.UDPAddr).Port
		assert.False(t, seen[port], "sockets must bind distinct ports")
		seen[port] = true
	}
}

func TestSocketPool_SelectSocket_ReturnsFromList(t *testing.T) {
	cfg := testPoolConfig()
	sp, err := newSocketPool(cfg, discardLogger())
	require.NoError(t, err)
	defer sp.closeAll()

	members := make(map[*boundSocket]bool)
	for _, s := range sp.v4 {
		members[s] = true
	}

	for i := 0; i < 50; i++ {
		sock, err := sp.selectSocket(familyIPv4)
		require.NoError(t, err)
		assert.True(t, members[sock])
	}
}

func TestSocketPool_SelectSocket_NoEgressForEmptyFamily(t *testing.T) {
	cfg := testPoolConfig()
	sp, err := newSocketPool(cfg, discardLogger())
	require.NoError(t, err)
	defer sp.closeAll()

	_, err = sp.selectSocket(familyIPv6)
	assert.ErrorIs(t, err, ErrNoEgressForFamily)
}

func TestNewSocketPool_ConstructionShortfall(t *testing.T) {
	cfg := Config{
		PortsPerFamily:    2,
		Interfaces:        []string{"203.0.113.1"}, // TEST-NET-3: never locally assigned
		IPv4Enabled:       true,
		BasePort:          -1,
		ReceiveBufferSize: 4096,
	}

	sp, err := newSocketPool(cfg, discardLogger())
	assert.Nil(t, sp)
	assert.ErrorIs(t, err, ErrConstructionShortfall)
}

func TestRandIndex_StaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		idx, err := randIndex(7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 7)
	}
}

func TestRandIndex_ZeroIsRejected(t *testing.T) {
	_, err := randIndex(0)
	assert.ErrorIs(t, err, ErrNoEgressForFamily)
}

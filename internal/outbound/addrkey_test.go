package outbound

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("resolve %q: %v", s, err)
	}
	return a
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, familyIPv4, familyOf(net.ParseIP("192.0.2.1")))
	assert.Equal(t, familyIPv6, familyOf(net.ParseIP("2001:db8::1")))
	assert.Equal(t, familyOther, familyOf(nil))
}

func TestNewPendingKey_DistinguishesPortAndAddr(t *testing.T) {
	a := udpAddr(t, "192.0.2.1:53")
	b := udpAddr(t, "192.0.2.1:54")
	c := udpAddr(t, "192.0.2.2:53")

	ka := newPendingKey(7, a)
	kb := newPendingKey(7, b)
	kc := newPendingKey(7, c)

	assert.NotEqual(t, ka, kb, "differing ports must produce differing keys")
	assert.NotEqual(t, ka, kc, "differing addresses must produce differing keys")
}

func TestNewPendingKey_DistinguishesID(t *testing.T) {
	addr := udpAddr(t, "192.0.2.1:53")
	k1 := newPendingKey(1, addr)
	k2 := newPendingKey(2, addr)
	assert.NotEqual(t, k1, k2)
}

func TestNewPendingKey_EqualForEqualInputs(t *testing.T) {
	addr := udpAddr(t, "192.0.2.1:53")
	assert.Equal(t, newPendingKey(42, addr), newPendingKey(42, addr))
}

func TestPendingKey_CompareTotalOrder(t *testing.T) {
	lo := newPendingKey(1, udpAddr(t, "192.0.2.1:53"))
	hi := newPendingKey(2, udpAddr(t, "192.0.2.1:53"))

	assert.Equal(t, -1, lo.compare(hi))
	assert.Equal(t, 1, hi.compare(lo))
	assert.Equal(t, 0, lo.compare(lo))
}

func TestPendingKey_CompareOrdersByFamilyWhenIDsEqual(t *testing.T) {
	v4 := newPendingKey(1, udpAddr(t, "192.0.2.1:53"))
	v6 := newPendingKey(1, udpAddr(t, "[2001:db8::1]:53"))

	// Family ordering only matters as a stable total order, not a
	// specific direction; what must hold is that the two compare
	// consistently and non-zero.
	assert.NotEqual(t, 0, v4.compare(v6))
	assert.Equal(t, -v4.compare(v6), v6.compare(v4))
}

package resolvers_test

import (
	"context"
	"testing"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/resolvers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadableCustomDNS_EmptyFallsThrough(t *testing.T) {
	r := resolvers.NewReloadableCustomDNSResolver(nil)
	defer r.Close()

	assert.True(t, r.IsEmpty())

	req := dns.Packet{Questions: []dns.Question{{Name: "www.example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}}}
	_, err := r.Resolve(context.Background(), req, nil)
	assert.ErrorIs(t, err, resolvers.ErrNoCustomDNS)
}

func TestReloadableCustomDNS_ReloadSwapsInPlace(t *testing.T) {
	r := resolvers.NewReloadableCustomDNSResolver(nil)
	defer r.Close()
	require.True(t, r.IsEmpty())

	next, err := resolvers.NewCustomDNSResolver(map[string][]string{
		"www.example.com": {"192.0.2.10"},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, r.Reload(next))
	assert.False(t, r.IsEmpty())
	assert.True(t, r.ContainsDomain("www.example.com"))

	req := dns.Packet{Questions: []dns.Question{{Name: "www.example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}}}
	result, err := r.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom-dns", result.Source)

	// Reloading to nil must disable overrides again without leaking the
	// previous resolver's state.
	require.NoError(t, r.Reload(nil))
	assert.True(t, r.IsEmpty())
	assert.False(t, r.ContainsDomain("www.example.com"))
}

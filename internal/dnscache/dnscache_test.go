// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnscache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/ipaddr"
)

func TestTextToIPPrefersPlainAddress(t *testing.T) {
	r := New()
	ips := r.TextToIP("connection from 203.0.113.5 refused", "no")
	require.Len(t, ips, 1)
	require.Equal(t, "203.0.113.5", ips[0].Ntoa())
}

func TestTextToIPSkipsDNSWhenDisallowed(t *testing.T) {
	r := New()
	ips := r.TextToIP("host.invalid", "no")
	require.Empty(t, ips)
}

func TestGetSelfNamesIncludesLocalhost(t *testing.T) {
	r := New()
	names := r.GetSelfNames()
	require.Contains(t, names, "localhost")
}

func TestSetIPv6AllowedOverridesDetection(t *testing.T) {
	r := New()
	r.SetIPv6Allowed(false)
	require.False(t, r.IPv6IsAllowed())
	r.SetIPv6Allowed(true)
	require.True(t, r.IPv6IsAllowed())
	r.ResetIPv6Allowed()
}

func TestDNSToIPCachesResult(t *testing.T) {
	r := New()
	r.nameToIP.set("cached.example", []*ipaddr.IPAddr{ipaddr.New("198.51.100.7")})
	ips := r.DNSToIP("cached.example")
	require.Len(t, ips, 1)
	require.Equal(t, "198.51.100.7", ips[0].Ntoa())
}

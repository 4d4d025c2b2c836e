// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipaddr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/clock"
)

func TestNewCachesRepeatedParses(t *testing.T) {
	resetCache()
	a := New("198.51.100.7")
	b := New("198.51.100.7")
	require.Same(t, a, b)
}

func TestNewCacheExpiresAfterTTL(t *testing.T) {
	resetCache()
	defer clock.Use(nil)

	mock := clock.NewMockClock(time.Now())
	clock.Use(mock)

	a := New("198.51.100.8")
	mock.Advance(cacheTTL + time.Second)
	b := New("198.51.100.8")

	require.NotSame(t, a, b)
	require.True(t, b.Equal(a))
}

func TestNewCacheDistinguishesCIDR(t *testing.T) {
	resetCache()
	host := New("198.51.100.0")
	net := New("198.51.100.0/24")
	require.True(t, host.IsSingle())
	require.False(t, net.IsSingle())
}

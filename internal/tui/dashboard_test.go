// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"testing"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/metrics"
	"greywall.dev/jaild/internal/server"
)

func TestViewDashboardLoadingState(t *testing.T) {
	m := NewModel(&mockBackend{})
	require.Contains(t, m.viewDashboard(), "loading")
}

func TestViewDashboardNoJailsConfigured(t *testing.T) {
	m := NewModel(&mockBackend{})
	m.Statuses = []server.JailStatus{}
	require.Contains(t, m.viewDashboard(), "no jails configured")
}

func TestViewDashboardRendersJailCard(t *testing.T) {
	m := NewModel(&mockBackend{})
	m.Statuses = []server.JailStatus{
		{Name: "sshd", Active: true, CurrentBanned: 2, TotalBanned: 5, CurrentFailed: 1, TotalFailed: 9, BannedIDs: []string{"203.0.113.5", "198.51.100.9"}},
	}
	m.Totals = []metrics.JailTotals{{Jail: "sshd", Failures: 9}}

	view := m.viewDashboard()
	require.Contains(t, view, "sshd")
	require.Contains(t, view, "ACTIVE")
	require.Contains(t, view, "203.0.113.5")
}

func TestViewDashboardShowsStoppedJail(t *testing.T) {
	m := NewModel(&mockBackend{})
	m.Statuses = []server.JailStatus{{Name: "nginx-http-auth", Active: false}}

	view := m.viewDashboard()
	require.Contains(t, view, "STOPPED")
	require.Contains(t, view, "no active bans")
}

func TestTruncateIDsLimitsOutput(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	out := truncateIDs(ids, 3)
	require.Len(t, out, 4)
	require.Equal(t, "+3 more", out[3])
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"greywall.dev/jaild/internal/metrics"
	"greywall.dev/jaild/internal/server"
)

// mockBackend implements Backend for testing.
type mockBackend struct {
	statuses []server.JailStatus
	totals   []metrics.JailTotals
	err      error
}

func (m *mockBackend) Status(jailName string) ([]server.JailStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.statuses, nil
}

func (m *mockBackend) GetTotals() []metrics.JailTotals {
	return m.totals
}

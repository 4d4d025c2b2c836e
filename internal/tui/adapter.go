// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"greywall.dev/jaild/internal/metrics"
	"greywall.dev/jaild/internal/server"
)

// serverBackend adapts server.Server and metrics.Collector to Backend,
// grounded on the teacher's LocalBackend adapter pattern in this package.
type serverBackend struct {
	srv       *server.Server
	collector *metrics.Collector
}

// NewBackend returns a Backend backed directly by srv and collector, for
// wiring the dashboard into the same process running the jail daemon.
func NewBackend(srv *server.Server, collector *metrics.Collector) Backend {
	return &serverBackend{srv: srv, collector: collector}
}

func (b *serverBackend) Status(jailName string) ([]server.JailStatus, error) {
	return b.srv.Status(jailName, server.FlavorBasic)
}

func (b *serverBackend) GetTotals() []metrics.JailTotals {
	if b.collector == nil {
		return nil
	}
	return b.collector.GetTotals()
}

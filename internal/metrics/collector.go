// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes jaild's ban/failure counters as Prometheus
// metrics, grounded on the teacher's use of
// github.com/prometheus/client_golang for its own firewall counters,
// scoped down to the handful of series a ban daemon actually needs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements server.MetricsSink, incrementing Prometheus
// counters as bans, unbans and failures flow through the server. It
// also keeps a small in-memory rollup so the TUI dashboard can report
// totals without scraping its own /metrics output.
type Collector struct {
	registry *prometheus.Registry

	bansTotal       *prometheus.CounterVec
	unbansTotal     *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	actionLatency   *prometheus.HistogramVec
	currentlyBanned *prometheus.GaugeVec

	mu     sync.RWMutex
	totals map[string]*jailTotals
}

// jailTotals is the in-memory rollup backing GetTotals.
type jailTotals struct {
	Bans     int64
	Unbans   int64
	Failures int64
}

// JailTotals is a snapshot of one jail's counters.
type JailTotals struct {
	Jail     string
	Bans     int64
	Unbans   int64
	Failures int64
}

// NewCollector returns a Collector registered against a fresh
// Prometheus registry, isolated from the default global registry so
// tests can construct as many as they like.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		totals:   make(map[string]*jailTotals),

		bansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jaild",
			Name:      "bans_total",
			Help:      "Number of bans issued, by jail.",
		}, []string{"jail"}),
		unbansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jaild",
			Name:      "unbans_total",
			Help:      "Number of unbans issued, by jail.",
		}, []string{"jail"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jaild",
			Name:      "failures_total",
			Help:      "Number of bans triggered by accumulated failures, by jail.",
		}, []string{"jail"}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jaild",
			Name:      "action_duration_seconds",
			Help:      "Time spent running a ban/unban action command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"jail", "action", "op"}),
		currentlyBanned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jaild",
			Name:      "currently_banned",
			Help:      "Number of currently banned identifiers, by jail.",
		}, []string{"jail"}),
	}

	c.registry.MustRegister(c.bansTotal, c.unbansTotal, c.failuresTotal, c.actionLatency, c.currentlyBanned)
	return c
}

// Registry returns the Prometheus registry backing this collector, for
// wiring into promhttp.HandlerFor in internal/httpapi.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// IncBan implements server.MetricsSink.
func (c *Collector) IncBan(jailName string) {
	c.bansTotal.WithLabelValues(jailName).Inc()
	c.currentlyBanned.WithLabelValues(jailName).Inc()
	c.bump(jailName, func(t *jailTotals) { t.Bans++ })
}

// IncUnban implements server.MetricsSink.
func (c *Collector) IncUnban(jailName string) {
	c.unbansTotal.WithLabelValues(jailName).Inc()
	c.currentlyBanned.WithLabelValues(jailName).Dec()
	c.bump(jailName, func(t *jailTotals) { t.Unbans++ })
}

// IncFailure implements server.MetricsSink.
func (c *Collector) IncFailure(jailName string) {
	c.failuresTotal.WithLabelValues(jailName).Inc()
	c.bump(jailName, func(t *jailTotals) { t.Failures++ })
}

// ObserveActionDuration records how long an action's command (ban,
// unban, start, stop, check) took to run. Not part of server.MetricsSink
// — called directly by internal/action where commands are actually run.
func (c *Collector) ObserveActionDuration(jailName, actionName, op string, d time.Duration) {
	c.actionLatency.WithLabelValues(jailName, actionName, op).Observe(d.Seconds())
}

func (c *Collector) bump(jailName string, f func(*jailTotals)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.totals[jailName]
	if !ok {
		t = &jailTotals{}
		c.totals[jailName] = t
	}
	f(t)
}

// GetTotals returns a snapshot of every jail's counters seen so far,
// used by the TUI dashboard.
func (c *Collector) GetTotals() []JailTotals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]JailTotals, 0, len(c.totals))
	for name, t := range c.totals {
		out = append(out, JailTotals{Jail: name, Bans: t.Bans, Unbans: t.Unbans, Failures: t.Failures})
	}
	return out
}

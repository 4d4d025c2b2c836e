// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package failmanager accumulates per-id failure tickets for a single
// jail until a host crosses the jail's maxRetry threshold, at which
// point it is handed off to the ban manager. Grounded on spec.md
// §4.C, mirroring the mutex-guarded-map idiom the teacher uses for
// its own per-device accumulators.
package failmanager

import (
	"sort"
	"sync"
	"time"

	"greywall.dev/jaild/internal/ticket"
)

// Manager is a per-jail mapping of id to FailTicket.
type Manager struct {
	mu            sync.Mutex
	tickets       map[string]*ticket.FailTicket
	maxRetry      int
	findTime      time.Duration
	maxMatches    int
	totalFailures int
}

// New returns a Manager enforcing maxRetry failures within findTime,
// keeping at most maxMatches matched lines per ticket (0 = unbounded).
func New(maxRetry int, findTime time.Duration, maxMatches int) *Manager {
	return &Manager{
		tickets:    make(map[string]*ticket.FailTicket),
		maxRetry:   maxRetry,
		findTime:   findTime,
		maxMatches: maxMatches,
	}
}

// SetMaxRetry changes the retry threshold used by future ToBan calls.
func (m *Manager) SetMaxRetry(n int) {
	m.mu.Lock()
	m.maxRetry = n
	m.mu.Unlock()
}

// SetFindTime changes the failure window used for rate re-estimation
// and cleanup.
func (m *Manager) SetFindTime(d time.Duration) {
	m.mu.Lock()
	m.findTime = d
	m.mu.Unlock()
}

// MaxRetry returns the current retry threshold.
func (m *Manager) MaxRetry() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxRetry
}

// FindTime returns the current failure window.
func (m *Manager) FindTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findTime
}

// SetMaxMatches changes the per-ticket matched-line cap (0 = unbounded).
func (m *Manager) SetMaxMatches(n int) {
	m.mu.Lock()
	m.maxMatches = n
	m.mu.Unlock()
}

// MaxMatches returns the current per-ticket matched-line cap.
func (m *Manager) MaxMatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxMatches
}

// AddFailure merges t into the manager: an existing entry for the
// same id has its attempts summed and its matches extended (bounded
// by maxMatches) and its rate re-estimated over findTime; otherwise t
// is inserted as a new FailTicket.
func (m *Manager) AddFailure(t *ticket.Ticket) *ticket.FailTicket {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalFailures++
	id := t.ID().Ntoa()
	existing, ok := m.tickets[id]
	if !ok {
		ft := ticket.WrapFail(t)
		if ft.Retry() < 1 {
			ft.SetRetry(1)
		}
		m.truncateMatches(ft)
		m.tickets[id] = ft
		return ft
	}

	existing.AdjustTime(t.Time(), m.findTime)
	existing.Inc(t.Matches(), t.Attempt(), 1)
	if existing.Attempt() == 0 {
		existing.SetAttempt(1)
	}
	m.truncateMatches(existing)
	return existing
}

func (m *Manager) truncateMatches(ft *ticket.FailTicket) {
	if m.maxMatches <= 0 {
		return
	}
	matches := ft.Matches()
	if len(matches) > m.maxMatches {
		ft.SetMatches(matches[len(matches)-m.maxMatches:])
	}
}

// Size returns the number of tracked ids.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

// TotalFailed returns the cumulative count of AddFailure calls ever
// made against this manager, surfaced as JailStatus.TotalFailed.
func (m *Manager) TotalFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFailures
}

// Cleanup evicts every entry whose last failure is older than
// findTime relative to now.
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, ft := range m.tickets {
		if now.Sub(ft.Time()) >= m.findTime {
			delete(m.tickets, id)
			removed++
		}
	}
	return removed
}

// ToBan returns and removes the ban-eligible ticket for id (or, if id
// is empty, the oldest ban-eligible ticket by firstTime) whose retry
// count has reached maxRetry. Returns nil if none qualifies.
func (m *Manager) ToBan(id string) *ticket.FailTicket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		ft, ok := m.tickets[id]
		if !ok || ft.Retry() < m.maxRetry {
			return nil
		}
		delete(m.tickets, id)
		return ft
	}

	var best *ticket.FailTicket
	var bestKey string
	for key, ft := range m.tickets {
		if ft.Retry() < m.maxRetry {
			continue
		}
		if best == nil || ft.FirstTime().Before(best.FirstTime()) {
			best = ft
			bestKey = key
		}
	}
	if best != nil {
		delete(m.tickets, bestKey)
	}
	return best
}

// DrainBans repeatedly calls ToBan("") until no ticket qualifies,
// returning every ban-eligible ticket ordered oldest-firstTime-first.
func (m *Manager) DrainBans() []*ticket.FailTicket {
	var out []*ticket.FailTicket
	for {
		ft := m.ToBan("")
		if ft == nil {
			break
		}
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstTime().Before(out[j].FirstTime()) })
	return out
}

// Get returns the current ticket tracked for id, if any, without
// removing it.
func (m *Manager) Get(id string) (*ticket.FailTicket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ft, ok := m.tickets[id]
	return ft, ok
}

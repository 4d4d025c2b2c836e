// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package banmanager tracks the set of currently active bans for a
// jail, grounded on spec.md §4.D. A Cymru-style status enricher
// (ASN/country/RIR lookups) is modeled as an optional interface but
// left unimplemented — see StatusEnricher. Repeat-offender ban-time
// escalation is handled by IncrementPolicy.
package banmanager

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"greywall.dev/jaild/internal/ticket"
)

// StatusEnricher augments a ban listing with extra per-id metadata
// (e.g. Cymru whois ASN/country/RIR lookups). The core ban manager
// never calls one directly; front-ends (HTTP/TUI/SSH) may attach one
// when rendering `getBanList` results.
type StatusEnricher interface {
	Enrich(id string) map[string]string
}

// Manager is a set of active BanTickets indexed by id.
type Manager struct {
	mu             sync.Mutex
	bans           map[string]*ticket.BanTicket
	banTotal       int
	defaultBanTime int64

	increment IncrementPolicy
	counts    *BanCounts
	rnd       *rand.Rand
}

// New returns a Manager using defaultBanTime (seconds) for tickets
// that don't carry their own ban duration.
func New(defaultBanTime int64) *Manager {
	return &Manager{
		bans:           make(map[string]*ticket.BanTicket),
		defaultBanTime: defaultBanTime,
		counts:         NewBanCounts(),
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetIncrementPolicy installs the bantime.increment escalation policy
// applied by future AddBanTicket calls. The zero value disables it.
func (m *Manager) SetIncrementPolicy(p IncrementPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increment = p
}

// IncrementPolicy returns the currently configured escalation policy.
func (m *Manager) IncrementPolicy() IncrementPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increment
}

// SetBanCounts installs a shared offense counter, for jails whose
// increment policy sets OverallJails. Passing nil reverts to a
// private, jail-scoped counter.
func (m *Manager) SetBanCounts(c *BanCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == nil {
		c = NewBanCounts()
	}
	m.counts = c
}

// SetDefaultBanTime changes the ban duration applied to tickets that
// don't set their own.
func (m *Manager) SetDefaultBanTime(seconds int64) {
	m.mu.Lock()
	m.defaultBanTime = seconds
	m.mu.Unlock()
}

// DefaultBanTime returns the ban duration applied to tickets that
// don't set their own.
func (m *Manager) DefaultBanTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultBanTime
}

// AddBanTicket accepts t into the active ban set, rejecting it if an
// unexpired ban for the same id already exists. Returns true if t was
// newly banned. When an increment policy is installed, t's ban count
// and ban time are escalated in place before acceptance, so actions
// and persistence downstream see the final values.
func (m *Manager) AddBanTicket(t *ticket.BanTicket, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := t.ID().Ntoa()
	if existing, ok := m.bans[id]; ok {
		if !existing.IsTimedOut(now, m.defaultBanTime) {
			return false
		}
	}

	if m.increment.Enabled {
		count := m.counts.Incr(id)
		t.SetBanCount(count, true)
		base := m.defaultBanTime
		if bt := t.BanTime(nil); bt != nil {
			base = *bt
		}
		t.SetBanTime(m.increment.next(base, count, m.rnd))
	}

	m.bans[id] = t
	m.banTotal++
	return true
}

// UnbanList returns and removes every ticket whose ban has expired as
// of now (permanent tickets never match), ordered by end-of-ban
// ascending.
func (m *Manager) UnbanList(now time.Time) []*ticket.BanTicket {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ticket.BanTicket
	for id, t := range m.bans {
		if !t.EndOfBan(m.defaultBanTime).After(now) {
			delete(m.bans, id)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndOfBan(m.defaultBanTime).Before(out[j].EndOfBan(m.defaultBanTime))
	})
	return out
}

// GetBanList returns ids of all active bans, ordered by end-of-ban
// ascending. When withTime is true, each returned entry includes its
// end-of-ban time.
func (m *Manager) GetBanList(withTime bool) []BanListEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BanListEntry, 0, len(m.bans))
	for _, t := range m.bans {
		e := BanListEntry{ID: t.ID().Ntoa()}
		if withTime {
			eob := t.EndOfBan(m.defaultBanTime)
			e.EndOfBan = &eob
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndOfBan == nil || out[j].EndOfBan == nil {
			return out[i].ID < out[j].ID
		}
		return out[i].EndOfBan.Before(*out[j].EndOfBan)
	})
	return out
}

// BanListEntry is one row of GetBanList's output.
type BanListEntry struct {
	ID       string
	EndOfBan *time.Time
}

// Contains reports whether id is currently (unexpired-as-of-now) banned.
func (m *Manager) Contains(id string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bans[id]
	if !ok {
		return false
	}
	return !t.IsTimedOut(now, m.defaultBanTime)
}

// Get returns the active ban ticket for id, if any.
func (m *Manager) Get(id string) (*ticket.BanTicket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bans[id]
	return t, ok
}

// Remove immediately unbans id (used by the `unban` control command),
// returning the removed ticket if one existed.
func (m *Manager) Remove(id string) (*ticket.BanTicket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bans[id]
	if ok {
		delete(m.bans, id)
	}
	return t, ok
}

// Size returns the number of currently active bans.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bans)
}

// BanTotal returns the cumulative number of bans ever accepted by
// this manager (never decreases, even as bans expire).
func (m *Manager) BanTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banTotal
}

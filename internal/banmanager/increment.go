// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package banmanager

import (
	"math"
	"math/rand"
	"sync"
)

// IncrementPolicy configures bantime.increment escalation for repeat
// offenders, grounded on ban/test/servertestcase.py's testBanTimeIncr
// (bantime.increment/multipliers/factor/formula/rndtime/maxtime/
// overalljails). The zero value disables escalation entirely, so
// every existing caller that never touches this field keeps its old
// flat-bantime behavior.
type IncrementPolicy struct {
	Enabled bool

	// Multipliers are positional ban-time factors indexed by prior
	// offense count (index 0 covers the first ban, index 1 the second,
	// and so on); upstream's own default list starts "1 5 30 ...", so
	// the first ban is conventionally left unmodified. The last entry
	// repeats for any further offense beyond the list's length.
	Multipliers []int64

	// Formula selects the default exponential formula (BanTime *
	// exp(float(count)*Factor) / exp(1*Factor)) instead of
	// Multipliers. Arbitrary user-supplied formula strings, as
	// upstream fail2ban's Python-eval'd bantime.formula allows, are
	// not supported — there is no expression-evaluator dependency in
	// reach for it, so only this one fixed formula is offered.
	Formula bool
	Factor  float64

	// RandTime is the width of the uniform jitter window added to the
	// escalated ban time.
	RandTime int64 // seconds

	// MaxTime caps the escalated ban time. 0 means unbounded.
	MaxTime int64 // seconds

	// OverallJails scopes the offense count across every jail sharing
	// the same *BanCounts (see Manager.SetBanCounts), rather than to
	// this jail alone.
	OverallJails bool
}

// next computes the escalated ban time in seconds for the count-th
// time this id has been banned (count is 1 for a first-time offender),
// given baseBanTime as the jail's configured (or ticket-specific) ban
// duration.
func (p IncrementPolicy) next(baseBanTime int64, count int, rnd *rand.Rand) int64 {
	bt := baseBanTime
	if p.Enabled && count > 1 {
		switch {
		case len(p.Multipliers) > 0:
			idx := count - 1
			if idx >= len(p.Multipliers) {
				idx = len(p.Multipliers) - 1
			}
			bt = baseBanTime * p.Multipliers[idx]
		case p.Formula:
			factor := p.Factor
			bt = int64(float64(baseBanTime) * math.Exp(float64(count)*factor) / math.Exp(1*factor))
		}
		if p.RandTime > 0 && rnd != nil {
			bt += rnd.Int63n(p.RandTime + 1)
		}
	}
	if p.MaxTime > 0 && bt > p.MaxTime {
		bt = p.MaxTime
	}
	return bt
}

// BanCounts tracks how many times each id has been banned. A Manager
// owns a private BanCounts by default; SetBanCounts installs a shared
// one so multiple jails can aggregate the same id's offense count
// under bantime.overalljails.
type BanCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewBanCounts returns an empty, independently lockable BanCounts.
func NewBanCounts() *BanCounts {
	return &BanCounts{counts: make(map[string]int)}
}

// Incr records one more offense for id and returns its new total.
func (c *BanCounts) Incr(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id]++
	return c.counts[id]
}

// Count returns id's current offense total without modifying it.
func (c *BanCounts) Count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ticket

import (
	"time"

	"greywall.dev/jaild/internal/clock"
)

// FailTicket extends Ticket with a retry count used by the fail
// manager's incremental ban-time and rate-estimation decisions.
type FailTicket struct {
	Ticket
	firstTime time.Time
	retry     int
}

// NewFail creates a FailTicket for id, seeded with one failure.
func NewFail(id string, at time.Time, matches []string) *FailTicket {
	if at.IsZero() {
		at = clock.Now()
	}
	t := &FailTicket{Ticket: *New(id, at, matches), firstTime: at, retry: 1}
	t.SetAttempt(1)
	return t
}

// WrapFail promotes an existing Ticket to a FailTicket, copying its
// fields and seeding retry from the recorded failure count.
func WrapFail(t *Ticket) *FailTicket {
	ft := &FailTicket{Ticket: *t, firstTime: t.Time()}
	if ft.Attempt() > 0 {
		ft.retry = ft.Attempt()
	} else {
		ft.retry = 1
	}
	return ft
}

// SetRetry sets an artificial retry count (used by BanTimeIncr-style
// incremental ban-time escalation to treat repeat offenders as worse
// than their raw attempt count suggests).
func (t *FailTicket) SetRetry(value int) {
	t.retry = value
	if t.Attempt() == 0 {
		t.SetAttempt(1)
	}
	if value == 0 {
		t.SetAttempt(0)
		t.SetMatches(nil)
	}
}

// Retry returns the current retry count.
func (t *FailTicket) Retry() int { return t.retry }

// FirstTime returns the time of this ticket's first recorded failure.
func (t *FailTicket) FirstTime() time.Time { return t.firstTime }

// AdjustTime expands the ticket's failure window to account for a new
// failure at `at`, re-estimating retry by the rate observed over the
// previous window once it exceeds maxWindow.
func (t *FailTicket) AdjustTime(at time.Time, maxWindow time.Duration) {
	if !at.After(t.Time()) {
		return
	}
	if t.firstTime.Before(at.Add(-maxWindow)) {
		elapsed := at.Sub(t.firstTime)
		if elapsed > 0 {
			t.retry = int(float64(t.retry)/elapsed.Seconds()*maxWindow.Seconds() + 0.5)
		}
		t.firstTime = at.Add(-maxWindow)
	}
	t.SetTime(at)
}

// Inc records another failure: count additional retries, attempt
// delta, and appends matches (if any) to the ticket's recorded lines.
func (t *FailTicket) Inc(matches []string, attempt, count int) {
	t.retry += count
	t.SetAttempt(t.Attempt() + attempt)
	if len(matches) > 0 {
		t.SetMatches(append(t.Matches(), matches...))
	}
}

// BanTicket is a FailTicket that has been accepted into the ban
// manager and is actively enforced.
type BanTicket struct {
	FailTicket
}

// WrapBan promotes a FailTicket into a BanTicket at the moment the ban
// manager accepts it.
func WrapBan(t *FailTicket) *BanTicket {
	bt := &BanTicket{FailTicket: *t}
	bt.SetBanned(true)
	return bt
}

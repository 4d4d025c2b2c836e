// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ticket implements the failure/ban record that flows from
// the filter through the fail manager into the ban manager, grounded
// on ban/server/ticket.py's Ticket/FailTicket/BanTicket hierarchy.
package ticket

import (
	"fmt"
	"time"

	"greywall.dev/jaild/internal/clock"
	"greywall.dev/jaild/internal/ipaddr"
)

// Flag is a bitmask of ticket status flags.
type Flag uint8

const (
	Restored Flag = 1 << 0
	Banned   Flag = 1 << 3
)

// Permanent is the banTime sentinel meaning "never expires".
const Permanent = -1

// maxTime is returned as the end-of-ban instant for a permanent
// ticket — effectively "never", without needing a nilable time.
var maxTime = time.Unix(1<<62, 0)

// Ticket is an immutable-ish record of a failure or ban event, keyed
// by a host identifier that is an IP address when one could be
// parsed, or a free-form id otherwise.
type Ticket struct {
	id       *ipaddr.IPAddr
	flags    Flag
	banCount int
	banTime  *int64 // seconds; nil means "use the caller's default"
	time     time.Time
	data     map[string]any // "matches" []string, "failures" int, plus arbitrary extras
}

// New creates a Ticket for id at the given time (clock.Now() if
// zero), with the supplied matches copied in as the initial failure line(s).
func New(id string, at time.Time, matches []string) *Ticket {
	if at.IsZero() {
		at = clock.Now()
	}
	ms := make([]string, len(matches))
	copy(ms, matches)
	return &Ticket{
		id:   ipaddr.New(id),
		time: at,
		data: map[string]any{"matches": ms, "failures": 0},
	}
}

func (t *Ticket) String() string {
	return fmt.Sprintf("Ticket: ip=%s time=%s bantime=%v bancount=%d #attempts=%d matches=%v",
		t.id, t.time, t.BanTime(nil), t.banCount, t.Attempt(), t.Matches())
}

// Equal implements the ticket equality rule: same id, time rounded to
// hundredths of a second, and same data map.
func (t *Ticket) Equal(other *Ticket) bool {
	if other == nil {
		return false
	}
	if !t.id.Equal(other.id) {
		return false
	}
	if round2(t.time) != round2(other.time) {
		return false
	}
	return dataEqual(t.data, other.data)
}

func round2(t time.Time) int64 {
	return t.UnixNano() / 10000000 // hundredths of a second
}

func dataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valueEqual(v, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	as, aok := a.([]string)
	bs, bok := b.([]string)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

// ID returns the ticket's host identifier.
func (t *Ticket) ID() *ipaddr.IPAddr { return t.id }

// SetID replaces the ticket's host identifier.
func (t *Ticket) SetID(id string) { t.id = ipaddr.New(id) }

// Time returns the ticket's last-failure time.
func (t *Ticket) Time() time.Time { return t.time }

// SetTime overwrites the ticket's last-failure time.
func (t *Ticket) SetTime(v time.Time) { t.time = v }

// BanTime returns the ticket's ban duration in seconds, or def if
// unset. Permanent is returned as-is.
func (t *Ticket) BanTime(def *int64) *int64 {
	if t.banTime != nil {
		return t.banTime
	}
	return def
}

// SetBanTime sets the ticket's ban duration in seconds (Permanent for
// "never expires").
func (t *Ticket) SetBanTime(seconds int64) { t.banTime = &seconds }

// BanCount returns the number of times this id has been (re)banned.
func (t *Ticket) BanCount() int { return t.banCount }

// SetBanCount sets the ban count, unless always is false and value
// would decrease it — mirroring setBanCount(value, always=False).
func (t *Ticket) SetBanCount(value int, always bool) {
	if always || value > t.banCount {
		t.banCount = value
	}
}

// IncrBanCount increments the ban count by delta (default 1).
func (t *Ticket) IncrBanCount(delta int) { t.banCount += delta }

// EndOfBan returns the instant this ban expires, given defaultBanTime
// in seconds if the ticket itself doesn't set one. A Permanent ban
// time yields a time far enough in the future to never trip isTimedOut.
func (t *Ticket) EndOfBan(defaultBanTime int64) time.Time {
	bt := defaultBanTime
	if t.banTime != nil {
		bt = *t.banTime
	}
	if bt == Permanent {
		return maxTime
	}
	return t.time.Add(time.Duration(bt) * time.Second)
}

// IsTimedOut reports whether, as of now, this ban has expired.
func (t *Ticket) IsTimedOut(now time.Time, defaultBanTime int64) bool {
	bt := defaultBanTime
	if t.banTime != nil {
		bt = *t.banTime
	}
	if bt == Permanent {
		return false
	}
	return now.After(t.time.Add(time.Duration(bt) * time.Second))
}

// Attempt returns the recorded failure count.
func (t *Ticket) Attempt() int {
	v, _ := t.data["failures"].(int)
	return v
}

// SetAttempt overwrites the recorded failure count.
func (t *Ticket) SetAttempt(v int) { t.data["failures"] = v }

// Matches returns the log lines that triggered this ticket.
func (t *Ticket) Matches() []string {
	v, _ := t.data["matches"].([]string)
	return v
}

// SetMatches replaces the matched lines, or clears them if matches is empty.
func (t *Ticket) SetMatches(matches []string) {
	if len(matches) == 0 {
		delete(t.data, "matches")
		return
	}
	t.data["matches"] = matches
}

// Restored reports whether the Restored flag is set (ticket loaded
// from the persistent store at startup rather than observed live).
func (t *Ticket) Restored() bool { return t.flags&Restored != 0 }

// SetRestored sets or clears the Restored flag.
func (t *Ticket) SetRestored(v bool) { t.setFlag(Restored, v) }

// IsBanned reports whether the Banned flag is set.
func (t *Ticket) IsBanned() bool { return t.flags&Banned != 0 }

// SetBanned sets or clears the Banned flag.
func (t *Ticket) SetBanned(v bool) { t.setFlag(Banned, v) }

func (t *Ticket) setFlag(f Flag, v bool) {
	if v {
		t.flags |= f
	} else {
		t.flags &^= f
	}
}

// Data returns the arbitrary key/value data carried by the ticket
// (e.g. actionInfo-adjacent extras set by filters and actions).
func (t *Ticket) Data(key string) (any, bool) {
	v, ok := t.data[key]
	return v, ok
}

// SetData sets an arbitrary data key, or deletes it if value is nil.
func (t *Ticket) SetData(key string, value any) {
	if value == nil {
		delete(t.data, key)
		return
	}
	t.data[key] = value
}

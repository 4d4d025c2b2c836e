// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package jail implements the per-jail pipeline: filter → fail
// manager → ban manager → action chain → scheduled unban, grounded on
// spec.md §4.F and the active/idle/exactly-once-onStop lifecycle of
// ban/server/jailthread.py's JailThread.
package jail

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"greywall.dev/jaild/internal/action"
	"greywall.dev/jaild/internal/banmanager"
	"greywall.dev/jaild/internal/clock"
	"greywall.dev/jaild/internal/failmanager"
	"greywall.dev/jaild/internal/filter"
	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/observer"
	"greywall.dev/jaild/internal/ticket"
)

// TickInterval is how often the jail thread checks for expired bans,
// mirroring JailThread's sleeptime.
const TickInterval = time.Second

// Jail drives one filter's fail/ban/action pipeline.
type Jail struct {
	name     string
	filter   *filter.Filter
	failMgr  *failmanager.Manager
	banMgr   *banmanager.Manager
	observer *observer.Observer
	logger   *logging.Logger

	actionsMu    sync.RWMutex
	actionOrder  []string
	actionByName map[string]action.Action

	mu     sync.Mutex
	active bool
	idle   bool
	cancel context.CancelFunc
	done   chan struct{}
	stopOnce sync.Once

	lines chan string

	metaMu         sync.RWMutex
	logPaths       []string
	journalMatches []string
	logEncoding    string
}

// New constructs a jail named name around fm/bm/f, with a buffered
// intake channel for log lines of the given capacity.
func New(name string, f *filter.Filter, fm *failmanager.Manager, bm *banmanager.Manager, obs *observer.Observer, intake int) *Jail {
	if intake <= 0 {
		intake = 256
	}
	return &Jail{
		name:         name,
		filter:       f,
		failMgr:      fm,
		banMgr:       bm,
		observer:     obs,
		logger:       logging.WithComponent("jail." + name),
		lines:        make(chan string, intake),
		done:         make(chan struct{}),
		actionByName: make(map[string]action.Action),
	}
}

// Name returns the jail's name.
func (j *Jail) Name() string { return j.name }

// SetActions replaces the jail's entire action chain with an anonymous
// ordered list (actions are addressable by their own Name()).
func (j *Jail) SetActions(actions []action.Action) {
	j.actionsMu.Lock()
	defer j.actionsMu.Unlock()
	j.actionOrder = j.actionOrder[:0]
	j.actionByName = make(map[string]action.Action, len(actions))
	for _, a := range actions {
		j.actionOrder = append(j.actionOrder, a.Name())
		j.actionByName[a.Name()] = a
	}
}

// AddAction appends a named action to the end of the jail's chain —
// the `set <jail> addaction <ACT>` verb. Replaces an existing action
// of the same name in place rather than duplicating it.
func (j *Jail) AddAction(a action.Action) {
	j.actionsMu.Lock()
	defer j.actionsMu.Unlock()
	name := a.Name()
	if _, exists := j.actionByName[name]; !exists {
		j.actionOrder = append(j.actionOrder, name)
	}
	j.actionByName[name] = a
}

// DelAction removes the named action — the `set <jail> delaction`
// verb. Returns false if no action with that name was configured.
func (j *Jail) DelAction(name string) bool {
	j.actionsMu.Lock()
	defer j.actionsMu.Unlock()
	if _, ok := j.actionByName[name]; !ok {
		return false
	}
	delete(j.actionByName, name)
	for i, n := range j.actionOrder {
		if n == name {
			j.actionOrder = append(j.actionOrder[:i], j.actionOrder[i+1:]...)
			break
		}
	}
	return true
}

// Action returns the named action, if configured.
func (j *Jail) Action(name string) (action.Action, bool) {
	j.actionsMu.RLock()
	defer j.actionsMu.RUnlock()
	a, ok := j.actionByName[name]
	return a, ok
}

// ActionNames returns every configured action name in declaration order.
func (j *Jail) ActionNames() []string {
	j.actionsMu.RLock()
	defer j.actionsMu.RUnlock()
	return append([]string(nil), j.actionOrder...)
}

func (j *Jail) orderedActions() []action.Action {
	j.actionsMu.RLock()
	defer j.actionsMu.RUnlock()
	out := make([]action.Action, 0, len(j.actionOrder))
	for _, n := range j.actionOrder {
		out = append(out, j.actionByName[n])
	}
	return out
}

// Feed delivers one raw log line to the jail for filtering. Never
// blocks indefinitely: if the intake is full, the line is dropped and
// logged, matching the observer's never-block-producers contract.
func (j *Jail) Feed(line string) {
	select {
	case j.lines <- line:
	default:
		j.logger.Warn("intake full, dropping line")
	}
}

// Start sets the active flag and launches the jail's worker goroutine.
// Calling Start twice is a no-op.
func (j *Jail) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active {
		return
	}
	j.active = true
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	go j.runWithRecover(runCtx)
}

// Stop flags the worker to return and waits up to 5s for it to exit
// before giving up, mirroring JailThread.done()'s bounded join.
func (j *Jail) Stop() {
	j.mu.Lock()
	active := j.active
	j.active = false
	cancel := j.cancel
	j.mu.Unlock()
	if !active || cancel == nil {
		return
	}
	cancel()

	j.stopOnce.Do(func() {
		select {
		case <-j.done:
		case <-time.After(5 * time.Second):
			j.logger.Warn("jail worker did not exit within bounded join window")
		}
		j.onStop()
	})
}

// IsActive reports whether the jail's worker goroutine is running.
func (j *Jail) IsActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.active
}

// SetIdle toggles the jail's idle flag, which pauses fail processing
// without tearing down the worker (the `idle` control-socket verb).
func (j *Jail) SetIdle(v bool) {
	j.mu.Lock()
	j.idle = v
	j.mu.Unlock()
}

func (j *Jail) isIdle() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.idle
}

// IsIdle reports whether the jail is currently idle (the `get <jail>
// idle` verb).
func (j *Jail) IsIdle() bool { return j.isIdle() }

func (j *Jail) onStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	actions := j.orderedActions()
	for _, a := range actions {
		if err := a.Stop(ctx); err != nil {
			j.logger.WithError(err).Warn("action stop failed", "action", a.Name())
		}
	}
}

func (j *Jail) runWithRecover(ctx context.Context) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("jail worker panicked", "panic", fmt.Sprint(r))
		}
	}()
	j.run(ctx)
}

func (j *Jail) run(ctx context.Context) {
	for _, a := range j.orderedActions() {
		if c, ok := a.(*action.CommandAction); ok && c.Templates().StartOnDemand {
			continue
		}
		if err := a.Start(ctx); err != nil {
			j.logger.WithError(err).Warn("action start failed", "action", a.Name())
		}
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-j.lines:
			if j.isIdle() {
				continue
			}
			j.processLine(ctx, line)
		case <-ticker.C:
			j.processBans(ctx)
			j.processUnbans(ctx)
		}
	}
}

func (j *Jail) processLine(ctx context.Context, line string) {
	ft, err := j.filter.ProcessLine(ctx, line)
	if err != nil {
		j.logger.Debug("line unparseable", "error", err)
		return
	}
	if ft == nil {
		return
	}
	merged := j.failMgr.AddFailure(&ft.Ticket)
	_ = merged
	j.processBans(ctx)
}

func (j *Jail) processBans(ctx context.Context) {
	for _, ft := range j.failMgr.DrainBans() {
		bt := ticket.WrapBan(ft)
		now := clock.Now()
		if !j.banMgr.AddBanTicket(bt, now) {
			continue
		}
		j.applyBan(ctx, bt, true)
	}
}

// applyBan runs the jail's action chain against a newly accepted ban
// and notifies the observer. viaFailure distinguishes a threshold-
// triggered ban (fires OpNotifyFailure) from a manual `banip` ban.
func (j *Jail) applyBan(ctx context.Context, bt *ticket.BanTicket, viaFailure bool) {
	defBanTime := j.banMgr.DefaultBanTime()
	info := action.Info{
		IP:       bt.ID().Ntoa(),
		Family:   bt.ID().FamilyStr(),
		BanTime:  *bt.BanTime(&defBanTime),
		BanCount: bt.BanCount(),
		Matches:  bt.Matches(),
		Time:     bt.Time().Format(time.RFC3339),
	}

	actions := j.orderedActions()

	for _, a := range actions {
		if ok, err := a.Check(ctx); err == nil && !ok {
			_ = a.Stop(ctx)
			_ = a.Start(ctx)
		}
		if err := a.Ban(ctx, info); err != nil {
			j.logger.WithError(err).Warn("ban action failed", "action", a.Name(), "ip", info.IP)
		}
	}

	if j.observer == nil {
		return
	}
	j.observer.Emit(observer.Event{Op: observer.OpPersistBan, Args: map[string]any{"jail": j.name, "ticket": bt}})
	if viaFailure {
		j.observer.Emit(observer.Event{Op: observer.OpNotifyFailure, Args: map[string]any{"jail": j.name, "id": info.IP}})
	}
	if bt.BanCount() > 1 {
		var banTime int64
		if v := bt.BanTime(nil); v != nil {
			banTime = *v
		}
		j.observer.Emit(observer.Event{Op: observer.OpBanTimeIncrement, Args: map[string]any{
			"jail": j.name, "id": info.IP, "count": bt.BanCount(), "banTime": banTime,
		}})
	}
}

// ManualBan immediately bans id, bypassing the filter — the `banip`
// control verb. Returns false if id is already banned.
func (j *Jail) ManualBan(ctx context.Context, id string) bool {
	now := clock.Now()
	ft := ticket.NewFail(id, now, nil)
	bt := ticket.WrapBan(ft)
	if !j.banMgr.AddBanTicket(bt, now) {
		return false
	}
	j.applyBan(ctx, bt, false)
	return true
}

// ManualUnban immediately unbans id — the `unbanip` control verb.
// Returns false if id was not banned.
func (j *Jail) ManualUnban(ctx context.Context, id string) bool {
	normalized := ticket.NewFail(id, clock.Now(), nil).ID().Ntoa()
	bt, ok := j.banMgr.Remove(normalized)
	if !ok {
		return false
	}
	defBanTime := j.banMgr.DefaultBanTime()
	info := action.Info{IP: bt.ID().Ntoa(), Family: bt.ID().FamilyStr(), BanTime: *bt.BanTime(&defBanTime), BanCount: bt.BanCount()}
	actions := j.orderedActions()
	for _, a := range actions {
		if err := a.Unban(ctx, info); err != nil {
			j.logger.WithError(err).Warn("unban action failed", "action", a.Name(), "ip", info.IP)
		}
	}
	return true
}

// Attempt manually registers one or more failures for id — the
// `attempt` control verb — and applies the usual threshold logic.
func (j *Jail) Attempt(ctx context.Context, id string, matches []string) {
	if len(matches) == 0 {
		matches = []string{id}
	}
	t := ticket.New(id, clock.Now(), matches)
	j.failMgr.AddFailure(t)
	j.processBans(ctx)
}

// FailManager exposes the jail's fail manager for the `set <jail>
// findtime/maxretry/maxmatches` verbs.
func (j *Jail) FailManager() *failmanager.Manager { return j.failMgr }

// BanManager exposes the jail's ban manager for the `set <jail>
// bantime` verb and `get <jail> banip` queries.
func (j *Jail) BanManager() *banmanager.Manager { return j.banMgr }

// Filter exposes the jail's filter for the ignoreip/failregex/
// datepattern/usedns family of verbs.
func (j *Jail) Filter() *filter.Filter { return j.filter }

// AddLogPath registers path as a monitored log source (the daemon's
// log-tailer component, external to this package, feeds matching
// lines in via Feed). No-op if already registered.
func (j *Jail) AddLogPath(path string) {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()
	for _, p := range j.logPaths {
		if p == path {
			return
		}
	}
	j.logPaths = append(j.logPaths, path)
}

// DelLogPath removes path from the monitored log source list.
func (j *Jail) DelLogPath(path string) bool {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()
	for i, p := range j.logPaths {
		if p == path {
			j.logPaths = append(j.logPaths[:i], j.logPaths[i+1:]...)
			return true
		}
	}
	return false
}

// LogPaths returns the jail's monitored log source list.
func (j *Jail) LogPaths() []string {
	j.metaMu.RLock()
	defer j.metaMu.RUnlock()
	return append([]string(nil), j.logPaths...)
}

// AddJournalMatch registers a systemd-journal match expression.
func (j *Jail) AddJournalMatch(match string) {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()
	j.journalMatches = append(j.journalMatches, match)
}

// DelJournalMatch removes a previously registered journal match.
func (j *Jail) DelJournalMatch(match string) bool {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()
	for i, m := range j.journalMatches {
		if m == match {
			j.journalMatches = append(j.journalMatches[:i], j.journalMatches[i+1:]...)
			return true
		}
	}
	return false
}

// JournalMatches returns the jail's registered journal match expressions.
func (j *Jail) JournalMatches() []string {
	j.metaMu.RLock()
	defer j.metaMu.RUnlock()
	return append([]string(nil), j.journalMatches...)
}

// SetLogEncoding changes the declared encoding of the jail's log files.
func (j *Jail) SetLogEncoding(enc string) {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()
	j.logEncoding = enc
}

// LogEncoding returns the jail's declared log file encoding.
func (j *Jail) LogEncoding() string {
	j.metaMu.RLock()
	defer j.metaMu.RUnlock()
	if j.logEncoding == "" {
		return "UTF-8"
	}
	return j.logEncoding
}

func (j *Jail) processUnbans(ctx context.Context) {
	now := clock.Now()
	expired := j.banMgr.UnbanList(now)
	sort.Slice(expired, func(i, k int) bool { return expired[i].ID().Ntoa() < expired[k].ID().Ntoa() })

	actions := j.orderedActions()

	for _, bt := range expired {
		defBanTime := j.banMgr.DefaultBanTime()
		info := action.Info{IP: bt.ID().Ntoa(), Family: bt.ID().FamilyStr(), BanTime: *bt.BanTime(&defBanTime), BanCount: bt.BanCount()}
		for _, a := range actions {
			if err := a.Unban(ctx, info); err != nil {
				j.logger.WithError(err).Warn("unban action failed", "action", a.Name(), "ip", info.IP)
			}
		}
		if j.observer != nil {
			j.observer.Emit(observer.Event{Op: observer.OpPersistUnban, Args: map[string]any{"jail": j.name, "ticket": bt}})
		}
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package server is the central hub of jaild: it holds the jail map,
// global settings, and the observer shared across jails, and exposes
// the operations the transmitter dispatches into, grounded on
// spec.md §4.I and the Server-struct-as-hub shape of
// internal/ctlplane/server.go, scoped down to what a ban daemon needs.
package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"greywall.dev/jaild/internal/action"
	"greywall.dev/jaild/internal/banmanager"
	"greywall.dev/jaild/internal/errors"
	"greywall.dev/jaild/internal/failmanager"
	"greywall.dev/jaild/internal/filter"
	"greywall.dev/jaild/internal/ipaddr"
	"greywall.dev/jaild/internal/jail"
	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/observer"
	"greywall.dev/jaild/internal/ticket"
)

var log = logging.WithComponent("server")

// MetricsSink receives counter/gauge updates as bans and failures
// flow through the server. Satisfied by internal/metrics.Collector;
// kept as a narrow local interface so server doesn't import metrics
// directly.
type MetricsSink interface {
	IncBan(jailName string)
	IncUnban(jailName string)
	IncFailure(jailName string)
}

// AuditSink receives a structured record of every lifecycle and
// configuration event the server processes. Satisfied by
// internal/audit.Logger.
type AuditSink interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

// Store records bans as they are applied and lifted. Satisfied by
// internal/store's SQLite-backed adapter; nil disables persistence.
// Nothing in jaild reads the rows back at startup.
type Store interface {
	SaveBan(jailName, id string, banTime int64, banCount int, at time.Time) error
	DeleteBan(jailName, id string) error
	LoadBans(jailName string) ([]StoredBan, error)
	PurgeOlderThan(cutoff time.Time) (int, error)
	Close() error
}

// StoredBan is one row loaded back from Store.LoadBans.
type StoredBan struct {
	ID       string
	BanTime  int64
	BanCount int
	At       time.Time
}

// record wraps a running jail with the metadata addJail/status need.
type record struct {
	j         *jail.Jail
	backend   string
	createdAt time.Time
	filter    *filter.Filter
	failMgr   *failmanager.Manager
	banMgr    *banmanager.Manager
}

// Settings are the global, server-wide knobs mutated by the `set`
// verbs that take no jail argument.
type Settings struct {
	LogLevel      string
	LogTarget     string
	SyslogSocket  string
	DbFile        string
	DbMaxMatches  int
	DbPurgeAge    time.Duration
	AllowIPv6     string // "auto", "yes", "no"
}

// Server is the process-wide hub: the jail map, global settings, and
// the single observer shared by every jail.
type Server struct {
	mu       sync.RWMutex
	jails    map[string]*record
	order    []string // insertion order, for deterministic `status --all`
	settings Settings
	running  bool
	started  time.Time

	observer  *observer.Observer
	metrics   MetricsSink
	auditSink AuditSink
	store     Store

	overallBanCounts *banmanager.BanCounts

	version string
}

// New returns an idle Server. Call Start to bring up the observer.
func New(version string) *Server {
	s := &Server{
		jails:            make(map[string]*record),
		settings:         Settings{LogLevel: "INFO", LogTarget: "STDERR", AllowIPv6: "auto"},
		observer:         observer.New(1024),
		overallBanCounts: banmanager.NewBanCounts(),
		version:          version,
	}
	s.observer.On(observer.OpPersistBan, s.onPersistBan)
	s.observer.On(observer.OpPersistUnban, s.onPersistUnban)
	s.observer.On(observer.OpBanTimeIncrement, s.onBanTimeIncrement)
	s.observer.On(observer.OpNotifyFailure, s.onNotifyFailure)
	return s
}

// SetMetricsSink installs the metrics collector. Nil disables metrics.
func (s *Server) SetMetricsSink(m MetricsSink) { s.metrics = m }

// SetAuditSink installs the audit logger. Nil disables audit records.
func (s *Server) SetAuditSink(a AuditSink) { s.auditSink = a }

// SetStore installs the persistence adapter. Nil disables persistence.
func (s *Server) SetStore(st Store) { s.store = st }

// Start brings up the observer and marks the server running. Matches
// the `start` verb.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.observer.Start()
	s.running = true
	s.started = time.Now()
	s.auditLocked(ctx, "server.start", nil)
	log.Info("server started")
	return nil
}

// Quit stops every jail, then the observer, in that order. Matches
// the `quit` verb.
func (s *Server) Quit(ctx context.Context) error {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.running = false
	s.mu.Unlock()

	for _, name := range names {
		_ = s.StopJail(name)
	}

	if err := s.observer.Stop(ctx); err != nil {
		log.Warn("observer did not stop cleanly", "error", err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}
	s.auditLocked(ctx, "server.quit", nil)
	log.Info("server stopped")
	return nil
}

// Reload re-applies unban (if requested) across every jail; restart
// semantics (stop+start per jail) are left to the caller issuing
// stopJail/startJail pairs, mirroring fail2ban's `reload --restart`
// being a thin wrapper over the same primitives.
func (s *Server) Reload(ctx context.Context, unban bool) error {
	if !unban {
		return nil
	}
	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for _, name := range names {
		rec, ok := s.getRecord(name)
		if !ok {
			continue
		}
		for _, entry := range rec.banMgr.GetBanList(false) {
			rec.banMgr.Remove(entry.ID)
		}
	}
	return nil
}

// Ping always succeeds once the server has started.
func (s *Server) Ping() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return errors.New(errors.KindBusy, "server not started")
	}
	return nil
}

// Version returns the daemon's reported version string.
func (s *Server) Version() string { return s.version }

// Echo returns its argument unchanged, for protocol round-trip tests.
func (s *Server) Echo(args string) string { return args }

// AddJail registers a new, stopped jail named name with the given
// backend tag (a free-form string describing the log source, e.g.
// "polling" or "systemd"). "--all" is reserved and rejected.
func (s *Server) AddJail(name, backend string, cfg filter.Config, maxRetry int, findTime time.Duration, maxMatches int, defaultBanTime int64) error {
	if name == "--all" {
		return errors.New(errors.KindInvalidArgument, "jail name --all is reserved")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jails[name]; ok {
		return errors.Errorf(errors.KindAlreadyExists, "jail %q already exists", name)
	}

	f := filter.New(cfg, nil)
	fm := failmanager.New(maxRetry, findTime, maxMatches)
	bm := banmanager.New(defaultBanTime)
	j := jail.New(name, f, fm, bm, s.observer, 256)

	s.jails[name] = &record{j: j, backend: backend, createdAt: time.Now(), filter: f, failMgr: fm, banMgr: bm}
	s.order = append(s.order, name)
	s.auditLocked(context.Background(), "jail.add", map[string]any{"jail": name, "backend": backend})
	return nil
}

// SetJailActions installs the ordered action chain for an existing,
// previously-added jail.
func (s *Server) SetJailActions(name string, actions []action.Action) error {
	rec, ok := s.getRecord(name)
	if !ok {
		return errors.Errorf(errors.KindNotFound, "no such jail %q", name)
	}
	rec.j.SetActions(actions)
	return nil
}

// StartJail starts the named jail's worker goroutine.
func (s *Server) StartJail(name string) error {
	rec, ok := s.getRecord(name)
	if !ok {
		return errors.Errorf(errors.KindNotFound, "no such jail %q", name)
	}
	rec.j.Start(context.Background())
	s.audit(context.Background(), "jail.start", map[string]any{"jail": name})
	return nil
}

// StopJail stops the named jail's worker goroutine.
func (s *Server) StopJail(name string) error {
	rec, ok := s.getRecord(name)
	if !ok {
		return errors.Errorf(errors.KindNotFound, "no such jail %q", name)
	}
	rec.j.Stop()
	s.audit(context.Background(), "jail.stop", map[string]any{"jail": name})
	return nil
}

// JailNames returns every registered jail name in addJail order.
func (s *Server) JailNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Jail returns the low-level pieces of a registered jail, for the
// transmitter's `set <jail> ...` verbs.
func (s *Server) Jail(name string) (*jail.Jail, *filter.Filter, *failmanager.Manager, *banmanager.Manager, bool) {
	rec, ok := s.getRecord(name)
	if !ok {
		return nil, nil, nil, nil, false
	}
	return rec.j, rec.filter, rec.failMgr, rec.banMgr, true
}

// OverallBanCounts returns the daemon-wide shared offense counter, for
// jails whose bantime.increment policy sets OverallJails.
func (s *Server) OverallBanCounts() *banmanager.BanCounts {
	return s.overallBanCounts
}

func (s *Server) getRecord(name string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jails[name]
	return rec, ok
}

// Status flavor names accepted by the `status` verb.
const (
	FlavorBasic = "basic"
	FlavorCymru = "cymru"
	FlavorShort = "short"
	FlavorStats = "stats"
)

// JailStatus is one jail's status report, shaped per spec.md's
// status flavors.
type JailStatus struct {
	Name          string
	Active        bool
	CurrentFailed int
	TotalFailed   int
	CurrentBanned int
	TotalBanned   int
	BannedIDs     []string
}

// Status reports one jail's current state, or every jail's if name is
// empty. flavor selects the output shape; an empty or unrecognized
// flavor narrows to FlavorBasic, matching fail2ban-client's own
// "unknown flavor falls back to basic" behavior.
func (s *Server) Status(name, flavor string) ([]JailStatus, error) {
	flavor = normalizeFlavor(flavor)
	if name != "" {
		rec, ok := s.getRecord(name)
		if !ok {
			return nil, errors.Errorf(errors.KindNotFound, "no such jail %q", name)
		}
		return []JailStatus{statusOf(name, rec, flavor)}, nil
	}
	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()
	out := make([]JailStatus, 0, len(names))
	for _, n := range names {
		rec, _ := s.getRecord(n)
		out = append(out, statusOf(n, rec, flavor))
	}
	return out, nil
}

// normalizeFlavor maps any unrecognized token to FlavorBasic rather
// than erroring, since fail2ban-client itself treats an invalid
// flavor argument as "basic" (see testJailStatusBasicKwarg).
func normalizeFlavor(flavor string) string {
	switch flavor {
	case FlavorCymru, FlavorShort, FlavorStats:
		return flavor
	default:
		return FlavorBasic
	}
}

// statusOf shapes one jail's report for flavor. FlavorShort drops the
// failure counters and banned-IP list down to the bare active/banned
// totals. FlavorStats adds the failure counters back but still omits
// the IP list. FlavorBasic and FlavorCymru carry the full report;
// cymru additionally annotates each banned entry with ASN/country/RIR
// data in upstream fail2ban via a whois.cymru.com DNS lookup, which
// this daemon does not perform (no resolver dependency in reach for
// it), so cymru here is basic's equivalent.
func statusOf(name string, rec *record, flavor string) JailStatus {
	st := JailStatus{
		Name:          name,
		Active:        rec.j.IsActive(),
		CurrentBanned: rec.banMgr.Size(),
		TotalBanned:   rec.banMgr.BanTotal(),
	}
	if flavor == FlavorShort {
		return st
	}

	st.CurrentFailed = rec.failMgr.Size()
	st.TotalFailed = rec.failMgr.TotalFailed()
	if flavor == FlavorStats {
		return st
	}

	list := rec.banMgr.GetBanList(false)
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.ID
	}
	sort.Strings(ids)
	st.BannedIDs = ids
	return st
}

// Stats aggregates totals across every jail for the `stats` verb.
type Stats struct {
	JailCount       int
	TotalBanned     int
	CurrentlyBanned int
}

// Stats returns daemon-wide aggregate counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()
	var st Stats
	st.JailCount = len(names)
	for _, n := range names {
		rec, ok := s.getRecord(n)
		if !ok {
			continue
		}
		st.TotalBanned += rec.banMgr.BanTotal()
		st.CurrentlyBanned += rec.banMgr.Size()
	}
	return st
}

// SetLogLevel updates the global log level setting.
func (s *Server) SetLogLevel(lvl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.LogLevel = lvl
	return nil
}

// LogLevel returns the current global log level setting.
func (s *Server) LogLevel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.LogLevel
}

// SetLogTarget updates the global log target setting.
func (s *Server) SetLogTarget(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.LogTarget = target
	return nil
}

// LogTarget returns the current global log target setting.
func (s *Server) LogTarget() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.LogTarget
}

// SetSyslogSocket updates the syslog socket path ("auto" or an
// explicit path).
func (s *Server) SetSyslogSocket(socket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.SyslogSocket = socket
	return nil
}

// SetDbFile records the persistence file path reported by
// `get dbfile`; the open store is not reopened. Rejected with Busy if
// any jail already exists.
func (s *Server) SetDbFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jails) > 0 {
		return errors.New(errors.KindBusy, "cannot change dbfile while jails exist")
	}
	s.settings.DbFile = path
	return nil
}

// SetDbMaxMatches records the per-ticket matched-line cap reported by
// `get dbmaxmatches`. No jail reads it; AddJail takes its own cap.
func (s *Server) SetDbMaxMatches(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DbMaxMatches = n
	return nil
}

// SetDbPurgeAge records the ban-record retention age reported by
// `get dbpurgeage`. Nothing purges by it.
func (s *Server) SetDbPurgeAge(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DbPurgeAge = d
	return nil
}

// SetAllowIPv6 records the global IPv6-allowed tri-state ("auto",
// "yes", "no") reported by `get allowipv6`; no lookup reads it.
func (s *Server) SetAllowIPv6(v string) error {
	switch v {
	case "auto", "yes", "no":
	default:
		return errors.Errorf(errors.KindInvalidArgument, "allowipv6 must be auto, yes, or no, got %q", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.AllowIPv6 = v
	return nil
}

// FlushLogs is a hook point for re-opening the log target (e.g. after
// logrotate). It only logs the request; no target, including a file
// target, is reopened.
func (s *Server) FlushLogs() error {
	log.Info("flushlogs requested")
	return nil
}

// Settings returns a copy of the current global settings.
func (s *Server) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Unban removes id from every jail that currently bans it, returning
// the count of jails it was removed from.
func (s *Server) Unban(ctx context.Context, id string) int {
	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()
	n := 0
	parsed := ipaddr.New(id)
	for _, name := range names {
		rec, ok := s.getRecord(name)
		if !ok {
			continue
		}
		if _, ok := rec.banMgr.Remove(parsed.Ntoa()); ok {
			n++
		}
	}
	return n
}

func (s *Server) audit(ctx context.Context, event string, fields map[string]any) {
	if s.auditSink != nil {
		s.auditSink.Record(ctx, event, fields)
	}
}

func (s *Server) auditLocked(ctx context.Context, event string, fields map[string]any) {
	s.audit(ctx, event, fields)
}

func (s *Server) onPersistBan(ctx context.Context, ev observer.Event) {
	jailName, _ := ev.Args["jail"].(string)
	bt, _ := ev.Args["ticket"].(*ticket.BanTicket)
	if bt == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.IncBan(jailName)
	}
	if s.store != nil {
		var banTime int64
		if v := bt.BanTime(nil); v != nil {
			banTime = *v
		}
		if err := s.store.SaveBan(jailName, bt.ID().Ntoa(), banTime, bt.BanCount(), bt.Time()); err != nil {
			log.Warn("store save ban failed", "jail", jailName, "error", err)
		}
	}
	s.audit(ctx, "jail.ban", map[string]any{"jail": jailName, "id": bt.ID().Ntoa(), "bancount": bt.BanCount()})
}

func (s *Server) onPersistUnban(ctx context.Context, ev observer.Event) {
	jailName, _ := ev.Args["jail"].(string)
	bt, _ := ev.Args["ticket"].(*ticket.BanTicket)
	if bt == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.IncUnban(jailName)
	}
	if s.store != nil {
		if err := s.store.DeleteBan(jailName, bt.ID().Ntoa()); err != nil {
			log.Warn("store delete ban failed", "jail", jailName, "error", err)
		}
	}
	s.audit(ctx, "jail.unban", map[string]any{"jail": jailName, "id": bt.ID().Ntoa()})
}

// onBanTimeIncrement records a bantime.increment escalation for audit
// trails; the escalation itself already happened synchronously in
// banmanager.Manager.AddBanTicket before the ban's actions ran.
func (s *Server) onBanTimeIncrement(ctx context.Context, ev observer.Event) {
	jailName, _ := ev.Args["jail"].(string)
	id, _ := ev.Args["id"].(string)
	count, _ := ev.Args["count"].(int)
	banTime, _ := ev.Args["banTime"].(int64)
	s.audit(ctx, "jail.bantime_increment", map[string]any{
		"jail": jailName, "id": id, "count": count, "bantime": banTime,
	})
}

// onNotifyFailure records that a ban was triggered by accumulated
// failures (as opposed to a manual `banip`), feeding the failure
// counter and any notification-action hooks.
func (s *Server) onNotifyFailure(ctx context.Context, ev observer.Event) {
	jailName, _ := ev.Args["jail"].(string)
	id, _ := ev.Args["id"].(string)
	if s.metrics != nil {
		s.metrics.IncFailure(jailName)
	}
	s.audit(ctx, "jail.notify_failure", map[string]any{"jail": jailName, "id": id})
}

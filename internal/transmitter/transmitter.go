// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package transmitter dispatches a parsed control-socket command
// vector into the corresponding internal/server and internal/jail
// operation, grounded on ban/protocol.py's CmdProtocol command table
// and spec.md §4.J/§6. It knows nothing about how the command vector
// arrived on the wire — internal/ctlsock owns framing.
package transmitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"greywall.dev/jaild/internal/action"
	"greywall.dev/jaild/internal/clock"
	"greywall.dev/jaild/internal/errors"
	"greywall.dev/jaild/internal/filter"
	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/server"
)

var log = logging.WithComponent("transmitter")

// Transmitter dispatches command vectors into a Server.
type Transmitter struct {
	srv *server.Server
}

// New returns a Transmitter backed by srv.
func New(srv *server.Server) *Transmitter {
	return &Transmitter{srv: srv}
}

// Dispatch runs one command vector, returning (0, value) on success
// and (1, errorMessage) otherwise — the two-element reply envelope
// spec.md §4.J and protocol.py's CmdProtocol both describe. Unknown
// verbs and malformed argument counts are reported the same way as
// any other error: they never panic the caller.
func (t *Transmitter) Dispatch(ctx context.Context, args []string) (code int, value any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command panicked", "args", args, "panic", fmt.Sprint(r))
			code, value = 1, fmt.Sprintf("internal error: %v", r)
		}
	}()

	if len(args) == 0 {
		return fail(errors.New(errors.KindInvalidArgument, "empty command"))
	}
	verb := strings.ToLower(args[0])
	rest := args[1:]

	switch verb {
	case "start":
		if len(rest) > 0 {
			return result(nil, t.srv.StartJail(rest[0]))
		}
		return result(nil, t.srv.Start(ctx))
	case "quit", "stop":
		if verb == "stop" && len(rest) > 0 {
			return result(nil, t.srv.StopJail(rest[0]))
		}
		return result(nil, t.srv.Quit(ctx))
	case "restart":
		return t.restart(ctx, rest)
	case "reload":
		return t.reload(ctx, rest)
	case "ping":
		return result("pong", t.srv.Ping())
	case "echo":
		return ok(strings.Join(rest, " "))
	case "version":
		return ok(t.srv.Version())
	case "status":
		return t.status(rest)
	case "stats":
		return ok(t.srv.Stats())
	case "add":
		return t.add(rest)
	case "unban":
		return t.unban(ctx, rest)
	case "banned":
		return t.banned(rest)
	case "flushlogs":
		return result(nil, t.srv.FlushLogs())
	case "set":
		return t.set(ctx, rest)
	case "get":
		return t.get(rest)
	default:
		return fail(errors.Errorf(errors.KindInvalidArgument, "unknown command %q", verb))
	}
}

func ok(v any) (int, any)             { return 0, v }
func fail(err error) (int, any)       { return 1, err.Error() }
func result(v any, err error) (int, any) {
	if err != nil {
		return fail(err)
	}
	return ok(v)
}

// restartFlags parses the boolean switches common to restart/reload,
// returning them plus whatever non-flag tokens remain (in order).
func restartFlags(rest []string) (unban, ifExists, all, restart bool, args []string) {
	for _, a := range rest {
		switch a {
		case "--unban":
			unban = true
		case "--if-exists":
			ifExists = true
		case "--all":
			all = true
		case "--restart":
			restart = true
		default:
			args = append(args, a)
		}
	}
	return
}

// unbanJail clears every active ban in name without running unban
// actions, matching restart/reload --unban's "drop bookkeeping, the
// process restart/ruleset reload handles enforcement" semantics.
func (t *Transmitter) unbanJail(name string) {
	_, _, _, bm, ok := t.srv.Jail(name)
	if !ok {
		return
	}
	for _, entry := range bm.GetBanList(false) {
		bm.Remove(entry.ID)
	}
}

func (t *Transmitter) restart(ctx context.Context, rest []string) (int, any) {
	unban, ifExists, all, _, args := restartFlags(rest)
	if !all && len(args) == 0 {
		return fail(errors.New(errors.KindInvalidArgument, "restart requires --all or a jail name"))
	}

	names := args
	if all {
		names = t.srv.JailNames()
	}
	for _, name := range names {
		if _, _, _, _, ok := t.srv.Jail(name); !ok {
			if ifExists {
				continue
			}
			return fail(errors.Errorf(errors.KindNotFound, "no such jail %q", name))
		}
		if unban {
			t.unbanJail(name)
		}
		if err := t.srv.StopJail(name); err != nil {
			return fail(err)
		}
		if err := t.srv.StartJail(name); err != nil {
			return fail(err)
		}
	}
	return ok(nil)
}

func (t *Transmitter) reload(ctx context.Context, rest []string) (int, any) {
	unban, ifExists, all, doRestart, args := restartFlags(rest)

	if all || len(args) == 0 {
		// No jail named (or --all given): the daemon-wide form, same as
		// classic fail2ban-client reload.
		if err := t.srv.Reload(ctx, unban); err != nil {
			return fail(err)
		}
		if doRestart {
			for _, name := range t.srv.JailNames() {
				_ = t.srv.StopJail(name)
				if err := t.srv.StartJail(name); err != nil {
					return fail(err)
				}
			}
		}
		return ok(nil)
	}

	for _, name := range args {
		if _, _, _, _, ok := t.srv.Jail(name); !ok {
			if ifExists {
				continue
			}
			return fail(errors.Errorf(errors.KindNotFound, "no such jail %q", name))
		}
		if unban {
			t.unbanJail(name)
		}
		if doRestart {
			_ = t.srv.StopJail(name)
			if err := t.srv.StartJail(name); err != nil {
				return fail(err)
			}
		}
	}
	return ok(nil)
}

func (t *Transmitter) status(rest []string) (int, any) {
	name, flavor := "", ""
	args := rest
	if len(args) > 0 && args[0] == "--all" {
		args = args[1:]
	} else if len(args) > 0 {
		name = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		flavor = args[0]
	}

	statuses, err := t.srv.Status(name, flavor)
	if err != nil {
		return fail(err)
	}
	if name != "" {
		return ok(statuses[0])
	}
	return ok(statuses)
}

func (t *Transmitter) add(rest []string) (int, any) {
	if len(rest) < 1 {
		return fail(errors.New(errors.KindInvalidArgument, "add requires a jail name"))
	}
	name := rest[0]
	backend := "auto"
	if len(rest) > 1 {
		backend = rest[1]
	}
	cfg := filter.Config{MaxRetry: 3, FindTime: 10 * time.Minute, MaxLines: 1}
	err := t.srv.AddJail(name, backend, cfg, 3, 10*time.Minute, 0, 600)
	return result(nil, err)
}

func (t *Transmitter) unban(ctx context.Context, rest []string) (int, any) {
	if len(rest) == 0 {
		return fail(errors.New(errors.KindInvalidArgument, "unban requires --all or one or more ids"))
	}
	total := 0
	if rest[0] == "--all" {
		for _, name := range t.srv.JailNames() {
			j, _, _, bm, ok := t.srv.Jail(name)
			if !ok {
				continue
			}
			for _, entry := range bm.GetBanList(false) {
				if j.ManualUnban(ctx, entry.ID) {
					total++
				}
			}
		}
		return ok(total)
	}
	for _, id := range rest {
		total += t.srv.Unban(ctx, id)
	}
	return ok(total)
}

func (t *Transmitter) banned(rest []string) (int, any) {
	if len(rest) == 0 {
		out := make(map[string][]string)
		for _, name := range t.srv.JailNames() {
			_, _, _, bm, ok := t.srv.Jail(name)
			if !ok {
				continue
			}
			ids := make([]string, 0)
			for _, e := range bm.GetBanList(false) {
				ids = append(ids, e.ID)
			}
			sort.Strings(ids)
			out[name] = ids
		}
		return ok(out)
	}
	out := make([]int, len(rest))
	for i, id := range rest {
		count := 0
		for _, name := range t.srv.JailNames() {
			_, _, _, bm, ok := t.srv.Jail(name)
			if !ok {
				continue
			}
			if _, banned := bm.Get(id); banned {
				count++
			}
		}
		out[i] = count
	}
	return ok(out)
}

// jailGlobalSetVerbs are `set` sub-verbs that take no jail argument —
// everything else is dispatched as `set <JAIL> <subverb> ...`.
var jailGlobalSetVerbs = map[string]bool{
	"loglevel": true, "logtarget": true, "syslogsocket": true,
	"dbfile": true, "dbmaxmatches": true, "dbpurgeage": true,
	"allowipv6": true,
}

func (t *Transmitter) set(ctx context.Context, rest []string) (int, any) {
	if len(rest) == 0 {
		return fail(errors.New(errors.KindInvalidArgument, "set requires a sub-command"))
	}
	head := strings.ToLower(rest[0])
	if jailGlobalSetVerbs[head] {
		return t.setGlobal(head, rest[1:])
	}
	if len(rest) < 2 {
		return fail(errors.Errorf(errors.KindInvalidArgument, "set %s requires a sub-command", rest[0]))
	}
	return t.setJail(ctx, rest[0], strings.ToLower(rest[1]), rest[2:])
}

func (t *Transmitter) setGlobal(verb string, args []string) (int, any) {
	arg := strings.Join(args, " ")
	switch verb {
	case "loglevel":
		return result(arg, t.srv.SetLogLevel(arg))
	case "logtarget":
		return result(arg, t.srv.SetLogTarget(arg))
	case "syslogsocket":
		return result(arg, t.srv.SetSyslogSocket(arg))
	case "dbfile":
		return result(arg, t.srv.SetDbFile(arg))
	case "dbmaxmatches":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "dbmaxmatches must be an integer"))
		}
		return result(n, t.srv.SetDbMaxMatches(n))
	case "dbpurgeage":
		d, err := ParseInterval(arg)
		if err != nil {
			return fail(err)
		}
		return result(int64(d.Seconds()), t.srv.SetDbPurgeAge(d))
	case "allowipv6":
		return result(arg, t.srv.SetAllowIPv6(arg))
	}
	return fail(errors.Errorf(errors.KindInvalidArgument, "unknown global set verb %q", verb))
}

func (t *Transmitter) setJail(ctx context.Context, jailName, verb string, args []string) (int, any) {
	j, f, fm, bm, found := t.srv.Jail(jailName)
	if !found {
		return fail(errors.Errorf(errors.KindNotFound, "no such jail %q", jailName))
	}
	arg := strings.Join(args, " ")

	switch verb {
	case "idle":
		v, err := ParseBool(arg)
		if err != nil {
			return fail(err)
		}
		j.SetIdle(v)
		return ok(v)
	case "ignoreself":
		v, err := ParseBool(arg)
		if err != nil {
			return fail(err)
		}
		f.SetIgnoreSelf(v)
		return ok(v)
	case "addignoreip":
		for _, ip := range args {
			f.AddIgnoreIP(ip)
		}
		return ok(arg)
	case "delignoreip":
		for _, ip := range args {
			f.DelIgnoreIP(ip)
		}
		return ok(arg)
	case "ignorecommand":
		f.SetIgnoreCommand(arg)
		return ok(arg)
	case "ignorecache":
		d, err := ParseInterval(arg)
		if err != nil {
			return fail(err)
		}
		f.SetIgnoreCache(d)
		return ok(int64(d.Seconds()))
	case "addlogpath":
		if len(args) == 0 {
			return fail(errors.New(errors.KindInvalidArgument, "addlogpath requires a path"))
		}
		j.AddLogPath(args[0])
		return ok(args[0])
	case "dellogpath":
		if len(args) == 0 {
			return fail(errors.New(errors.KindInvalidArgument, "dellogpath requires a path"))
		}
		j.DelLogPath(args[0])
		return ok(args[0])
	case "logencoding":
		j.SetLogEncoding(arg)
		return ok(arg)
	case "addjournalmatch":
		j.AddJournalMatch(arg)
		return ok(arg)
	case "deljournalmatch":
		j.DelJournalMatch(arg)
		return ok(arg)
	case "addfailregex":
		if err := f.AddFailRegex(arg); err != nil {
			return fail(err)
		}
		return ok(arg)
	case "delfailregex":
		idx, err := strconv.Atoi(arg)
		if err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "delfailregex requires an index"))
		}
		if err := f.DelFailRegex(idx); err != nil {
			return fail(err)
		}
		return ok(idx)
	case "addignoreregex":
		if err := f.AddIgnoreRegex(arg); err != nil {
			return fail(err)
		}
		return ok(arg)
	case "delignoreregex":
		idx, err := strconv.Atoi(arg)
		if err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "delignoreregex requires an index"))
		}
		if err := f.DelIgnoreRegex(idx); err != nil {
			return fail(err)
		}
		return ok(idx)
	case "findtime":
		d, err := ParseInterval(arg)
		if err != nil {
			return fail(err)
		}
		f.SetFindTime(d)
		fm.SetFindTime(d)
		return ok(int64(d.Seconds()))
	case "bantime":
		d, err := ParseInterval(arg)
		if err != nil {
			return fail(err)
		}
		bm.SetDefaultBanTime(int64(d.Seconds()))
		return ok(int64(d.Seconds()))
	case "datepattern":
		f.SetDatePattern(arg)
		return ok(arg)
	case "usedns":
		f.SetUseDNS(arg)
		return ok(arg)
	case "maxretry":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "maxretry must be an integer"))
		}
		f.SetMaxRetry(n)
		fm.SetMaxRetry(n)
		return ok(n)
	case "maxmatches":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "maxmatches must be an integer"))
		}
		f.SetMaxMatches(n)
		fm.SetMaxMatches(n)
		return ok(n)
	case "maxlines":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "maxlines must be an integer"))
		}
		f.SetMaxLines(n)
		return ok(n)
	case "attempt":
		if len(args) == 0 {
			return fail(errors.New(errors.KindInvalidArgument, "attempt requires an id"))
		}
		j.Attempt(ctx, args[0], args[1:])
		return ok(args[0])
	case "banip":
		if len(args) == 0 {
			return fail(errors.New(errors.KindInvalidArgument, "banip requires one or more ids"))
		}
		n := 0
		for _, id := range args {
			if j.ManualBan(ctx, id) {
				n++
			}
		}
		return ok(n)
	case "unbanip":
		ids := args
		reportAbsent := false
		if len(ids) > 0 && ids[0] == "--report-absent" {
			reportAbsent = true
			ids = ids[1:]
		}
		if len(ids) == 0 {
			return fail(errors.New(errors.KindInvalidArgument, "unbanip requires one or more ids"))
		}
		n := 0
		for _, id := range ids {
			if j.ManualUnban(ctx, id) {
				n++
			} else if reportAbsent {
				return fail(errors.Errorf(errors.KindNotFound, "%s is not banned", id))
			}
		}
		return ok(n)
	case "addaction":
		return t.setAddAction(j, args)
	case "delaction":
		if len(args) == 0 {
			return fail(errors.New(errors.KindInvalidArgument, "delaction requires a name"))
		}
		if !j.DelAction(args[0]) {
			return fail(errors.Errorf(errors.KindNotFound, "no such action %q", args[0]))
		}
		return ok(args[0])
	case "action":
		return t.setAction(j, args)
	}
	return fail(errors.Errorf(errors.KindInvalidArgument, "unknown jail set verb %q", verb))
}

func (t *Transmitter) setAddAction(j jailLike, args []string) (int, any) {
	if len(args) == 0 {
		return fail(errors.New(errors.KindInvalidArgument, "addaction requires a name"))
	}
	name := args[0]
	if len(args) == 1 {
		j.AddAction(action.NewCommand(name, action.CommandTemplates{}, nil))
		return ok(name)
	}
	kind := args[1]
	opts := map[string]string{}
	if len(args) > 2 {
		if err := json.Unmarshal([]byte(strings.Join(args[2:], " ")), &opts); err != nil {
			return fail(errors.Wrap(err, errors.KindInvalidArgument, "addaction kwargs must be a JSON object"))
		}
	}
	a, err := action.New(kind, name, opts)
	if err != nil {
		return fail(err)
	}
	j.AddAction(a)
	return ok(name)
}

// jailLike is the subset of *jail.Jail the addaction/action handlers
// need; kept narrow so this file doesn't have to import internal/jail
// just for a type name.
type jailLike interface {
	AddAction(a action.Action)
	Action(name string) (action.Action, bool)
}

func (t *Transmitter) setAction(j jailLike, args []string) (int, any) {
	if len(args) < 2 {
		return fail(errors.New(errors.KindInvalidArgument, "set <jail> action requires a name and property"))
	}
	name, prop := args[0], strings.ToLower(args[1])
	value := strings.Join(args[2:], " ")
	a, ok2 := j.Action(name)
	if !ok2 {
		return fail(errors.Errorf(errors.KindNotFound, "no such action %q", name))
	}
	cmd, isCommand := a.(*action.CommandAction)
	if !isCommand {
		return fail(errors.Errorf(errors.KindInvalidArgument, "action %q is not a command action, properties are fixed", name))
	}
	switch prop {
	case "actionstart":
		cmd.SetStart(value)
	case "actionstop":
		cmd.SetStop(value)
	case "actioncheck":
		cmd.SetCheck(value)
	case "actionban":
		cmd.SetBan(value)
	case "actionunban":
		cmd.SetUnban(value)
	case "timeout":
		d, err := ParseInterval(value)
		if err != nil {
			return fail(err)
		}
		cmd.SetTimeout(d)
	default:
		return fail(errors.Errorf(errors.KindInvalidArgument, "unknown action property %q", prop))
	}
	return ok(value)
}

var jailGlobalGetVerbs = map[string]bool{
	"loglevel": true, "logtarget": true, "syslogsocket": true,
	"dbfile": true, "dbmaxmatches": true, "dbpurgeage": true,
	"allowipv6": true,
}

func (t *Transmitter) get(rest []string) (int, any) {
	if len(rest) == 0 {
		return fail(errors.New(errors.KindInvalidArgument, "get requires a sub-command"))
	}
	head := strings.ToLower(rest[0])
	if jailGlobalGetVerbs[head] {
		return t.getGlobal(head)
	}
	if len(rest) < 2 {
		return fail(errors.Errorf(errors.KindInvalidArgument, "get %s requires a sub-command", rest[0]))
	}
	return t.getJail(rest[0], strings.ToLower(rest[1]), rest[2:])
}

func (t *Transmitter) getGlobal(verb string) (int, any) {
	settings := t.srv.Settings()
	switch verb {
	case "loglevel":
		return ok(settings.LogLevel)
	case "logtarget":
		return ok(settings.LogTarget)
	case "syslogsocket":
		return ok(settings.SyslogSocket)
	case "dbfile":
		return ok(settings.DbFile)
	case "dbmaxmatches":
		return ok(settings.DbMaxMatches)
	case "dbpurgeage":
		return ok(int64(settings.DbPurgeAge.Seconds()))
	case "allowipv6":
		return ok(settings.AllowIPv6)
	}
	return fail(errors.Errorf(errors.KindInvalidArgument, "unknown global get verb %q", verb))
}

func (t *Transmitter) getJail(jailName, verb string, args []string) (int, any) {
	j, f, _, bm, found := t.srv.Jail(jailName)
	if !found {
		return fail(errors.Errorf(errors.KindNotFound, "no such jail %q", jailName))
	}
	switch verb {
	case "idle":
		return ok(j.IsIdle())
	case "ignoreself":
		return ok(f.IgnoreSelf())
	case "ignoreip":
		return ok(f.IgnoreIPList())
	case "ignorecommand":
		return ok(f.IgnoreCommand())
	case "logpath":
		return ok(j.LogPaths())
	case "journalmatch":
		return ok(j.JournalMatches())
	case "logencoding":
		return ok(j.LogEncoding())
	case "failregex":
		return ok(f.FailRegexList())
	case "ignoreregex":
		return ok(f.IgnoreRegexList())
	case "findtime":
		return ok(int64(f.FindTime().Seconds()))
	case "bantime":
		return ok(bm.DefaultBanTime())
	case "datepattern":
		return ok(f.DatePattern())
	case "usedns":
		return ok(f.UseDNS())
	case "maxretry":
		return ok(f.MaxRetry())
	case "maxmatches":
		return ok(f.MaxMatches())
	case "maxlines":
		return ok(f.MaxLines())
	case "banip":
		withTime := len(args) > 0 && args[0] == "--with-time"
		list := bm.GetBanList(withTime)
		if !withTime {
			ids := make([]string, len(list))
			for i, e := range list {
				ids[i] = e.ID
			}
			return ok(ids)
		}
		out := make([]map[string]any, len(list))
		for i, e := range list {
			row := map[string]any{"id": e.ID}
			if e.EndOfBan != nil {
				row["timeofban"] = e.EndOfBan.Unix()
			}
			out[i] = row
		}
		return ok(out)
	case "banned":
		// get <JAIL> banned [<IP>...], distinct from the daemon-wide
		// "banned" verb: scoped to this jail only, per protocol.py's
		// jail-level CmdProtocol.__getBanned.
		if len(args) == 0 {
			ids := make([]string, 0)
			for _, e := range bm.GetBanList(false) {
				ids = append(ids, e.ID)
			}
			return ok(ids)
		}
		out := make([]int, len(args))
		now := clock.Now()
		for i, id := range args {
			if bm.Contains(id, now) {
				out[i] = 1
			}
		}
		return ok(out)
	case "actions":
		return ok(j.ActionNames())
	}
	return fail(errors.Errorf(errors.KindInvalidArgument, "unknown jail get verb %q", verb))
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package action

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"greywall.dev/jaild/internal/errors"
	"greywall.dev/jaild/internal/logging"
)

// CommandTemplates holds the shell command templates configured for
// one jail action — the actionstart/actionstop/actioncheck/
// actionban/actionunban tags of the classic INI action format.
type CommandTemplates struct {
	Start           string
	Stop            string
	Check           string
	Ban             string
	Unban           string
	StartOnDemand   bool
	Timeout         time.Duration
}

// DurationSink receives the wall-clock time spent running one of an
// action's commands. Satisfied by internal/metrics.Collector; kept as
// a narrow local interface so this package doesn't import metrics.
type DurationSink interface {
	ObserveActionDuration(jailName, actionName, op string, d time.Duration)
}

// CommandAction runs shell commands rendered from CommandTemplates via
// the system shell, matching fail2ban's `actionban = iptables ...`
// style actions.
type CommandAction struct {
	name string
	tmpl CommandTemplates
	tags map[string]string

	mu      sync.Mutex
	started bool

	metricsMu sync.RWMutex
	jailName  string
	metrics   DurationSink
}

// SetMetricsSink installs a duration sink and the jail name it should
// be reported under. Nil disables reporting. Guarded by its own lock
// since run() reads it while Start/Stop already hold a.mu.
func (a *CommandAction) SetMetricsSink(jailName string, sink DurationSink) {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	a.jailName = jailName
	a.metrics = sink
}

// NewCommand returns a CommandAction named name, rendering tmpl's
// commands against the shared tags map (typically the jail's
// `action <jailname>` block attributes).
func NewCommand(name string, tmpl CommandTemplates, tags map[string]string) *CommandAction {
	if tmpl.Timeout == 0 {
		tmpl.Timeout = 60 * time.Second
	}
	return &CommandAction{name: name, tmpl: tmpl, tags: tags}
}

func (a *CommandAction) Name() string { return a.name }

func (a *CommandAction) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.tmpl.Start == "" {
		a.started = true
		return nil
	}
	if err := a.run(ctx, "start", a.tmpl.Start, a.tags); err != nil {
		return errors.Wrapf(err, errors.KindBackend, "action %s: actionstart failed", a.name)
	}
	a.started = true
	return nil
}

func (a *CommandAction) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.tmpl.Stop == "" {
		a.started = false
		return nil
	}
	err := a.run(ctx, "stop", a.tmpl.Stop, a.tags)
	a.started = false
	if err != nil {
		return errors.Wrapf(err, errors.KindBackend, "action %s: actionstop failed", a.name)
	}
	return nil
}

func (a *CommandAction) Check(ctx context.Context) (bool, error) {
	if a.tmpl.Check == "" {
		return true, nil
	}
	err := a.run(ctx, "check", a.tmpl.Check, a.tags)
	if err != nil {
		logging.WithComponent("action").Debug("actioncheck failed", "action", a.name, "error", err)
		return false, nil
	}
	return true, nil
}

func (a *CommandAction) Ban(ctx context.Context, info Info) error {
	return a.runEnsureStarted(ctx, "ban", a.tmpl.Ban, info)
}

func (a *CommandAction) Unban(ctx context.Context, info Info) error {
	return a.runEnsureStarted(ctx, "unban", a.tmpl.Unban, info)
}

func (a *CommandAction) runEnsureStarted(ctx context.Context, op, tmpl string, info Info) error {
	if tmpl == "" {
		return nil
	}
	if a.tmpl.StartOnDemand {
		if err := a.Start(ctx); err != nil {
			return err
		}
	}
	tags := mergeTags(a.tags, info.Tags())
	if err := a.run(ctx, op, tmpl, tags); err != nil {
		return errors.Wrapf(err, errors.KindBackend, "action %s: command failed", a.name)
	}
	return nil
}

func (a *CommandAction) run(ctx context.Context, op, tmpl string, tags map[string]string) error {
	cmd, err := Render(tmpl, tags)
	if err != nil {
		return err
	}
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, a.tmpl.Timeout)
	defer cancel()
	c := exec.CommandContext(runCtx, "/bin/sh", "-c", cmd)
	out, err := c.CombinedOutput()
	a.metricsMu.RLock()
	sink, jailName := a.metrics, a.jailName
	a.metricsMu.RUnlock()
	if sink != nil {
		sink.ObserveActionDuration(jailName, a.name, op, time.Since(start))
	}
	if err != nil {
		logging.WithComponent("action").Warn("command failed", "action", a.name, "output", string(out), "error", err)
		return err
	}
	return nil
}

// SetStart changes the actionstart command template.
func (a *CommandAction) SetStart(cmd string) { a.mu.Lock(); a.tmpl.Start = cmd; a.mu.Unlock() }

// SetStop changes the actionstop command template.
func (a *CommandAction) SetStop(cmd string) { a.mu.Lock(); a.tmpl.Stop = cmd; a.mu.Unlock() }

// SetCheck changes the actioncheck command template.
func (a *CommandAction) SetCheck(cmd string) { a.mu.Lock(); a.tmpl.Check = cmd; a.mu.Unlock() }

// SetBan changes the actionban command template.
func (a *CommandAction) SetBan(cmd string) { a.mu.Lock(); a.tmpl.Ban = cmd; a.mu.Unlock() }

// SetUnban changes the actionunban command template.
func (a *CommandAction) SetUnban(cmd string) { a.mu.Lock(); a.tmpl.Unban = cmd; a.mu.Unlock() }

// SetTimeout changes the per-command timeout.
func (a *CommandAction) SetTimeout(d time.Duration) { a.mu.Lock(); a.tmpl.Timeout = d; a.mu.Unlock() }

// Templates returns a copy of the action's current command templates.
func (a *CommandAction) Templates() CommandTemplates {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tmpl
}

func mergeTags(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

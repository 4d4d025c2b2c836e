// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package action implements the jail's response pipeline: shell
// command templates (CommandAction) and pluggable in-process Go
// handlers (ScriptedAction), grounded on spec.md §4.G.
package action

import (
	"context"
	"fmt"
)

// Info carries the lazily-substituted values available to an action's
// templates and handlers for one ban/unban call: ip, family, bantime,
// bancount, matches, time, plus whatever extra tags the jail adds.
type Info struct {
	IP       string
	Family   string
	BanTime  int64
	BanCount int
	Matches  []string
	Time     string
	Extra    map[string]string
}

// Tags renders Info as a flat tag map for template substitution.
func (i Info) Tags() map[string]string {
	tags := map[string]string{
		"ip":       i.IP,
		"family":   i.Family,
		"bantime":  fmt.Sprintf("%d", i.BanTime),
		"bancount": fmt.Sprintf("%d", i.BanCount),
		"time":     i.Time,
	}
	if len(i.Matches) > 0 {
		joined := ""
		for n, m := range i.Matches {
			if n > 0 {
				joined += "\n"
			}
			joined += m
		}
		tags["matches"] = joined
	}
	for k, v := range i.Extra {
		tags[k] = v
	}
	return tags
}

// Action is the capability interface the jail drives: every
// registered action for a jail is started once, consulted with
// Check/Ban/Unban per event, and stopped on jail teardown.
type Action interface {
	// Name identifies the action for logs and `action status`.
	Name() string
	// Start runs any one-time setup (e.g. creating a backing chain).
	// Called lazily on first use when actionstart_on_demand is set,
	// otherwise eagerly when the jail starts.
	Start(ctx context.Context) error
	// Stop tears down what Start created.
	Stop(ctx context.Context) error
	// Check verifies the action's environment is still intact before
	// a ban. If it returns false, the jail restarts the action
	// (Stop then Start) once before retrying the ban.
	Check(ctx context.Context) (bool, error)
	// Ban applies the action for a newly accepted ban.
	Ban(ctx context.Context, info Info) error
	// Unban reverses Ban for an expired or manually lifted ban.
	Unban(ctx context.Context, info Info) error
}

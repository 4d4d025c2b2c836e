// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	jailName, actionName, op string
	duration                 time.Duration
	calls                    int
}

func (r *recordingSink) ObserveActionDuration(jailName, actionName, op string, d time.Duration) {
	r.jailName, r.actionName, r.op, r.duration = jailName, actionName, op, d
	r.calls++
}

func TestCommandActionReportsDurationToSink(t *testing.T) {
	a := NewCommand("iptables-multiport", CommandTemplates{Ban: "true"}, nil)
	sink := &recordingSink{}
	a.SetMetricsSink("sshd", sink)

	require.NoError(t, a.Ban(context.Background(), Info{IP: "198.51.100.1"}))
	require.Equal(t, 1, sink.calls)
	require.Equal(t, "sshd", sink.jailName)
	require.Equal(t, "iptables-multiport", sink.actionName)
	require.Equal(t, "ban", sink.op)
}

func TestCommandActionSettersUpdateTemplates(t *testing.T) {
	a := NewCommand("drop", CommandTemplates{}, nil)
	a.SetStart("echo start")
	a.SetStop("echo stop")
	a.SetCheck("true")
	a.SetBan("echo ban <ip>")
	a.SetUnban("echo unban <ip>")
	a.SetTimeout(5 * time.Second)

	tmpl := a.Templates()
	require.Equal(t, "echo start", tmpl.Start)
	require.Equal(t, "echo stop", tmpl.Stop)
	require.Equal(t, "true", tmpl.Check)
	require.Equal(t, "echo ban <ip>", tmpl.Ban)
	require.Equal(t, "echo unban <ip>", tmpl.Unban)
	require.Equal(t, 5*time.Second, tmpl.Timeout)
}

func TestCommandActionWithNoMetricsSinkDoesNotPanic(t *testing.T) {
	a := NewCommand("drop", CommandTemplates{Ban: "true"}, nil)
	require.NoError(t, a.Ban(context.Background(), Info{IP: "198.51.100.2"}))
}

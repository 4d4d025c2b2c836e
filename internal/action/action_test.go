// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesTags(t *testing.T) {
	out, err := Render("iptables -A INPUT -s <ip> -j DROP", map[string]string{"ip": "192.0.2.1"})
	require.NoError(t, err)
	require.Equal(t, "iptables -A INPUT -s 192.0.2.1 -j DROP", out)
}

func TestRenderResolvesNestedTags(t *testing.T) {
	out, err := Render("<cmd>", map[string]string{"cmd": "echo <ip>", "ip": "192.0.2.1"})
	require.NoError(t, err)
	require.Equal(t, "echo 192.0.2.1", out)
}

func TestRenderErrorsOnUnresolvedTag(t *testing.T) {
	_, err := Render("echo <missing>", map[string]string{})
	require.Error(t, err)
}

func TestCommandActionBanRunsTemplate(t *testing.T) {
	a := NewCommand("drop", CommandTemplates{
		Ban: "true", // always-succeeds shell builtin
	}, map[string]string{})
	err := a.Ban(context.Background(), Info{IP: "192.0.2.1"})
	require.NoError(t, err)
}

func TestCommandActionCheckReturnsFalseOnFailure(t *testing.T) {
	a := NewCommand("drop", CommandTemplates{Check: "false"}, nil)
	ok, err := a.Check(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScriptedActionRegistryRoundTrip(t *testing.T) {
	Register("test-noop", func(name string, opts map[string]string) (Action, error) {
		return &noopAction{name: name}, nil
	})
	a, err := New("test-noop", "myaction", nil)
	require.NoError(t, err)
	require.Equal(t, "myaction", a.Name())

	_, err = New("does-not-exist", "x", nil)
	require.Error(t, err)
}

type noopAction struct{ name string }

func (n *noopAction) Name() string                                      { return n.name }
func (n *noopAction) Start(context.Context) error                       { return nil }
func (n *noopAction) Stop(context.Context) error                        { return nil }
func (n *noopAction) Check(context.Context) (bool, error)                { return true, nil }
func (n *noopAction) Ban(context.Context, Info) error                   { return nil }
func (n *noopAction) Unban(context.Context, Info) error                 { return nil }

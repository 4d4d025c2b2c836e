// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package server

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/action"
	"greywall.dev/jaild/internal/errors"
	"greywall.dev/jaild/internal/filter"
)

type noopAction struct{ banned, unbanned int }

func (n *noopAction) Name() string                       { return "noop" }
func (n *noopAction) Start(context.Context) error        { return nil }
func (n *noopAction) Stop(context.Context) error         { return nil }
func (n *noopAction) Check(context.Context) (bool, error) { return true, nil }
func (n *noopAction) Ban(context.Context, action.Info) error {
	n.banned++
	return nil
}
func (n *noopAction) Unban(context.Context, action.Info) error {
	n.unbanned++
	return nil
}

func testFilterConfig() filter.Config {
	return filter.Config{
		FailRegex: []*regexp.Regexp{regexp.MustCompile(`^Failed login from (?P<HOST>\S+)$`)},
	}
}

func TestServerStartQuitLifecycle(t *testing.T) {
	s := New("1.0.0-test")
	require.Error(t, s.Ping())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Ping())
	require.NoError(t, s.Quit(context.Background()))
}

func TestAddJailRejectsReservedNameAndDuplicate(t *testing.T) {
	s := New("1.0.0-test")
	require.NoError(t, s.Start(context.Background()))
	defer s.Quit(context.Background())

	err := s.AddJail("--all", "polling", testFilterConfig(), 3, time.Minute, 0, 3600)
	require.Error(t, err)
	require.Equal(t, errors.KindInvalidArgument, errors.GetKind(err))

	require.NoError(t, s.AddJail("sshd", "polling", testFilterConfig(), 3, time.Minute, 0, 3600))
	err = s.AddJail("sshd", "polling", testFilterConfig(), 3, time.Minute, 0, 3600)
	require.Error(t, err)
	require.Equal(t, errors.KindAlreadyExists, errors.GetKind(err))
}

func TestJailStartStopAndStatus(t *testing.T) {
	s := New("1.0.0-test")
	require.NoError(t, s.Start(context.Background()))
	defer s.Quit(context.Background())

	require.NoError(t, s.AddJail("sshd", "polling", testFilterConfig(), 2, time.Minute, 0, 3600))
	act := &noopAction{}
	require.NoError(t, s.SetJailActions("sshd", []action.Action{act}))
	require.NoError(t, s.StartJail("sshd"))

	j, _, _, _, ok := s.Jail("sshd")
	require.True(t, ok)
	require.True(t, j.IsActive())

	j.Feed("Failed login from 192.0.2.1")
	j.Feed("Failed login from 192.0.2.1")

	require.Eventually(t, func() bool { return act.banned == 1 }, time.Second, 5*time.Millisecond)

	st, err := s.Status("sshd", "")
	require.NoError(t, err)
	require.Len(t, st, 1)
	require.Equal(t, 1, st[0].CurrentBanned)
	require.Equal(t, 2, st[0].TotalFailed)
	require.Len(t, st[0].BannedIDs, 1)

	short, err := s.Status("sshd", FlavorShort)
	require.NoError(t, err)
	require.Equal(t, 1, short[0].CurrentBanned)
	require.Nil(t, short[0].BannedIDs)
	require.Zero(t, short[0].TotalFailed)

	stats, err := s.Status("sshd", FlavorStats)
	require.NoError(t, err)
	require.Equal(t, 2, stats[0].TotalFailed)
	require.Nil(t, stats[0].BannedIDs)

	unknown, err := s.Status("sshd", "nonsense")
	require.NoError(t, err)
	require.Equal(t, st[0], unknown[0])

	require.NoError(t, s.StopJail("sshd"))
	require.False(t, j.IsActive())
}

func TestSetDbFileRejectedWhenJailsExist(t *testing.T) {
	s := New("1.0.0-test")
	require.NoError(t, s.Start(context.Background()))
	defer s.Quit(context.Background())

	require.NoError(t, s.AddJail("sshd", "polling", testFilterConfig(), 3, time.Minute, 0, 3600))
	err := s.SetDbFile("/tmp/other.db")
	require.Error(t, err)
	require.Equal(t, errors.KindBusy, errors.GetKind(err))
}

func TestSetAllowIPv6ValidatesEnum(t *testing.T) {
	s := New("1.0.0-test")
	require.NoError(t, s.SetAllowIPv6("yes"))
	require.Error(t, s.SetAllowIPv6("maybe"))
}

func TestUnbanAcrossJails(t *testing.T) {
	s := New("1.0.0-test")
	require.NoError(t, s.Start(context.Background()))
	defer s.Quit(context.Background())

	require.NoError(t, s.AddJail("sshd", "polling", testFilterConfig(), 1, time.Minute, 0, 3600))
	require.NoError(t, s.SetJailActions("sshd", []action.Action{&noopAction{}}))
	require.NoError(t, s.StartJail("sshd"))

	j, _, _, bm, _ := s.Jail("sshd")
	j.Feed("Failed login from 192.0.2.9")
	require.Eventually(t, func() bool { return bm.Size() == 1 }, time.Second, 5*time.Millisecond)

	n := s.Unban(context.Background(), "192.0.2.9")
	require.Equal(t, 1, n)
	require.Equal(t, 0, bm.Size())
}

func TestStatsAggregatesAcrossJails(t *testing.T) {
	s := New("1.0.0-test")
	require.NoError(t, s.Start(context.Background()))
	defer s.Quit(context.Background())

	require.NoError(t, s.AddJail("a", "polling", testFilterConfig(), 1, time.Minute, 0, 3600))
	require.NoError(t, s.AddJail("b", "polling", testFilterConfig(), 1, time.Minute, 0, 3600))
	st := s.Stats()
	require.Equal(t, 2, st.JailCount)
}

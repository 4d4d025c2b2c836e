// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package failmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/ticket"
)

func TestAddFailureMergesSameID(t *testing.T) {
	m := New(3, time.Minute, 0)
	base := time.Now()

	m.AddFailure(ticket.New("192.0.2.1", base, []string{"a"}))
	require.Equal(t, 1, m.Size())

	m.AddFailure(ticket.New("192.0.2.1", base.Add(time.Second), []string{"b"}))
	require.Equal(t, 1, m.Size())

	ft, ok := m.Get("192.0.2.1")
	require.True(t, ok)
	require.GreaterOrEqual(t, ft.Retry(), 1)
}

func TestToBanRequiresMaxRetry(t *testing.T) {
	m := New(2, time.Minute, 0)
	base := time.Now()

	ft := ticket.NewFail("192.0.2.1", base, nil)
	m.AddFailure(&ft.Ticket)
	require.Nil(t, m.ToBan("192.0.2.1"))

	ft2 := ticket.NewFail("192.0.2.1", base.Add(time.Second), nil)
	ft2.Inc(nil, 1, 1)
	m.AddFailure(&ft2.Ticket)

	banned := m.ToBan("192.0.2.1")
	require.NotNil(t, banned)
	require.Equal(t, 0, m.Size())
}

func TestCleanupEvictsStaleEntries(t *testing.T) {
	m := New(5, time.Minute, 0)
	base := time.Now()
	m.AddFailure(ticket.New("192.0.2.1", base.Add(-2*time.Minute), nil))
	require.Equal(t, 1, m.Cleanup(base))
	require.Equal(t, 0, m.Size())
}

func TestMaxMatchesTruncates(t *testing.T) {
	m := New(10, time.Minute, 2)
	base := time.Now()
	m.AddFailure(ticket.New("192.0.2.1", base, []string{"a"}))
	m.AddFailure(ticket.New("192.0.2.1", base, []string{"b"}))
	m.AddFailure(ticket.New("192.0.2.1", base, []string{"c"}))

	ft, _ := m.Get("192.0.2.1")
	require.Equal(t, []string{"b", "c"}, ft.Matches())
}

func TestTotalFailedCountsEveryAddFailureCall(t *testing.T) {
	m := New(3, time.Minute, 0)
	base := time.Now()

	m.AddFailure(ticket.New("192.0.2.1", base, nil))
	m.AddFailure(ticket.New("192.0.2.1", base.Add(time.Second), nil))
	m.AddFailure(ticket.New("192.0.2.2", base, nil))

	require.Equal(t, 3, m.TotalFailed())
	require.Equal(t, 2, m.Size(), "TotalFailed counts calls, Size counts tracked ids")
}

func TestDrainBansOrderedByFirstTime(t *testing.T) {
	m := New(1, time.Minute, 0)
	base := time.Now()
	m.AddFailure(ticket.New("192.0.2.2", base.Add(time.Second), nil))
	m.AddFailure(ticket.New("192.0.2.1", base, nil))

	drained := m.DrainBans()
	require.Len(t, drained, 2)
	require.Equal(t, "192.0.2.1", drained[0].ID().Ntoa())
}

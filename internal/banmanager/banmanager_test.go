// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package banmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/ticket"
)

func newBan(id string, at time.Time) *ticket.BanTicket {
	ft := ticket.NewFail(id, at, nil)
	return ticket.WrapBan(ft)
}

func TestAddBanTicketRejectsDuplicateUnexpired(t *testing.T) {
	m := New(60)
	now := time.Now()
	require.True(t, m.AddBanTicket(newBan("192.0.2.1", now), now))
	require.False(t, m.AddBanTicket(newBan("192.0.2.1", now), now))
	require.Equal(t, 1, m.BanTotal())
}

func TestAddBanTicketAllowsReplaceAfterExpiry(t *testing.T) {
	m := New(60)
	now := time.Now()
	m.AddBanTicket(newBan("192.0.2.1", now.Add(-2*time.Minute)), now)
	require.True(t, m.AddBanTicket(newBan("192.0.2.1", now), now))
	require.Equal(t, 2, m.BanTotal())
}

func TestUnbanListRemovesExpiredOnly(t *testing.T) {
	m := New(60)
	now := time.Now()
	m.AddBanTicket(newBan("192.0.2.1", now.Add(-2*time.Minute)), now)
	m.AddBanTicket(newBan("192.0.2.2", now), now)

	expired := m.UnbanList(now)
	require.Len(t, expired, 1)
	require.Equal(t, "192.0.2.1", expired[0].ID().Ntoa())
	require.Equal(t, 1, m.Size())
}

func TestPermanentBanNeverUnbanned(t *testing.T) {
	m := New(60)
	now := time.Now()
	bt := newBan("192.0.2.1", now.Add(-1000*time.Hour))
	bt.SetBanTime(ticket.Permanent)
	m.AddBanTicket(bt, now)

	expired := m.UnbanList(now)
	require.Empty(t, expired)
	require.Equal(t, 1, m.Size())
}

func TestGetBanListOrderedByEndOfBan(t *testing.T) {
	m := New(60)
	now := time.Now()
	m.AddBanTicket(newBan("192.0.2.2", now), now)
	m.AddBanTicket(newBan("192.0.2.1", now.Add(-30*time.Second)), now)

	list := m.GetBanList(true)
	require.Len(t, list, 2)
	require.Equal(t, "192.0.2.1", list[0].ID)
}

func TestRemoveUnbansImmediately(t *testing.T) {
	m := New(60)
	now := time.Now()
	m.AddBanTicket(newBan("192.0.2.1", now), now)
	_, ok := m.Remove("192.0.2.1")
	require.True(t, ok)
	require.False(t, m.Contains("192.0.2.1", now))
}

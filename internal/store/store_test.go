// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/audit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jaild.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveAndLoadBans(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.SaveBan("sshd", "203.0.113.5", 600, 1, now))
	require.NoError(t, s.SaveBan("sshd", "198.51.100.9", 1200, 2, now.Add(time.Minute)))
	require.NoError(t, s.SaveBan("nginx-http-auth", "203.0.113.5", 600, 1, now))

	bans, err := s.LoadBans("sshd")
	require.NoError(t, err)
	require.Len(t, bans, 2)

	byID := make(map[string]int64)
	for _, b := range bans {
		byID[b.ID] = b.BanTime
	}
	require.Equal(t, int64(600), byID["203.0.113.5"])
	require.Equal(t, int64(1200), byID["198.51.100.9"])
}

func TestStoreSaveBanUpserts(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.SaveBan("sshd", "203.0.113.5", 600, 1, now))
	require.NoError(t, s.SaveBan("sshd", "203.0.113.5", 1200, 2, now.Add(time.Hour)))

	bans, err := s.LoadBans("sshd")
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.Equal(t, int64(1200), bans[0].BanTime)
	require.Equal(t, 2, bans[0].BanCount)
}

func TestStoreDeleteBan(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.SaveBan("sshd", "203.0.113.5", 600, 1, now))
	require.NoError(t, s.DeleteBan("sshd", "203.0.113.5"))

	bans, err := s.LoadBans("sshd")
	require.NoError(t, err)
	require.Empty(t, bans)
}

func TestStorePurgeOlderThan(t *testing.T) {
	s := openTestStore(t)
	old := time.Unix(1_000_000_000, 0)
	recent := time.Unix(1_800_000_000, 0)

	require.NoError(t, s.SaveBan("sshd", "203.0.113.5", 600, 1, old))
	require.NoError(t, s.SaveBan("sshd", "198.51.100.9", 600, 1, recent))

	n, err := s.PurgeOlderThan(time.Unix(1_500_000_000, 0))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	bans, err := s.LoadBans("sshd")
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.Equal(t, "198.51.100.9", bans[0].ID)
}

func TestStoreWriteAudit(t *testing.T) {
	s := openTestStore(t)
	err := s.WriteAudit(audit.Record{
		Timestamp: time.Unix(1_700_000_000, 0),
		Event:     "jail.ban",
		Severity:  audit.SeverityInfo,
		Fields:    map[string]any{"jail": "sshd", "id": "203.0.113.5"},
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM audit_records`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestStoreAsAuditSinkIntegratesWithLogger(t *testing.T) {
	s := openTestStore(t)
	l := audit.NewLogger(nil)
	l.SetSink(s)

	l.Record(nil, "jail.ban", map[string]any{"jail": "sshd"}) //nolint:staticcheck // nil ctx acceptable for a structural test

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM audit_records`).Scan(&count))
	require.Equal(t, 1, count)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is jaild's optional SQLite-backed persistence layer:
// ban rows are written and deleted as bans are applied and lifted
// (jaild does not reload them at startup), and audit records
// accumulate for later inspection. Grounded on internal/analytics/store.go's
// database/sql + modernc.org/sqlite + UPSERT shape, retargeted from
// flow summaries to bans/audit records.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"greywall.dev/jaild/internal/audit"
	"greywall.dev/jaild/internal/server"
)

// Store persists bans and audit records to a SQLite database,
// implementing both server.Store and audit.Sink.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, in WAL mode to tolerate
// concurrent readers (the TUI/HTTP status views) alongside the
// daemon's writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bans (
		jail TEXT NOT NULL,
		id TEXT NOT NULL,
		ban_time INTEGER NOT NULL,
		ban_count INTEGER NOT NULL,
		banned_at INTEGER NOT NULL,
		PRIMARY KEY (jail, id)
	);
	CREATE INDEX IF NOT EXISTS idx_bans_banned_at ON bans(banned_at);

	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		event TEXT NOT NULL,
		severity TEXT NOT NULL,
		fields TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_records(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close implements server.Store.
func (s *Store) Close() error { return s.db.Close() }

// SaveBan implements server.Store, UPSERTing the ban row for
// (jailName, id).
func (s *Store) SaveBan(jailName, id string, banTime int64, banCount int, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO bans (jail, id, ban_time, ban_count, banned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jail, id) DO UPDATE SET
			ban_time = excluded.ban_time,
			ban_count = excluded.ban_count,
			banned_at = excluded.banned_at
	`, jailName, id, banTime, banCount, at.Unix())
	if err != nil {
		return fmt.Errorf("store: save ban %s/%s: %w", jailName, id, err)
	}
	return nil
}

// DeleteBan implements server.Store.
func (s *Store) DeleteBan(jailName, id string) error {
	_, err := s.db.Exec(`DELETE FROM bans WHERE jail = ? AND id = ?`, jailName, id)
	if err != nil {
		return fmt.Errorf("store: delete ban %s/%s: %w", jailName, id, err)
	}
	return nil
}

// LoadBans implements server.Store, returning every ban row persisted
// for jailName. Nothing in jaild calls it at startup.
func (s *Store) LoadBans(jailName string) ([]server.StoredBan, error) {
	rows, err := s.db.Query(`SELECT id, ban_time, ban_count, banned_at FROM bans WHERE jail = ?`, jailName)
	if err != nil {
		return nil, fmt.Errorf("store: load bans for %s: %w", jailName, err)
	}
	defer rows.Close()

	var out []server.StoredBan
	for rows.Next() {
		var b server.StoredBan
		var bannedAt int64
		if err := rows.Scan(&b.ID, &b.BanTime, &b.BanCount, &bannedAt); err != nil {
			return nil, fmt.Errorf("store: scan ban row: %w", err)
		}
		b.At = time.Unix(bannedAt, 0)
		out = append(out, b)
	}
	return out, rows.Err()
}

// PurgeOlderThan implements server.Store, deleting every ban recorded
// before cutoff and reporting how many rows were removed. cmd/jaild
// calls it at exit with the config's purge_after_days.
func (s *Store) PurgeOlderThan(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM bans WHERE banned_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: purge older than %s: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// WriteAudit implements audit.Sink.
func (s *Store) WriteAudit(rec audit.Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("store: encode audit fields: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO audit_records (ts, event, severity, fields) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.Unix(), rec.Event, string(rec.Severity), fields)
	if err != nil {
		return fmt.Errorf("store: write audit record: %w", err)
	}
	return nil
}

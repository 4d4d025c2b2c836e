// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit records every lifecycle and configuration event jaild
// processes — bans, unbans, jail start/stop, config reloads — as
// structured log lines, grounded on the teacher's AuditEvent/Logger
// shape in internal/audit/logger.go, scoped down from its
// authentication/API-key surface to what a ban daemon actually emits.
package audit

import (
	"context"
	"time"

	"greywall.dev/jaild/internal/logging"
)

// Severity mirrors the teacher's three-level audit severity scale.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// eventSeverity maps an event name to the severity it is logged at.
// Unlisted events (jail.add, jail.ban, jail.unban, server.start,
// server.quit, …) default to SeverityInfo.
var eventSeverity = map[string]Severity{
	"jail.start_failed":    SeverityError,
	"jail.stop_failed":     SeverityError,
	"config.reload_failed": SeverityError,
	"server.panic":         SeverityError,
}

// Record is one audit entry: an event name, a point in time and an
// arbitrary field set describing it.
type Record struct {
	Timestamp time.Time
	Event     string
	Severity  Severity
	Fields    map[string]any
}

// Sink persists a Record somewhere durable (SQLite, a file, …).
// Satisfied by internal/store's adapter; nil disables persistence —
// Logger always logs structurally regardless.
type Sink interface {
	WriteAudit(Record) error
}

// Logger implements server.AuditSink, turning every event the server
// reports into a structured log line and, if a Sink is installed, a
// persisted Record.
type Logger struct {
	log  *logging.Logger
	sink Sink
}

// NewLogger returns a Logger that writes through log. Call SetSink to
// additionally persist records.
func NewLogger(log *logging.Logger) *Logger {
	if log == nil {
		log = logging.WithComponent("audit")
	}
	return &Logger{log: log}
}

// SetSink installs a persistence sink. Nil disables persistence.
func (l *Logger) SetSink(sink Sink) { l.sink = sink }

// Record implements server.AuditSink.
func (l *Logger) Record(ctx context.Context, event string, fields map[string]any) {
	sev := eventSeverity[event]
	if sev == "" {
		sev = SeverityInfo
	}

	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "event", event)
	for k, v := range fields {
		args = append(args, k, v)
	}

	switch sev {
	case SeverityWarn:
		l.log.Warn("audit", args...)
	case SeverityError:
		l.log.Error("audit", args...)
	default:
		l.log.Info("audit", args...)
	}

	if l.sink == nil {
		return
	}
	rec := Record{Timestamp: time.Now(), Event: event, Severity: sev, Fields: fields}
	if err := l.sink.WriteAudit(rec); err != nil {
		l.log.Warn("failed to persist audit record", "event", event, "error", err)
	}
}

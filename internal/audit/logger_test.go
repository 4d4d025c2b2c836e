// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	records []Record
}

func (r *recordingSink) WriteAudit(rec Record) error {
	r.records = append(r.records, rec)
	return nil
}

func TestLoggerRecordPersistsToSink(t *testing.T) {
	l := NewLogger(nil)
	sink := &recordingSink{}
	l.SetSink(sink)

	l.Record(context.Background(), "jail.ban", map[string]any{"jail": "sshd", "id": "203.0.113.5"})

	require.Len(t, sink.records, 1)
	require.Equal(t, "jail.ban", sink.records[0].Event)
	require.Equal(t, SeverityInfo, sink.records[0].Severity)
	require.Equal(t, "sshd", sink.records[0].Fields["jail"])
}

func TestLoggerRecordSeverityOverride(t *testing.T) {
	l := NewLogger(nil)
	sink := &recordingSink{}
	l.SetSink(sink)

	l.Record(context.Background(), "jail.start_failed", map[string]any{"jail": "sshd"})

	require.Len(t, sink.records, 1)
	require.Equal(t, SeverityError, sink.records[0].Severity)
}

func TestLoggerRecordWithoutSinkDoesNotPanic(t *testing.T) {
	l := NewLogger(nil)
	l.Record(context.Background(), "jail.unban", map[string]any{"jail": "sshd"})
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	require.False(t, cfg.Enabled)
	require.Equal(t, 514, cfg.Port)
	require.Equal(t, "udp", cfg.Protocol)
	require.Equal(t, "jaild", cfg.Tag)
	require.Equal(t, 1, cfg.Facility)
}

func TestNewSyslogWriterRejectsMissingHost(t *testing.T) {
	_, err := NewSyslogWriter(SyslogConfig{Enabled: true})
	require.Error(t, err)
}

func TestNewSyslogWriterDefaultsZeroPortProtocolAndTag(t *testing.T) {
	// udp dialing doesn't require a live listener, so this exercises the
	// Port/Protocol/Tag normalization NewSyslogWriter applies without
	// needing a real syslog daemon.
	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestNewSyslogWriterUnknownFacilityFallsBackToUser(t *testing.T) {
	_, ok := facilities[99]
	require.False(t, ok, "facility 99 must stay unmapped for the LOG_USER fallback to trigger")

	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Facility: 99})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestSyslogConfigFieldsRoundTrip(t *testing.T) {
	cfg := SyslogConfig{
		Enabled:  true,
		Host:     "syslog.example.com",
		Port:     1514,
		Protocol: "tcp",
		Tag:      "myapp",
		Facility: 3,
	}

	require.True(t, cfg.Enabled)
	require.Equal(t, "syslog.example.com", cfg.Host)
	require.Equal(t, 1514, cfg.Port)
	require.Equal(t, "tcp", cfg.Protocol)
	require.Equal(t, "myapp", cfg.Tag)
	require.Equal(t, 3, cfg.Facility)
}

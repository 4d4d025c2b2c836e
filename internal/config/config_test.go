// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "/var/run/jaild/jaild.sock", cfg.Socket)
	require.Equal(t, "auto", cfg.AllowIPv6)
	require.NoError(t, Validate(cfg))
}

func TestLoadBytesAppliesDefaults(t *testing.T) {
	src := `
socket = "/tmp/jaild.sock"

jail "sshd" {
  filter  = "sshd"
  logpath = "/var/log/auth.log"
}
`
	cfg, err := LoadBytes("test.hcl", []byte(src))
	require.NoError(t, err)
	require.Equal(t, "/tmp/jaild.sock", cfg.Socket)
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Len(t, cfg.SeedJails, 1)
	require.Equal(t, "sshd", cfg.SeedJails[0].Name)
	require.NoError(t, Validate(cfg))
}

func TestValidateRejectsBadAllowIPv6(t *testing.T) {
	cfg := Default()
	cfg.AllowIPv6 = "maybe"
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnlabeledJail(t *testing.T) {
	cfg := Default()
	cfg.SeedJails = []SeedJail{{Name: ""}}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsEmptySocket(t *testing.T) {
	cfg := Default()
	cfg.Socket = ""
	require.Error(t, Validate(cfg))
}

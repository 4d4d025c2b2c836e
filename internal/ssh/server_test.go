// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"greywall.dev/jaild/internal/config"
)

func generateAuthorizedKeyLine(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := gossh.NewPublicKey(pub)
	require.NoError(t, err)
	return string(gossh.MarshalAuthorizedKey(sshPub))
}

func TestParseAuthorizedKeysAcceptsValidKeys(t *testing.T) {
	line := generateAuthorizedKeyLine(t)
	keys, err := parseAuthorizedKeys([]string{line, ""})
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestParseAuthorizedKeysRejectsGarbage(t *testing.T) {
	_, err := parseAuthorizedKeys([]string{"not a key"})
	require.Error(t, err)
}

func TestNewServerRequiresConfig(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
}

func TestNewServerBuildsFromValidConfig(t *testing.T) {
	line := generateAuthorizedKeyLine(t)
	cfg := &config.SSHConfig{
		Enabled:        true,
		Listen:         "127.0.0.1:0",
		HostKeyPath:    t.TempDir() + "/host_key",
		AuthorizedKeys: []string{line},
	}
	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, srv)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/server"
)

func TestModelUpdateStatusMsgPopulatesStatuses(t *testing.T) {
	backend := &mockBackend{statuses: []server.JailStatus{{Name: "sshd", Active: true}}}
	m := NewModel(backend)

	updated, cmd := m.Update(statusMsg(backend.statuses))
	m = updated.(Model)

	require.Equal(t, backend.statuses, m.Statuses)
	require.Empty(t, m.ConnectionError)
	require.NotNil(t, cmd)
}

func TestModelUpdateBackendErrorSetsConnectionError(t *testing.T) {
	m := NewModel(&mockBackend{})

	updated, cmd := m.Update(BackendError{Err: errors.New("socket closed")})
	m = updated.(Model)

	require.Equal(t, "socket closed", m.ConnectionError)
	require.NotNil(t, cmd)
	require.Contains(t, m.View(), "socket closed")
}

func TestModelUpdateRetryMsgClearsConnectionError(t *testing.T) {
	m := NewModel(&mockBackend{})
	m.ConnectionError = "socket closed"

	updated, _ := m.Update(RetryMsg{})
	m = updated.(Model)

	require.Empty(t, m.ConnectionError)
}

func TestModelUpdateWindowSizeMsg(t *testing.T) {
	m := NewModel(&mockBackend{})

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = updated.(Model)

	require.Equal(t, 100, m.Width)
	require.Equal(t, 40, m.Height)
}

func TestModelUpdateQuitKey(t *testing.T) {
	m := NewModel(&mockBackend{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tui renders jaild's live jail status as a terminal dashboard,
// served interactively over SSH by internal/ssh. It is read-only: every
// ban/unban decision still goes through the control socket, never the
// dashboard.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"greywall.dev/jaild/internal/metrics"
	"greywall.dev/jaild/internal/server"
)

const refreshInterval = 3 * time.Second

// Backend is the read-only data source the dashboard polls. NewBackend
// adapts a server.Server and a metrics.Collector to it.
type Backend interface {
	Status(jailName string) ([]server.JailStatus, error)
	GetTotals() []metrics.JailTotals
}

// Model is the root bubbletea model for the dashboard.
type Model struct {
	Backend Backend

	Statuses        []server.JailStatus
	Totals          []metrics.JailTotals
	LastUpdated     time.Time
	Width           int
	Height          int
	ConnectionError string
}

// NewModel returns a dashboard model polling backend.
func NewModel(backend Backend) Model {
	return Model{Backend: backend}
}

type tickMsg time.Time

type statusMsg []server.JailStatus

type totalsMsg []metrics.JailTotals

// BackendError wraps a failed poll of Backend.
type BackendError struct {
	Err error
}

// RetryMsg triggers a fresh poll after a BackendError.
type RetryMsg struct{}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		statuses, err := m.Backend.Status("")
		if err != nil {
			return BackendError{Err: err}
		}
		return statusMsg(statuses)
	}
}

func (m Model) refreshTotals() tea.Cmd {
	return func() tea.Msg {
		return totalsMsg(m.Backend.GetTotals())
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.Statuses = msg
		m.ConnectionError = ""
		return m, m.refreshTotals()

	case totalsMsg:
		m.Totals = msg

	case BackendError:
		m.ConnectionError = msg.Err.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return RetryMsg{} })

	case RetryMsg:
		m.ConnectionError = ""
		return m, m.refresh()

	case tickMsg:
		m.LastUpdated = time.Time(msg)
		return m, tea.Batch(m.refresh(), m.tick())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}

	return m, nil
}

func (m Model) View() string {
	if m.ConnectionError != "" {
		msg := StyleTitle.Render("connection lost") + "\n\n" +
			StyleStatusBad.Render(m.ConnectionError) + "\n\n" +
			StyleSubtle.Render("retrying... (press q to quit)")
		return lipgloss.Place(m.Width, m.Height, lipgloss.Center, lipgloss.Center, StyleCard.Render(msg))
	}

	doc := m.viewTopBar() + "\n" + m.viewDashboard()
	return StyleApp.Render(doc)
}

func (m Model) viewTopBar() string {
	bar := StyleTitle.Render("jaild") + "  " +
		StyleMenuItem.Render("[q] quit") + StyleMenuItem.Render("[r] refresh")
	return StyleTopBar.Render(bar)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import "github.com/charmbracelet/lipgloss"

// Shared lipgloss styles for the dashboard. Kept as package-level vars
// rather than built per-render, matching the teacher's reference to
// them from dashboard.go and model.go.
var (
	StyleApp = lipgloss.NewStyle().Padding(1, 2)

	StyleTopBar = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	StyleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			MarginRight(1)

	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	StyleSubtitle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	StyleSubtle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)

	StyleStatusGood = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	StyleStatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	StyleStatusBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	StyleMenuKey         = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	StyleMenuItem        = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	StyleMenuItemActive  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
)

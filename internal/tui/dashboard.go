// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"greywall.dev/jaild/internal/server"
)

func (m Model) viewDashboard() string {
	if m.Statuses == nil {
		return "loading jails..."
	}

	if len(m.Statuses) == 0 {
		return StyleCard.Render(StyleSubtitle.Render("no jails configured"))
	}

	totalsByJail := make(map[string]int64)
	for _, t := range m.Totals {
		totalsByJail[t.Jail] = t.Failures
	}

	var cards []string
	for _, status := range m.Statuses {
		cards = append(cards, m.jailCard(status, totalsByJail[status.Name]))
	}

	footer := StyleSubtitle.Render(fmt.Sprintf("last updated: %s", m.LastUpdated.Format("15:04:05")))

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, cards...),
		footer,
	)
}

func (m Model) jailCard(status server.JailStatus, totalFailures int64) string {
	statusText := StyleStatusGood.Render("ACTIVE")
	if !status.Active {
		statusText = StyleStatusBad.Render("STOPPED")
	}

	banLine := fmt.Sprintf("banned: %d / %d total", status.CurrentBanned, status.TotalBanned)
	failLine := fmt.Sprintf("failed: %d / %d total (%d matched)", status.CurrentFailed, status.TotalFailed, totalFailures)

	var idsLine string
	if len(status.BannedIDs) > 0 {
		idsLine = StyleSubtle.Render(strings.Join(truncateIDs(status.BannedIDs, 5), ", "))
	} else {
		idsLine = StyleSubtle.Render("no active bans")
	}

	return StyleCard.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			StyleTitle.Render(status.Name)+" "+statusText,
			banLine,
			failLine,
			idsLine,
		),
	)
}

func truncateIDs(ids []string, max int) []string {
	if len(ids) <= max {
		return ids
	}
	out := make([]string, 0, max+1)
	out = append(out, ids[:max]...)
	out = append(out, fmt.Sprintf("+%d more", len(ids)-max))
	return out
}

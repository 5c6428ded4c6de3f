package status

import (
	"fmt"
	"strings"
	"time"
)

//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return fmt.Sprintf("%s Initializing...\n", m.spinner.View())
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("yarocd forwarder status"))
	b.WriteString("\n")

	uptime := time.Since(m.startTime).Round(time.Second)
	summary := statLabelStyle.Render("Nodes: ") + statValueStyle.Render(fmt.Sprintf("%d", len(m.rows))) +
		statLabelStyle.Render(" | Uptime: ") + statValueStyle.Render(uptime.String())
	b.WriteString(summary)
	b.WriteString("\n")

	box := boxStyle.Width(m.width - 4).Render(m.viewport.View())
	b.WriteString(box)
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("q: quit • ↑/↓: scroll"))

	return b.String()
}

func (m Model) renderRows() string {
	if len(m.rows) == 0 {
		return statLabelStyle.Render("No nodes seen yet.")
	}

	var b strings.Builder
	for _, r := range m.rows {
		b.WriteString(m.renderRow(r))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(r row) string {
	name := rowNameStyle.Render(fmt.Sprintf("%-20s", r.Name))
	indicator := statusIndicator(r.Online)

	var extra string
	if r.SignalDbm != 0 {
		extra += statLabelStyle.Render(fmt.Sprintf("  %d dBm", r.SignalDbm))
	}
	if !r.LastPunch.IsZero() {
		extra += statLabelStyle.Render("  last punch ") + statValueStyle.Render(r.LastPunch.Format("15:04:05"))
	}

	return name + indicator + extra
}

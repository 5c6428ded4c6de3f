package status

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/orienteering/yarocd/internal/ingest"
)

// Run starts the operator status table over tracker and blocks until the
// user quits.
func Run(tracker *ingest.Tracker) error {
	model := New(tracker)
	program := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run status table: %w", err)
	}
	return nil
}

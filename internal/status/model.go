// Package status provides the forwarder operator's terminal table of
// per-node status.
package status

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/orienteering/yarocd/internal/ingest"
)

// Model is the TUI state.
type Model struct {
	tracker *ingest.Tracker

	width    int
	height   int
	ready    bool
	quitting bool

	spinner  spinner.Model
	viewport viewport.Model

	rows       []row
	startTime  time.Time
	lastUpdate time.Time
}

type row struct {
	Name string
	ingest.Snapshot
}

// New creates a status table model over tracker.
func New(tracker *ingest.Tracker) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		tracker:   tracker,
		spinner:   s,
		startTime: time.Now(),
	}
}

//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) refresh() {
	snap := m.tracker.Snapshot()
	rows := make([]row, 0, len(snap))
	for mac, s := range snap {
		rows = append(rows, row{Name: m.tracker.Resolve(mac), Snapshot: s})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	m.rows = rows
}

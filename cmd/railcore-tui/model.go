package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-dispatch/pkg/diagnostics"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/scenario"
)

type view int

const (
	dashboardView view = iota
	trainsView
	claimsView
	queuesView
	networkView
	viewCount
)

var viewNames = [viewCount]string{"Dashboard", "Trains", "Claims", "Queues", "Network"}

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Pause    key.Binding
	Step     key.Binding
	Enter    key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev view"),
	),
	Pause: key.NewBinding(
		key.WithKeys(" ", "p"),
		key.WithHelp("space", "pause/run"),
	),
	Step: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "single tick"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "query"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Pause, k.Step, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab},
		{k.Pause, k.Step, k.Enter},
		{k.Quit},
	}
}

// stepper is the part of scenario.Runner the monitor drives.
type stepper interface {
	Step(ctx context.Context) (scenario.StepReport, error)
	Done() bool
	Tick() int
}

type model struct {
	src      diagnostics.Source
	runner   stepper
	name     string
	logs     *logging.Recorder
	interval time.Duration

	currentView view
	paused      bool
	last        scenario.StepReport
	report      diagnostics.Report
	neighbours  []diagnostics.NeighbourView

	trainTable table.Model
	claimTable table.Model
	queueTable table.Model
	nodeInput  textinput.Model
	help       help.Model
	keys       keyMap

	width      int
	height     int
	message    string
	messageErr bool
}

type tickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func newTable(cols ...table.Column) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#005F87")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func initialModel(src diagnostics.Source, runner stepper, name string, logs *logging.Recorder, interval time.Duration) model {
	ti := textinput.New()
	ti.Placeholder = "node id, e.g. JUNCTION"
	ti.CharLimit = 64
	ti.Width = 40

	m := model{
		src:      src,
		runner:   runner,
		name:     name,
		logs:     logs,
		interval: interval,
		trainTable: newTable(
			table.Column{Title: "Train", Width: 10},
			table.Column{Title: "Route", Width: 14},
			table.Column{Title: "At", Width: 12},
			table.Column{Title: "Step", Width: 6},
			table.Column{Title: "Prio", Width: 5},
			table.Column{Title: "Signal", Width: 22},
		),
		claimTable: newTable(
			table.Column{Title: "Resource", Width: 34},
			table.Column{Title: "Train", Width: 10},
			table.Column{Title: "Route", Width: 14},
			table.Column{Title: "Acquired", Width: 12},
			table.Column{Title: "Dir", Width: 5},
		),
		queueTable: newTable(
			table.Column{Title: "Resource", Width: 34},
			table.Column{Title: "Waiting", Width: 40},
		),
		nodeInput: ti,
		help:      help.New(),
		keys:      keys,
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tickCmd(m.interval)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		if !m.paused {
			m.step()
		}
		return m, tickCmd(m.interval)

	case tea.KeyMsg:
		// the query box swallows letters while focused
		if m.nodeInput.Focused() && !key.Matches(msg, m.keys.Tab, m.keys.ShiftTab, m.keys.Enter) && msg.String() != "ctrl+c" {
			var cmd tea.Cmd
			m.nodeInput, cmd = m.nodeInput.Update(msg)
			return m, cmd
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.setView((m.currentView + 1) % viewCount)
		case key.Matches(msg, m.keys.ShiftTab):
			m.setView((m.currentView + viewCount - 1) % viewCount)
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Step):
			m.paused = true
			m.step()
		case key.Matches(msg, m.keys.Enter):
			if m.currentView == networkView {
				m.queryNeighbours()
			}
		}
	}

	var cmd tea.Cmd
	switch m.currentView {
	case trainsView:
		m.trainTable, cmd = m.trainTable.Update(msg)
	case claimsView:
		m.claimTable, cmd = m.claimTable.Update(msg)
	case queuesView:
		m.queueTable, cmd = m.queueTable.Update(msg)
	}
	return m, cmd
}

func (m *model) setView(v view) {
	m.currentView = v
	if v == networkView {
		m.nodeInput.Focus()
	} else {
		m.nodeInput.Blur()
	}
}

func (m *model) step() {
	if m.runner.Done() {
		m.message = fmt.Sprintf("Scenario complete after %d ticks", m.runner.Tick())
		m.messageErr = false
		return
	}
	rep, err := m.runner.Step(context.Background())
	m.last = rep
	if err != nil {
		m.message = fmt.Sprintf("Tick %d failed: %v", rep.Tick, err)
		m.messageErr = true
		m.paused = true
	}
	m.refresh()
}

func (m *model) refresh() {
	m.report = diagnostics.Collect(m.src)

	rows := make([]table.Row, 0, len(m.report.Trains))
	for _, t := range m.report.Trains {
		rows = append(rows, table.Row{t.ID, t.Route, t.At, strconv.Itoa(t.Index), strconv.Itoa(t.Priority), t.Signal})
	}
	m.trainTable.SetRows(rows)

	rows = make([]table.Row, 0, len(m.report.Claims))
	for _, c := range m.report.Claims {
		acquired := c.AcquiredAt
		if t, err := time.Parse(time.RFC3339Nano, c.AcquiredAt); err == nil {
			acquired = t.Local().Format("15:04:05")
		}
		rows = append(rows, table.Row{c.Resource, c.TrainID, c.RouteID, acquired, c.Heading})
	}
	m.claimTable.SetRows(rows)

	rows = make([]table.Row, 0, len(m.report.Queues)+len(m.report.Locks))
	for _, q := range m.report.Queues {
		rows = append(rows, table.Row{q.Resource, strings.Join(q.Waiters, ", ")})
	}
	for _, l := range m.report.Locks {
		rows = append(rows, table.Row{l.Resource, "override: " + l.TrainID})
	}
	m.queueTable.SetRows(rows)
}

func (m *model) queryNeighbours() {
	node := strings.TrimSpace(m.nodeInput.Value())
	if node == "" {
		m.message = "Node id cannot be empty"
		m.messageErr = true
		return
	}
	got, err := diagnostics.Neighbours(m.src, railgraph.NodeID(node), 2, false)
	if err != nil {
		m.message = fmt.Sprintf("Query failed: %v", err)
		m.messageErr = true
		return
	}
	m.neighbours = got
	m.message = fmt.Sprintf("%d nodes within 2 hops of %s", len(got), node)
	m.messageErr = false
}

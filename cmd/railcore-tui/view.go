package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-dispatch/pkg/diagnostics"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFAF00")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#005F87")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)

	aspectStyles = map[string]lipgloss.Style{
		"proceed":              lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		"proceed_with_caution": lipgloss.NewStyle().Foreground(lipgloss.Color("#AFFF00")),
		"caution":              lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		"stop":                 lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
	}
)

// logLines is how many recent log records the dashboard shows.
const logLines = 8

func (m model) View() string {
	var s strings.Builder

	state := "running"
	if m.paused {
		state = "paused"
	}
	if m.runner.Done() {
		state = "complete"
	}
	s.WriteString(titleStyle.Render(fmt.Sprintf("railcore · %s · tick %d · %s", m.name, m.runner.Tick(), state)))
	s.WriteString("\n\n")

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case dashboardView:
		s.WriteString(m.renderDashboard())
	case trainsView:
		s.WriteString(m.renderTable("Trains", m.trainTable.View()))
	case claimsView:
		s.WriteString(m.renderTable("Claims", m.claimTable.View()))
	case queuesView:
		s.WriteString(m.renderTable("Wait queues and deadlock locks", m.queueTable.View()))
	case networkView:
		s.WriteString(m.renderNetwork())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("✗ " + m.message))
		} else {
			s.WriteString(successStyle.Render("✓ " + m.message))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

func (m model) renderTabs() string {
	rendered := make([]string, 0, len(viewNames))
	for i, tab := range viewNames {
		if view(i) == m.currentView {
			rendered = append(rendered, activeTabStyle.Render(tab))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderDashboard() string {
	r := m.report
	waiting := 0
	for _, q := range r.Queues {
		waiting += len(q.Waiters)
	}
	stats := fmt.Sprintf(`Network
───────────────
Graph version: %d
Nodes:         %d
Edges:         %d
Blocked:       %s

Occupancy
───────────────
Trains:        %d
Claims:        %d
Waiting:       %d
Locks:         %d`,
		r.Graph.Version, r.Graph.Nodes, r.Graph.Edges, orNone(r.Graph.Blocked),
		len(r.Trains), len(r.Claims), waiting, len(r.Locks),
	)

	last := m.last
	tick := fmt.Sprintf(`Last tick (%d)
───────────────
Departed:  %s
Moved:     %s
Arrived:   %s
Events:    %s
Admitted:  %s
Overrides: %s
Explored:  %d`,
		last.Tick,
		orNone(last.Departed), orNone(last.Moved), orNone(last.Arrived),
		orNone(last.Events), orNone(last.Core.Admitted), orNone(last.Core.Overrides),
		last.Core.Explored,
	)

	signals := m.renderSignals()
	top := lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(stats), boxStyle.Render(tick), boxStyle.Render(signals))
	return contentStyle.Render(lipgloss.JoinVertical(lipgloss.Left, top, m.renderLog()))
}

func (m model) renderSignals() string {
	var s strings.Builder
	s.WriteString("Signals\n───────────────")
	if len(m.report.Signals) == 0 {
		s.WriteString("\n(none)")
	}
	for _, sig := range m.report.Signals {
		style, ok := aspectStyles[sig.Aspect]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Fprintf(&s, "\n%-10s %s", sig.TrainID, style.Render(sig.Aspect))
	}
	return s.String()
}

func (m model) renderLog() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Recent events"))
	s.WriteString("\n")
	for _, rec := range recentLogs(m.logs, logLines) {
		s.WriteString(formatRecord(rec))
		s.WriteString("\n")
	}
	return s.String()
}

func (m model) renderTable(title, body string) string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(title))
	s.WriteString("\n\n")
	s.WriteString(body)
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Navigate with ↑/↓"))
	return contentStyle.Render(s.String())
}

func (m model) renderNetwork() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Neighbourhood (2 hops, open edges)"))
	s.WriteString("\n\n")
	s.WriteString(m.nodeInput.View())
	s.WriteString("\n\n")
	s.WriteString(renderNeighbours(m.neighbours))
	return contentStyle.Render(s.String())
}

func renderNeighbours(ns []diagnostics.NeighbourView) string {
	if len(ns) == 0 {
		return helpStyle.Render("Type a node id and press enter")
	}
	var s strings.Builder
	for _, n := range ns {
		fmt.Fprintf(&s, "%s %s\n", strings.Repeat("  ", n.Hops), n.Node)
	}
	return boxStyle.Render(strings.TrimRight(s.String(), "\n"))
}

func recentLogs(rec *logging.Recorder, n int) []logging.Record {
	all := rec.Records()
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func formatRecord(r logging.Record) string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var s strings.Builder
	fmt.Fprintf(&s, "%-5s %s", r.Level, r.Message)
	for _, k := range keys {
		fmt.Fprintf(&s, " %s=%v", k, r.Fields[k])
	}
	line := s.String()
	if r.Level >= logging.WarnLevel {
		return errorStyle.Render(line)
	}
	return line
}

func orNone(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ", ")
}

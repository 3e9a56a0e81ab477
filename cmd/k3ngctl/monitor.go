package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/w1xm/k3ng_interface/gateway"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/rotator"
)

var monitorPeriod time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live position and tracking display",
	Long: `Show the rotator's position and tracking status, refreshed periodically.

Keys:
  arrows  jog the antenna
  space   stop both axes
  p       park
  t       toggle tracking
  q       quit`,
	Args: cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		p := tea.NewProgram(newMonitorModel(r, monitorPeriod), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		_, err := p.Run()
		return err
	}),
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorPeriod, "period", time.Second, "Refresh period")
	rootCmd.AddCommand(monitorCmd)
}

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorModel struct {
	r        gateway.Service
	period   time.Duration
	pos      *rotator.Position
	tracking *k3ng.TrackingStatus
	polled   time.Time
	log      []logEntry
	maxLog   int
	width    int
	quitting bool
}

// Messages
type tickMsg time.Time
type pollMsg struct {
	pos      rotator.Position
	tracking *k3ng.TrackingStatus
	err      error
}
type actionMsg struct {
	name string
	err  error
}

func newMonitorModel(r gateway.Service, period time.Duration) monitorModel {
	return monitorModel{
		r:      r,
		period: period,
		maxLog: 8,
		width:  80,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return m.poll()
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.period, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) poll() tea.Cmd {
	r := m.r
	return func() tea.Msg {
		pos, err := rotator.Read(r)
		if err != nil {
			return pollMsg{err: err}
		}
		msg := pollMsg{pos: pos}
		if ts, err := r.TrackingStatus(); err == nil {
			msg.tracking = &ts
		}
		return msg
	}
}

func (m monitorModel) action(name string, f func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{name: name, err: f()}
	}
}

func (m monitorModel) toggleTracking() error {
	if m.tracking != nil && m.tracking.IsTracking {
		return m.r.DisableTracking()
	}
	return m.r.EnableTracking()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up":
			return m, m.action("up", m.r.Up)
		case "down":
			return m, m.action("down", m.r.Down)
		case "left":
			return m, m.action("left", m.r.Left)
		case "right":
			return m, m.action("right", m.r.Right)
		case " ":
			return m, m.action("stop", m.r.Stop)
		case "p":
			return m, m.action("park", m.r.Park)
		case "t":
			return m, m.action("toggle tracking", m.toggleTracking)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, m.poll()

	case pollMsg:
		m.polled = time.Now()
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("poll: %v", msg.err), true)
		} else {
			m.pos = &msg.pos
			m.tracking = msg.tracking
		}
		return m, m.tick()

	case actionMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(msg.name, false)
		}
	}
	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	// Keep only last N entries
	if len(m.log) > m.maxLog {
		m.log = m.log[len(m.log)-m.maxLog:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)
	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))
	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)
	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	row := func(label, value string) string {
		return labelStyle.Render(fmt.Sprintf("%-10s", label)) + " " + valueStyle.Render(value)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("K3NG Rotator Monitor"))
	b.WriteString("\n\n")

	var pos []string
	if m.pos == nil {
		pos = append(pos, headerStyle.Render("waiting for first poll..."))
	} else {
		pos = append(pos,
			row("Azimuth", fmt.Sprintf("%7.2f°", m.pos.Azimuth)),
			row("Elevation", fmt.Sprintf("%7.2f°", m.pos.Elevation)),
			row("Updated", m.polled.Format("15:04:05")),
		)
	}
	b.WriteString(boxStyle.Render(strings.Join(pos, "\n")))
	b.WriteString("\n")

	var trk []string
	if t := m.tracking; t == nil {
		trk = append(trk, headerStyle.Render("no satellite selected"))
	} else {
		state := "inactive"
		if t.IsTracking {
			state = "active"
		}
		trk = append(trk,
			row("Satellite", t.SatName),
			row("Signal", t.SatState.String()),
			row("Tracking", state),
			row("Next", fmt.Sprintf("%s in %d min", t.NextEvent, t.NextEventMins)),
			row("Pass", fmt.Sprintf("%s az %d → %s az %d, max el %d",
				t.NextPass.StartTime.Format("15:04"), t.NextPass.StartAzimuth,
				t.NextPass.EndTime.Format("15:04"), t.NextPass.EndAzimuth,
				t.NextPass.MaxElevation)),
		)
	}
	b.WriteString(boxStyle.Render(strings.Join(trk, "\n")))
	b.WriteString("\n")

	for _, e := range m.log {
		line := e.timestamp.Format("15:04:05") + " " + e.message
		if e.isError {
			line = errorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + headerStyle.Render("arrows: jog  space: stop  p: park  t: tracking  q: quit"))
	return b.String()
}

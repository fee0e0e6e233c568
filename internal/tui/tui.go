// Package tui is a live dashboard over a running operation. It reads the
// registry the daemon keeps and drives agents through the control channel.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gabe/swarm/internal/control"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/severity"
)

const refreshInterval = time.Second

// Loader reads the shared operation state
type Loader func() (*registry.State, error)

// Sender delivers control commands to the daemon
type Sender interface {
	Send(cmd control.Command) (control.Command, error)
}

type keyMap struct {
	Pause     key.Binding
	Resume    key.Binding
	Stop      key.Binding
	PauseAll  key.Binding
	ResumeAll key.Binding
	StopAll   key.Binding
	Refresh   key.Binding
	Quit      key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Resume, k.Stop, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pause, k.Resume, k.Stop},
		{k.PauseAll, k.ResumeAll, k.StopAll},
		{k.Refresh, k.Quit},
	}
}

var keys = keyMap{
	Pause:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Resume:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
	Stop:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	PauseAll:  key.NewBinding(key.WithKeys("P"), key.WithHelp("P", "pause all")),
	ResumeAll: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "resume all")),
	StopAll:   key.NewBinding(key.WithKeys("S"), key.WithHelp("S", "stop all")),
	Refresh:   key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "refresh")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

type stateMsg struct {
	state *registry.State
	err   error
}

type sentMsg struct {
	cmd control.Command
	err error
}

var columns = []table.Column{
	{Title: "#", Width: 3},
	{Title: "Agent", Width: 14},
	{Title: "Status", Width: 10},
	{Title: "Health", Width: 7},
	{Title: "Iter", Width: 5},
	{Title: "Progress", Width: 8},
	{Title: "Findings", Width: 8},
	{Title: "Throttle", Width: 9},
	{Title: "Last command", Width: 40},
}

// Model represents the TUI state
type Model struct {
	load   Loader
	sender Sender

	table  table.Model
	help   help.Model
	toasts *ToastQueue
	state  *registry.State
	err    error
	width  int
	now    func() time.Time
}

// NewModel creates a dashboard over load and sender
func NewModel(load Loader, sender Sender) Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	return Model{
		load:   load,
		sender: sender,
		table:  t,
		help:   help.New(),
		toasts: NewToastQueue(),
		now:    time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		state, err := load()
		return stateMsg{state: state, err: err}
	}
}

func (m Model) send(action control.Action, agentID string) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		sent, err := sender.Send(control.Command{Action: action, AgentID: agentID})
		if err != nil {
			return sentMsg{cmd: control.Command{Action: action, AgentID: agentID}, err: err}
		}
		return sentMsg{cmd: sent}
	}
}

func (m *Model) toast(level ToastLevel, format string, args ...any) {
	m.toasts.Push(Toast{
		Message: fmt.Sprintf(format, args...),
		Level:   level,
		Expires: m.now().Add(DefaultToastTTL),
	})
}

// selectedID returns the agent under the cursor
func (m Model) selectedID() string {
	row := m.table.SelectedRow()
	if len(row) < 2 {
		return ""
	}
	return row[1]
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.table.SetHeight(max(3, msg.Height-10))
		return m, nil

	case tickMsg:
		m.toasts.Prune(time.Time(msg))
		return m, tea.Batch(m.refresh(), tick())

	case stateMsg:
		m.err = msg.err
		if msg.err == nil {
			m.state = msg.state
			m.table.SetRows(rows(msg.state))
		}
		return m, nil

	case sentMsg:
		target := msg.cmd.AgentID
		if target == "" {
			target = "all agents"
		}
		if msg.err != nil {
			m.toast(ToastError, "%s %s failed: %v", msg.cmd.Action, target, msg.err)
		} else {
			m.toast(ToastSuccess, "Sent %s to %s", msg.cmd.Action, target)
		}
		return m, m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, keys.PauseAll):
			return m, m.send(control.ActionPause, "")
		case key.Matches(msg, keys.ResumeAll):
			return m, m.send(control.ActionResume, "")
		case key.Matches(msg, keys.StopAll):
			return m, m.send(control.ActionStop, "")
		case key.Matches(msg, keys.Pause, keys.Resume, keys.Stop):
			id := m.selectedID()
			if id == "" {
				m.toast(ToastWarning, "No agent selected")
				return m, nil
			}
			action := control.ActionPause
			if key.Matches(msg, keys.Resume) {
				action = control.ActionResume
			} else if key.Matches(msg, keys.Stop) {
				action = control.ActionStop
			}
			return m, m.send(action, id)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows converts registry records into table rows
func rows(state *registry.State) []table.Row {
	if state == nil {
		return nil
	}
	out := make([]table.Row, 0, len(state.Agents))
	for _, a := range state.Agents {
		health := string(a.Health)
		if health == "" {
			health = string(registry.HealthOK)
		}
		out = append(out, table.Row{
			fmt.Sprintf("%d", a.Number),
			a.ID,
			string(a.Status),
			health,
			fmt.Sprintf("%d", a.Iteration),
			fmt.Sprintf("%d%%", a.Progress),
			fmt.Sprintf("%d", a.FindingsCount),
			a.ThrottleLevel,
			oneLine(a.LastCommand),
		})
	}
	return out
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Swarm"))
	if m.state != nil && m.state.Operation != "" {
		b.WriteString(mutedStyle.Render("  operation "))
		b.WriteString(labelStyle.Render(m.state.Operation))
		if !m.state.UpdatedAt.IsZero() {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  updated %s ago", m.now().Sub(m.state.UpdatedAt).Round(time.Second))))
		}
	} else {
		b.WriteString(mutedStyle.Render("  no operation running"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.severityBar())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(panelStyle.Render(m.table.View()))
	b.WriteString("\n")

	if toast, ok := m.toasts.Peek(); ok {
		b.WriteString(toastStyles[toast.Level].Render(toast.Message))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(keys))
	return b.String()
}

// severityBar renders the finding counts per level
func (m Model) severityBar() string {
	parts := make([]string, 0, len(severity.Order))
	total := 0
	for _, l := range severity.Order {
		n := 0
		if m.state != nil {
			n = m.state.Severity[string(l)]
		}
		total += n
		style := lipgloss.NewStyle().Foreground(severityColors[string(l)])
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", l, n)))
	}
	return keyStyle.Render("Findings ") + keyDescStyle.Render(fmt.Sprintf("%d  ", total)) + strings.Join(parts, "  ")
}

var startProgram = func(model tea.Model) error {
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// Run starts the dashboard and blocks until the user quits
func Run(load Loader, sender Sender) error {
	return startProgram(NewModel(load, sender))
}

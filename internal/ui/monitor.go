package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/roehn/internal/events"
)

// MonitorSource is what the live monitor watches. The client satisfies it.
type MonitorSource interface {
	AddButtonListener(h events.Handler) (remove func())
	ButtonSnapshot() []events.ButtonStatus
	ListenerState() events.State
}

// monitorBuffer bounds events queued between the listener and the UI. Events
// beyond it are dropped rather than stalling the listener.
const monitorBuffer = 64

type buttonMsg events.ButtonEvent

type feedClosedMsg struct{}

type monitorTickMsg time.Time

type monitorKeyMap struct {
	Up    key.Binding
	Down  key.Binding
	Clear key.Binding
	Quit  key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Clear, k.Quit}
}

func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var monitorKeys = monitorKeyMap{
	Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Clear: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

// MonitorModel is a full-screen view of keypad activity: one row per button
// with its latest action, refreshed as events arrive.
type MonitorModel struct {
	Processor string

	source  MonitorSource
	feed    <-chan events.ButtonEvent
	buttons map[events.ButtonKey]events.ButtonStatus
	state   events.State
	last    *events.ButtonEvent
	count   int
	now     func() time.Time

	table   table.Model
	spinner spinner.Model
	help    help.Model
	width   int
	height  int
}

// NewMonitorModel builds a monitor seeded with the source's current button
// cache. Events are read from feed until it is closed.
func NewMonitorModel(processor string, source MonitorSource, feed <-chan events.ButtonEvent) MonitorModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(SpinnerStyle))

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(PrimaryColor).
		BorderBottom(true).
		Foreground(PrimaryColor).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(TextColor).
		Background(PrimaryColor).
		Bold(false)

	t := table.New(
		table.WithColumns(monitorColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithStyles(styles),
	)

	m := MonitorModel{
		Processor: processor,
		source:    source,
		feed:      feed,
		buttons:   make(map[events.ButtonKey]events.ButtonStatus),
		state:     source.ListenerState(),
		now:       time.Now,
		table:     t,
		spinner:   s,
		help:      help.New(),
	}
	for _, st := range source.ButtonSnapshot() {
		m.buttons[st.ButtonKey] = st
	}
	m.refreshRows()
	return m
}

func monitorColumns() []table.Column {
	return []table.Column{
		{Title: "Addr", Width: 6},
		{Title: "Button", Width: 7},
		{Title: "Action", Width: 9},
		{Title: "Changed", Width: 10},
		{Title: "At", Width: 10},
	}
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForButton(m.feed), monitorTick())
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, monitorKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, monitorKeys.Clear):
			m.buttons = make(map[events.ButtonKey]events.ButtonStatus)
			m.last = nil
			m.refreshRows()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetHeight(max(msg.Height-8, 3))
		m.help.Width = msg.Width
		return m, nil

	case buttonMsg:
		ev := events.ButtonEvent(msg)
		m.apply(ev)
		return m, waitForButton(m.feed)

	case feedClosedMsg:
		return m, tea.Quit

	case monitorTickMsg:
		m.state = m.source.ListenerState()
		m.refreshRows()
		return m, monitorTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *MonitorModel) apply(ev events.ButtonEvent) {
	at := ev.At
	if at.IsZero() {
		at = m.now()
	}
	m.buttons[ev.ButtonKey] = events.ButtonStatus{ButtonKey: ev.ButtonKey, Action: ev.Action, LastChanged: at}
	m.last = &ev
	m.count++
	m.refreshRows()
}

// refreshRows rebuilds the table sorted by address then button.
func (m *MonitorModel) refreshRows() {
	keys := make([]events.ButtonKey, 0, len(m.buttons))
	for k := range m.buttons {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Address != keys[j].Address {
			return keys[i].Address < keys[j].Address
		}
		return keys[i].Button < keys[j].Button
	})

	now := m.now()
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		st := m.buttons[k]
		rows = append(rows, table.Row{
			strconv.Itoa(k.Address),
			strconv.Itoa(k.Button),
			string(st.Action),
			FormatAge(now.Sub(st.LastChanged)),
			st.LastChanged.Local().Format(time.TimeOnly),
		})
	}
	m.table.SetRows(rows)
}

// View implements tea.Model
func (m MonitorModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderTitleStyle.Render("ROEHN BUTTON MONITOR"))
	b.WriteString(HeaderCommandStyle.Render(m.Processor))
	b.WriteString("\n\n")

	if len(m.buttons) == 0 {
		b.WriteString(StatusBarStyle.Render("Waiting for keypad activity..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(StatusBarStyle.Render(m.help.View(monitorKeys)))
	return b.String()
}

func (m MonitorModel) statusLine() string {
	state := StateStyle(m.state).Render(m.state.String())
	if m.state != events.StateConnected {
		state = m.spinner.View() + " " + state
	}
	parts := []string{state, fmt.Sprintf("%d events", m.count)}
	if m.last != nil {
		parts = append(parts, fmt.Sprintf("last %s %s", m.last.ButtonKey, ActionStyle(m.last.Action).Render(string(m.last.Action))))
	}
	return lipgloss.NewStyle().PaddingLeft(2).Render(strings.Join(parts, "  │  "))
}

func waitForButton(feed <-chan events.ButtonEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return buttonMsg(ev)
	}
}

func monitorTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// RunMonitor shows the monitor until the user quits or ctx is cancelled.
func RunMonitor(ctx context.Context, processor string, source MonitorSource) error {
	feed := make(chan events.ButtonEvent, monitorBuffer)
	remove := source.AddButtonListener(func(ev events.ButtonEvent) {
		select {
		case feed <- ev:
		default:
		}
	})
	defer remove()

	p := tea.NewProgram(NewMonitorModel(processor, source, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

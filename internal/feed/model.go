package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/steveyegge/adjutant/internal/ui"
)

const maxEvents = 1000

// Model is the bubbletea model for the live feed.
type Model struct {
	client *Client
	cancel context.CancelFunc

	width  int
	height int

	viewport  viewport.Model
	spinner   spinner.Model
	keys      KeyMap
	help      help.Model
	showHelp  bool
	connected bool
	statusMsg string

	events   []Event
	renderer *glamour.TermRenderer
}

// NewModel builds the feed model around a connected client. The client's
// Run loop is started from Init.
func NewModel(client *Client) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	h := help.New()
	h.ShowAll = false

	// Announcement markdown; a renderer failure falls back to plain text.
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(76),
	)

	return &Model{
		client:   client,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		keys:     DefaultKeyMap(),
		help:     h,
		events:   make([]Event, 0, maxEvents),
		renderer: renderer,
	}
}

type frameMsg Frame
type statusMsg string
type streamClosedMsg struct{}

// Init starts the client and the listeners.
func (m *Model) Init() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.client.Run(ctx)
	return tea.Batch(
		m.spinner.Tick,
		m.waitForFrame(),
		m.waitForStatus(),
		tea.SetWindowTitle("Adjutant Feed"),
	)
}

func (m *Model) waitForFrame() tea.Cmd {
	frames := m.client.Frames()
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return streamClosedMsg{}
		}
		return frameMsg(f)
	}
}

func (m *Model) waitForStatus() tea.Cmd {
	status := m.client.Status()
	return func() tea.Msg {
		return statusMsg(<-status)
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			m.resize()
			return m, nil
		case key.Matches(msg, m.keys.Top):
			m.viewport.GotoTop()
			return m, nil
		case key.Matches(msg, m.keys.Bottom):
			m.viewport.GotoBottom()
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.events = m.events[:0]
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case frameMsg:
		if ev, ok := Summarize(Frame(msg)); ok {
			m.addEvent(ev)
		}
		cmds = append(cmds, m.waitForFrame())

	case statusMsg:
		m.statusMsg = string(msg)
		m.connected = m.statusMsg == "connected"
		cmds = append(cmds, m.waitForStatus())

	case streamClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if !m.connected {
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) addEvent(ev Event) {
	atBottom := m.viewport.AtBottom()
	m.events = append(m.events, ev)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	m.refresh()
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) resize() {
	helpHeight := 1
	if m.showHelp {
		helpHeight = 3
	}
	// Header and status lines plus the help footer.
	h := m.height - 2 - helpHeight
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.refresh()
}

func (m *Model) refresh() {
	var b strings.Builder
	for _, ev := range m.events {
		b.WriteString(ui.RenderMuted(ev.Time.Format("15:04:05")))
		b.WriteString("  ")
		b.WriteString(ev.Summary)
		b.WriteString("\n")
		if ev.Markdown != "" {
			b.WriteString(m.renderMarkdown(ev.Markdown))
			b.WriteString("\n")
		}
	}
	m.viewport.SetContent(b.String())
}

func (m *Model) renderMarkdown(md string) string {
	if m.renderer == nil {
		return md
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// View renders the TUI.
func (m *Model) View() string {
	var header string
	if m.connected {
		header = ui.RenderPass("● live") + ui.RenderMuted(fmt.Sprintf("  %d events", len(m.events)))
	} else {
		header = m.spinner.View() + " connecting..."
		if m.statusMsg != "" && m.statusMsg != "connected" {
			header += ui.RenderMuted("  " + m.statusMsg)
		}
	}

	return header + "\n" + m.viewport.View() + "\n" + m.help.View(m.keys)
}

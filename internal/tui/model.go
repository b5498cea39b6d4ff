// Package tui renders the chat session in the terminal with Bubble Tea.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/knightafter/openClaw-web-interface/internal/chat"
	"github.com/knightafter/openClaw-web-interface/internal/domain"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	statusStyle = lipgloss.NewStyle().Faint(true).PaddingLeft(1)
)

// sessionUpdateMsg signals that session state changed and the view
// should re-snapshot.
type sessionUpdateMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	session *chat.Session

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	renderer *glamour.TermRenderer
	width    int
	height   int
	ready    bool
	quitting bool

	// Render cache keyed on message count and stream length; the
	// transcript only ever grows or is cleared.
	rendered     string
	renderedN    int
	renderedTail int
}

// New builds the model around an already-subscribed session.
func New(session *chat.Session) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Prompt = "> "
	ta.SetHeight(2)
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return Model{
		session: session,
		input:   ta,
		spinner: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.waitForUpdate())
}

// waitForUpdate blocks until the session signals a change.
func (m Model) waitForUpdate() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		<-updates
		return sessionUpdateMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.invalidate()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.session.Clear()
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.input.Reset()
				m.session.Send(text)
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case sessionUpdateMsg:
		m.refresh()
		return m, m.waitForUpdate()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "  Connecting..."
	}

	var status string
	switch m.session.Status() {
	case domain.StateConnected:
		status = statusStyle.Render("● connected")
	case domain.StateConnecting:
		status = statusStyle.Render(m.spinner.View() + " connecting...")
	case domain.StateError:
		status = errorStyle.Render(" ✗ connection error")
	default:
		status = statusStyle.Render("○ disconnected")
	}

	inputView := m.input.View()
	if m.session.Typing() && m.session.StreamText() == "" {
		inputView = m.spinner.View() + mutedStyle.Render(" waiting for response...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		mutedStyle.Render(strings.Repeat("─", max(1, m.width))),
		inputView,
		status,
	)
}

func (m *Model) layout() {
	inputH := 2
	statusH := 1
	dividerH := 1
	contentH := m.height - inputH - statusH - dividerH
	if contentH < 3 {
		contentH = 3
	}

	if !m.ready {
		m.viewport = viewport.New(m.width, contentH)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = contentH
	}
	m.input.SetWidth(m.width)
}

func (m *Model) invalidate() {
	m.renderer = nil
	m.rendered = ""
	m.renderedN = 0
	m.renderedTail = -1
}

// refresh re-renders the transcript when the snapshot changed.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	msgs := m.session.Messages()
	tail := len(m.session.StreamText())
	if len(msgs) == m.renderedN && tail == m.renderedTail && m.rendered != "" {
		return
	}

	atBottom := m.viewport.AtBottom()
	m.rendered = m.renderTranscript(msgs)
	m.renderedN = len(msgs)
	m.renderedTail = tail
	m.viewport.SetContent(m.rendered)
	if atBottom || tail > 0 {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderTranscript(msgs []domain.Message) string {
	if len(msgs) == 0 && m.session.StreamText() == "" {
		return mutedStyle.Render("  No messages yet. Start a conversation!")
	}

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	if txt := m.session.StreamText(); txt != "" {
		b.WriteString(botStyle.Render("assistant"))
		b.WriteString(mutedStyle.Render("  streaming..."))
		b.WriteString("\n")
		b.WriteString(m.markdown(txt))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg domain.Message) string {
	ts := mutedStyle.Render("  " + msg.Timestamp.Format(time.Kitchen))
	switch {
	case msg.IsError:
		return errorStyle.Render("error") + ts + "\n" + m.markdown(msg.Content)
	case msg.Role == domain.RoleUser:
		return userStyle.Render("you") + ts + "\n  " + msg.Content + "\n"
	default:
		return botStyle.Render("assistant") + ts + "\n" + m.markdown(msg.Content)
	}
}

// markdown renders content through glamour, falling back to the raw
// text if rendering fails.
func (m *Model) markdown(content string) string {
	if m.renderer == nil {
		width := m.width - 4
		if width < 40 {
			width = 40
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content + "\n"
		}
		m.renderer = r
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return "  " + content + "\n"
	}
	return out
}

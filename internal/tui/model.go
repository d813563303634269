// Package tui is a terminal chat over a question-answering session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
	"docqa/internal/textnorm"
)

// Asker is the TUI-facing subset of a session.
type Asker interface {
	Ask(ctx context.Context, question string) domain.RAGResponse
}

type exchange struct {
	question string
	response domain.RAGResponse
}

type answerMsg exchange

// Model is the Bubble Tea model for the chat screen. It owns the chat
// history; the session only answers.
type Model struct {
	session  Asker
	ctx      context.Context
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	history  []exchange
	title    string
	status   string
	cursor   int
	pending  bool
	ready    bool
}

// New creates a chat model. title is shown above the transcript.
func New(ctx context.Context, session Asker, title string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return Model{
		session:  session,
		ctx:      ctx,
		timeout:  timeout,
		input:    ti,
		viewport: vp,
		title:    title,
		status:   "Ready. Up/Down cycles sources of the last answer.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		return answerMsg{question: q, response: m.session.Ask(ctx, q)}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, status, input, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.pending = false
		m.history = append(m.history, exchange(msg))
		m.cursor = 0
		m.status = fmt.Sprintf("Answered with %d source(s)", len(msg.response.Sources))
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending {
				return m, nil
			}
			m.input.SetValue("")
			m.pending = true
			m.status = "Thinking..."
			return m, m.ask(q)
		case "down":
			if n := m.sourceCount(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.refresh()
				return m, nil
			}
		case "up":
			if n := m.sourceCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) sourceCount() int {
	if len(m.history) == 0 {
		return 0
	}
	return len(m.history[len(m.history)-1].response.Sources)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the TUI layout and current transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docqa chat")
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.title)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + sub + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.history) == 0 {
		return "No questions yet."
	}
	var sb strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(questionStyle.Render("Q: " + ex.question))
		sb.WriteString("\n")
		sb.WriteString("A: " + ex.response.Answer)
	}
	last := m.history[len(m.history)-1]
	if len(last.response.Sources) > 0 {
		src := last.response.Sources[m.cursor]
		sb.WriteString("\n\n")
		sb.WriteString(sourceStyle.Render(fmt.Sprintf("Source %d/%d  %s", src.Index, len(last.response.Sources), src.Source)))
		sb.WriteString("\n")
		sb.WriteString(highlightBestSentence(src.Excerpt, last.question))
	}
	return sb.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	questionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// highlightBestSentence emphasizes the sentence sharing the most words with
// query. Earlier sentences win ties.
func highlightBestSentence(text, query string) string {
	sentences := textnorm.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	qset := textnorm.TokenSet(query)
	if len(qset) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := 0, -1.0
	for i, s := range sentences {
		if score := textnorm.Ochiai(qset, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}

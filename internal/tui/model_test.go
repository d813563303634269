package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

type fakeSession struct {
	asked []string
}

func (f *fakeSession) Ask(_ context.Context, q string) domain.RAGResponse {
	f.asked = append(f.asked, q)
	return domain.RAGResponse{
		Answer: "X is a protocol for Y.",
		Sources: []domain.Source{
			{Source: "x.txt", Excerpt: "X is a protocol for Y.", Index: 1},
			{Source: "y.txt", Excerpt: "Y is a network.", Index: 2},
		},
	}
}

func TestAskFlow(t *testing.T) {
	sess := &fakeSession{}
	var m tea.Model = New(context.Background(), sess, "2 documents", time.Second)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	assert.Contains(t, m.View(), "No questions yet.")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("What is X?")})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.(Model).pending)
	assert.Empty(t, m.(Model).input.Value())

	// a second enter while waiting does nothing
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	m, _ = m.Update(cmd())
	got := m.(Model)
	assert.Equal(t, []string{"What is X?"}, sess.asked)
	assert.False(t, got.pending)
	require.Len(t, got.history, 1)
	assert.Equal(t, "Answered with 2 source(s)", got.status)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.(Model).cursor)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.(Model).cursor)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.(Model).cursor)
	assert.Contains(t, m.(Model).renderTranscript(), "Source 2/2  y.txt")
}

func TestQuitKeys(t *testing.T) {
	m := New(context.Background(), &fakeSession{}, "", 0)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestHighlightBestSentenceKeepsText(t *testing.T) {
	out := highlightBestSentence("Alpha one. Beta two.", "beta")
	assert.Contains(t, out, "Alpha one.")
	assert.Contains(t, out, "Beta two.")
	assert.Equal(t, "Alpha one. Beta two.", highlightBestSentence("Alpha one. Beta two.", "  "))
	assert.Equal(t, "", highlightBestSentence("", "q"))
}

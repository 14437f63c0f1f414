package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replbridge/internal/config"
	"replbridge/internal/proto"
	"replbridge/internal/scrape"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	sess, err := proto.NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	m := NewMonitor(sess)
	t.Cleanup(m.Close)
	m.resize(80, 24)
	return m
}

func TestMonitor_ViewBeforeResize(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	sess, err := proto.NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	m := NewMonitor(sess)
	t.Cleanup(m.Close)

	assert.Equal(t, "loading...", m.View())
}

func TestMonitor_StatusShowsNotRunning(t *testing.T) {
	m := newTestMonitor(t)
	assert.Contains(t, m.View(), "not running")
}

func TestMonitor_OutputEventAppendsLines(t *testing.T) {
	m := newTestMonitor(t)

	m.applyEvent(proto.Event{Type: proto.EventOutput, Output: "first\nsec"})
	m.applyEvent(proto.Event{Type: proto.EventOutput, Output: "ond\n"})

	require.Len(t, m.lines, 2)
	assert.Equal(t, "first", m.lines[0])
	assert.Equal(t, "second", m.lines[1])
	assert.Empty(t, m.partial)
}

func TestMonitor_PartialLineStaysOutOfScrollback(t *testing.T) {
	m := newTestMonitor(t)

	m.applyEvent(proto.Event{Type: proto.EventOutput, Output: "no newline yet"})

	assert.Empty(t, m.lines)
	assert.Equal(t, "no newline yet", m.partial)
}

func TestMonitor_FrameEventUpdatesStatus(t *testing.T) {
	m := newTestMonitor(t)

	m.applyEvent(proto.Event{
		Type:  proto.EventFrameChanged,
		Frame: &scrape.Frame{File: "/tmp/a.pro", Line: 42, Routine: "FOO"},
	})

	view := m.View()
	assert.Contains(t, view, "FOO @ /tmp/a.pro:42")
}

func TestMonitor_StateEventClearsFrame(t *testing.T) {
	m := newTestMonitor(t)
	m.applyEvent(proto.Event{
		Type:  proto.EventFrameChanged,
		Frame: &scrape.Frame{File: "/tmp/a.pro", Line: 42},
	})

	m.applyEvent(proto.Event{Type: proto.EventStateChanged, Running: false})

	assert.Nil(t, m.frame)
	assert.Contains(t, m.View(), "not running")
}

func TestMonitor_ErrorOverlayFuzzyFilter(t *testing.T) {
	m := newTestMonitor(t)
	now := time.Now()
	m.errEntries = []proto.ErrorEntry{
		{Text: "% Syntax error at line 3", At: now},
		{Text: "% Variable is undefined: FOO", At: now},
		{Text: "% Array subscript out of range", At: now},
	}

	m.errOverlay = true
	m.errFilter.SetValue("undef")

	visible := m.visibleErrors()
	require.Len(t, visible, 1)
	assert.Contains(t, visible[0].Text, "undefined")
}

func TestMonitor_ErrorOverlayEmptyFilterShowsAll(t *testing.T) {
	m := newTestMonitor(t)
	m.errEntries = []proto.ErrorEntry{
		{Text: "one"}, {Text: "two"},
	}
	m.errOverlay = true

	assert.Len(t, m.visibleErrors(), 2)
}

func TestMonitor_EnterOnEmptyInputIsNoop(t *testing.T) {
	m := newTestMonitor(t)

	model, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})

	got := model.(*Monitor)
	assert.Empty(t, got.lines)
}

func TestMonitor_SubmitWhileStoppedReportsError(t *testing.T) {
	m := newTestMonitor(t)
	m.input.SetValue("print,1")

	model, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})

	got := model.(*Monitor)
	require.Len(t, got.lines, 1)
	assert.True(t, strings.Contains(got.lines[0], "not running"))
	assert.Empty(t, got.input.Value())
}

func TestMonitor_CtrlETogglesOverlay(t *testing.T) {
	m := newTestMonitor(t)

	model, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlE})
	got := model.(*Monitor)
	assert.True(t, got.errOverlay)

	model, _ = got.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	got = model.(*Monitor)
	assert.False(t, got.errOverlay)
}

func TestMonitor_ScrollbackBounded(t *testing.T) {
	m := newTestMonitor(t)
	for i := 0; i < maxScrollback+100; i++ {
		m.appendLine("line")
	}
	assert.Len(t, m.lines, maxScrollback)
}

func TestInitTheme(t *testing.T) {
	InitTheme("light")
	assert.Equal(t, ThemeLight, GetCurrentTheme())

	InitTheme("dark")
	assert.Equal(t, ThemeDark, GetCurrentTheme())
}

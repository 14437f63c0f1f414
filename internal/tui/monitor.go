// Package tui renders an interactive monitor over one bridge session:
// interpreter output in a scrollback viewport, a status bar with the
// current halt frame, a command input line, and an error-log overlay.
package tui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"replbridge/internal/clipboard"
	"replbridge/internal/logging"
	"replbridge/internal/proto"
	"replbridge/internal/scrape"
)

var tuiLog = logging.ForComponent(logging.CompTUI)

// maxScrollback bounds the number of output lines kept in memory.
const maxScrollback = 5000

type sessionEventMsg proto.Event

type eventsClosedMsg struct{}

// Monitor is the root bubbletea model.
type Monitor struct {
	sess         *proto.Session
	events       <-chan proto.Event
	cancelEvents func()

	vp    viewport.Model
	input textinput.Model

	width  int
	height int
	sized  bool

	lines   []string
	partial string

	running bool
	frame   *scrape.Frame
	note    string
	bpCount int

	errOverlay bool
	errFilter  textinput.Model
	errEntries []proto.ErrorEntry
	errCursor  int

	quitting bool
}

// NewMonitor builds a monitor bound to the session. The caller owns the
// session lifecycle; Close only drops the event subscription.
func NewMonitor(sess *proto.Session) *Monitor {
	ti := textinput.New()
	ti.Placeholder = "command (enter to send)"
	ti.Prompt = promptStyle.Render("> ")
	ti.CharLimit = 512
	ti.Focus()

	ef := textinput.New()
	ef.Placeholder = "filter errors..."
	ef.CharLimit = 100

	events, cancel := sess.Subscribe()
	return &Monitor{
		sess:         sess,
		events:       events,
		cancelEvents: cancel,
		input:        ti,
		errFilter:    ef,
		running:      sess.Running(),
		frame:        sess.HaltFrame(),
		errEntries:   sess.Errors(),
		bpCount:      len(sess.Breakpoints()),
	}
}

// Close releases the event subscription.
func (m *Monitor) Close() {
	if m.cancelEvents != nil {
		m.cancelEvents()
	}
}

func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.waitEvent, textinput.Blink)
}

// waitEvent blocks on the session event channel and hands the next event
// to Update. Re-issued after every delivery.
func (m *Monitor) waitEvent() tea.Msg {
	e, ok := <-m.events
	if !ok {
		return eventsClosedMsg{}
	}
	return sessionEventMsg(e)
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case sessionEventMsg:
		m.applyEvent(proto.Event(msg))
		return m, m.waitEvent

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.errOverlay {
		return m.handleOverlayKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		if m.running {
			// First Ctrl+C interrupts the interpreter, like a terminal.
			if err := m.sess.Interrupt(); err == nil {
				return m, nil
			}
		}
		m.quitting = true
		return m, tea.Quit

	case "ctrl+d":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		if err := m.sess.Submit(text, proto.SubmitOptions{}); err != nil {
			m.appendLine(errorStyle.Render("! " + err.Error()))
		}
		return m, nil

	case "ctrl+e":
		m.errOverlay = true
		m.errFilter.Reset()
		m.errFilter.Focus()
		m.input.Blur()
		m.errCursor = len(m.errEntries) - 1
		return m, nil

	case "ctrl+n":
		m.moveError(m.sess.NextError())
		return m, nil

	case "ctrl+p":
		m.moveError(m.sess.PrevError())
		return m, nil

	case "f5":
		m.controlErr(m.sess.Continue())
		return m, nil
	case "f6":
		m.controlErr(m.sess.Step())
		return m, nil
	case "f7":
		m.controlErr(m.sess.StepOver())
		return m, nil
	case "f8":
		m.controlErr(m.sess.StepOut())
		return m, nil

	case "ctrl+y":
		if m.frame == nil {
			return m, nil
		}
		loc := fmt.Sprintf("%s:%d", m.frame.File, m.frame.Line)
		if method, err := clipboard.Copy(loc); err == nil {
			m.note = "copied " + loc + " (" + method + ")"
		} else {
			m.note = "copy failed"
			tuiLog.Warn("clipboard_copy_failed", slog.String("error", err.Error()))
		}
		return m, nil

	case "ctrl+up":
		if frame, note, err := m.sess.StackUp(); err == nil {
			m.frame, m.note = frame, note
		}
		return m, nil
	case "ctrl+down":
		if frame, note, err := m.sess.StackDown(); err == nil {
			m.frame, m.note = frame, note
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Monitor) handleOverlayKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+e":
		m.errOverlay = false
		m.errFilter.Blur()
		m.input.Focus()
		return m, nil
	case "up":
		if m.errCursor > 0 {
			m.errCursor--
		}
		return m, nil
	case "down":
		if m.errCursor < len(m.visibleErrors())-1 {
			m.errCursor++
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.errFilter, cmd = m.errFilter.Update(msg)
	if visible := m.visibleErrors(); m.errCursor >= len(visible) {
		m.errCursor = len(visible) - 1
	}
	return m, cmd
}

func (m *Monitor) controlErr(err error) {
	if err != nil {
		m.appendLine(errorStyle.Render("! " + err.Error()))
	}
}

func (m *Monitor) moveError(e *proto.ErrorEntry, err error) {
	if err != nil || e == nil {
		return
	}
	if e.Frame != nil {
		m.frame = e.Frame
		m.note = "error log"
	}
	m.appendLine(errorStyle.Render(firstLine(e.Text)))
}

func (m *Monitor) applyEvent(e proto.Event) {
	switch e.Type {
	case proto.EventOutput:
		m.appendOutput(e.Output)
	case proto.EventFrameChanged:
		m.frame = e.Frame
		m.note = e.Note
	case proto.EventBreakpointsChanged:
		m.bpCount = len(e.Breakpoints)
	case proto.EventErrorLogged:
		if e.Error != nil {
			m.errEntries = append(m.errEntries, *e.Error)
		}
	case proto.EventStateChanged:
		m.running = e.Running
		if !e.Running {
			m.frame = nil
			m.note = ""
			tuiLog.Info("interpreter_stopped")
		}
	}
}

// appendOutput splits a chunk of interpreter output into scrollback lines,
// keeping an unterminated trailing fragment out of the viewport until its
// newline arrives.
func (m *Monitor) appendOutput(text string) {
	text = m.partial + text
	m.partial = ""
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			m.partial = text
			break
		}
		m.appendLine(text[:i])
		text = text[i+1:]
	}
	m.refreshViewport()
}

func (m *Monitor) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
	m.refreshViewport()
}

func (m *Monitor) refreshViewport() {
	if !m.sized {
		return
	}
	atBottom := m.vp.AtBottom()
	m.vp.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.vp.GotoBottom()
	}
}

func (m *Monitor) resize(width, height int) {
	m.width = width
	m.height = height

	// Status bar and input line take one row each.
	vpHeight := height - 2
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.sized {
		m.vp = viewport.New(width, vpHeight)
		m.sized = true
	} else {
		m.vp.Width = width
		m.vp.Height = vpHeight
	}
	m.input.Width = width - 4
	m.errFilter.Width = width/2 - 6
	m.refreshViewport()
	m.vp.GotoBottom()
}

func (m *Monitor) View() string {
	if m.quitting {
		return ""
	}
	if !m.sized {
		return "loading..."
	}
	if m.errOverlay {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.statusLine(),
			m.errorOverlayView(),
			m.input.View(),
		)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		m.vp.View(),
		m.input.View(),
	)
}

func (m *Monitor) statusLine() string {
	parts := []string{statusDot(m.running)}

	if m.frame != nil {
		loc := fmt.Sprintf("%s:%d", m.frame.File, m.frame.Line)
		if m.frame.Routine != "" {
			loc = m.frame.Routine + " @ " + loc
		}
		parts = append(parts, frameStyle.Render(loc))
		if depth := m.sess.StackDepth(); depth > 0 {
			parts = append(parts, dimStyle.Render(
				fmt.Sprintf("frame %d/%d", m.sess.StackIndex(), depth-1)))
		}
	} else if m.running {
		parts = append(parts, dimStyle.Render("running"))
	} else {
		parts = append(parts, dimStyle.Render("not running"))
	}

	if m.bpCount > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%d bp", m.bpCount)))
	}
	if n := len(m.errEntries); n > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d err", n)))
	}
	if m.note != "" {
		parts = append(parts, dimStyle.Render(m.note))
	}

	line := strings.Join(parts, "  ")
	line = runewidth.Truncate(line, m.width-2, "…")
	return statusBarStyle.Width(m.width).Render(line)
}

// visibleErrors returns the error entries matching the overlay filter, in
// log order. An empty query matches everything.
func (m *Monitor) visibleErrors() []proto.ErrorEntry {
	query := strings.TrimSpace(m.errFilter.Value())
	if query == "" {
		return m.errEntries
	}
	texts := make([]string, len(m.errEntries))
	for i, e := range m.errEntries {
		texts[i] = firstLine(e.Text)
	}
	matches := fuzzy.Find(query, texts)
	out := make([]proto.ErrorEntry, 0, len(matches))
	for _, match := range matches {
		out = append(out, m.errEntries[match.Index])
	}
	return out
}

func (m *Monitor) errorOverlayView() string {
	height := m.height - 2
	if height < 3 {
		height = 3
	}
	innerWidth := m.width - 4

	var b strings.Builder
	b.WriteString(titleStyle.Render("Error Log"))
	b.WriteString("\n")
	b.WriteString(m.errFilter.View())
	b.WriteString("\n")

	visible := m.visibleErrors()
	if len(visible) == 0 {
		b.WriteString(dimStyle.Render("no errors"))
	}
	listRows := height - 4
	start := 0
	if m.errCursor >= listRows {
		start = m.errCursor - listRows + 1
	}
	for i := start; i < len(visible) && i-start < listRows; i++ {
		e := visible[i]
		row := firstLine(e.Text)
		if e.Frame != nil {
			row += dimStyle.Render(fmt.Sprintf("  (%s:%d)", e.Frame.File, e.Frame.Line))
		}
		row = runewidth.Truncate(row, innerWidth, "…")
		if i == m.errCursor {
			row = frameStyle.Render("▸ ") + row
		} else {
			row = "  " + row
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	return overlayStyle.Width(m.width - 2).Height(height).Render(b.String())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package proto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"replbridge/internal/config"
	"replbridge/internal/debug"
	"replbridge/internal/interp"
	"replbridge/internal/logging"
	"replbridge/internal/scrape"
)

var protoLog = logging.ForComponent(logging.CompProto)

var (
	// ErrNotRunning is returned when a command is submitted with no live
	// interpreter and auto-start is off.
	ErrNotRunning = errors.New("interpreter is not running")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session is closed")
)

// transport is the interpreter subprocess surface the session drives.
// Satisfied by *interp.Process; replaced in tests.
type transport interface {
	WriteLine(string) error
	Write([]byte) (int, error)
	Alive() bool
	Done() <-chan struct{}
	Interrupt() error
	Kill()
}

// pendingCommand is one queued entry: the text to send, whether its output
// is surfaced, a flush group tag, and the follow-up run on its output block.
type pendingCommand struct {
	text     string
	silent   bool
	group    string
	followUp func(block string)
}

// SubmitOptions modify a command submission. Urgent commands go to the head
// of the queue; Group tags commands for flush-on-failure; FollowUp runs with
// the command's output block once its prompt is detected.
type SubmitOptions struct {
	Silent   bool
	Urgent   bool
	Group    string
	FollowUp func(block string)
}

// Session is the command/response engine for one interpreter subprocess.
//
// It serializes command dispatch (at most one command in flight), detects
// prompts in the chunked output stream, classifies each command's output
// block, and keeps the halt frame, breakpoint table, and call-stack index
// synchronized with what the interpreter reports. All state is rebuilt per
// subprocess; an exit resets everything.
type Session struct {
	cfg        *config.Config
	promptRE   *regexp.Regexp
	classifier *scrape.Classifier
	frames     *scrape.FrameParser

	mu     sync.Mutex
	closed bool

	proc transport
	gen  int

	queue  []*pendingCommand
	ready  bool
	active *pendingCommand

	// block accumulates the current command's output; pending holds the
	// trailing unterminated line carried across chunks.
	block   strings.Builder
	pending string

	// pending's escape-sequence sibling: an unterminated ANSI sequence at
	// the end of the last chunk, carried until its terminator arrives.
	ansiTail string

	workDir    string
	haltFrame  *scrape.Frame
	lastOutput time.Time

	errLog    []ErrorEntry
	errCursor int

	bp    *debug.Manager
	stack *debug.StackTracker

	subs    map[int]chan Event
	taps    map[int]chan []byte
	nextSub int

	// launch is the subprocess factory; swapped out in tests.
	launch func(interp.Config, func([]byte)) (transport, error)
}

// NewSession builds a session from configuration. The interpreter is not
// started until Start or the first auto-start submission.
func NewSession(cfg *config.Config) (*Session, error) {
	promptRE, err := regexp.Compile(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("prompt regex: %w", err)
	}
	patterns, err := scrape.CompilePatterns(cfg.BuildPatterns())
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		promptRE:   promptRE,
		classifier: scrape.NewClassifier(patterns),
		frames:     scrape.NewFrameParser(cfg.FramePathPolicy()),
		subs:       make(map[int]chan Event),
		taps:       make(map[int]chan []byte),
		stack:      debug.NewStackTracker(),
		launch: func(pc interp.Config, onChunk func([]byte)) (transport, error) {
			return interp.Start(pc, onChunk)
		},
	}
	s.bp = debug.NewManager(gateSubmitter{s}, cfg.Commands, func() string { return s.workDir })
	s.bp.OnChanged = func(bps []debug.Breakpoint) {
		s.publishLocked(Event{Type: EventBreakpointsChanged, Breakpoints: bps})
	}
	s.bp.OnFailed = func(bp debug.Breakpoint, err error) {
		entry := ErrorEntry{
			Text: fmt.Sprintf("breakpoint %s:%d: %v", bp.File, bp.Line, err),
			At:   time.Now(),
		}
		s.errLog = append(s.errLog, entry)
		s.errCursor = len(s.errLog) - 1
		s.publishLocked(Event{Type: EventErrorLogged, Error: &entry})
	}
	return s, nil
}

// gateSubmitter adapts the session queue for the breakpoint manager. The
// manager only runs inside session callbacks, so the lock is already held.
type gateSubmitter struct{ s *Session }

func (g gateSubmitter) Submit(text string, urgent, silent bool, group string, followUp func(string)) error {
	return g.s.submitLocked(&pendingCommand{
		text: text, silent: silent, group: group, followUp: followUp,
	}, urgent)
}

func (g gateSubmitter) Flush(group string) {
	g.s.flushLocked(group)
}

// Start launches the interpreter subprocess and queues the configured init
// commands. Idempotent while the process is alive.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.proc != nil && s.proc.Alive() {
		return nil
	}

	wd := s.cfg.WorkDir
	if wd == "" {
		wd, _ = os.Getwd()
	}

	proc, err := s.launch(interp.Config{
		Command: s.cfg.Command,
		Args:    s.cfg.Args,
		Dir:     wd,
		Env:     s.cfg.Env,
		NoPTY:   s.cfg.NoPTY,
		Cols:    s.cfg.Cols,
		Rows:    s.cfg.Rows,
	}, s.handleChunk)
	if err != nil {
		return fmt.Errorf("start interpreter: %w", err)
	}

	s.proc = proc
	s.gen++
	gen := s.gen
	s.ready = false
	s.active = nil
	s.queue = nil
	s.workDir = wd
	s.block.Reset()
	s.pending = ""

	go func() {
		<-proc.Done()
		s.handleExit(gen)
	}()

	for _, cmd := range s.cfg.InitCommands {
		_ = s.submitLocked(&pendingCommand{text: cmd, silent: true}, false)
	}

	s.publishLocked(Event{Type: EventStateChanged, Running: true})
	return nil
}

// handleChunk is the single inbound event source: raw subprocess output,
// chunked arbitrarily. Chunks are normalized, committed lines accumulate
// into the current output block, and the trailing unterminated line is
// tested against the prompt pattern.
func (s *Session) handleChunk(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tap := range s.taps {
		c := make([]byte, len(chunk))
		copy(c, chunk)
		select {
		case tap <- c:
		default:
		}
	}

	// An escape sequence split across chunk deliveries would leak its
	// fragments past StripANSI; hold the unterminated tail back like the
	// trailing partial line.
	raw := s.ansiTail + string(chunk)
	raw, s.ansiTail = scrape.IncompleteEscapeTail(raw)
	text := scrape.NormalizeCR(scrape.StripANSI(raw))
	s.pending += text
	s.lastOutput = time.Now()

	if i := strings.LastIndexByte(s.pending, '\n'); i >= 0 {
		committed := s.pending[:i+1]
		s.pending = s.pending[i+1:]
		s.block.WriteString(committed)
		if s.active == nil || !s.active.silent {
			s.publishLocked(Event{Type: EventOutput, Output: committed})
		}
	}

	// Consume the matched prompt so later chunks appended to the trailing
	// buffer (command echo, type-ahead) cannot re-trigger it.
	if loc := s.promptRE.FindStringIndex(s.pending); loc != nil {
		s.pending = s.pending[loc[1]:]
		s.handlePromptLocked()
	}
}

// handlePromptLocked resolves the in-flight command: capture its output
// block, classify it, run the follow-up, then open the gate and dispatch
// the next queued command. The gate stays closed while the follow-up runs
// so a follow-up submission can never dispatch re-entrantly.
func (s *Session) handlePromptLocked() {
	finished := s.active
	s.active = nil
	blockText := s.block.String()
	s.block.Reset()

	s.classifyLocked(blockText, finished)
	if finished != nil && finished.followUp != nil {
		finished.followUp(blockText)
	}

	s.ready = true
	s.dispatchLocked()
}

// classifyLocked runs the output block through the message classifier.
// Silent commands still classify (their follow-ups depend on it) but never
// touch the halt frame or surface display events.
func (s *Session) classifyLocked(block string, finished *pendingCommand) {
	m := s.classifier.Classify(block)
	if m.Kind == scrape.KindNone {
		return
	}
	silent := finished != nil && finished.silent

	switch m.Kind {
	case scrape.KindHalt:
		if silent {
			return
		}
		s.setHaltFrameLocked(s.frames.Parse(m.Rest, s.workDir))

	case scrape.KindBreakpoint:
		// Hit handling (action invocation, table sync) runs regardless of
		// silent mode; only the halt frame and its event are suppressed.
		frame := s.frames.Parse(m.Rest, s.workDir)
		if !silent {
			s.setHaltFrameLocked(frame)
		}
		if frame != nil && !s.bp.OnHit(*frame) {
			// The interpreter stopped at a breakpoint the local table
			// does not know about.
			s.bp.Refresh()
		}

	case scrape.KindSyntaxError, scrape.KindError:
		frame, col := s.frames.ParseErrorLocation(block, s.workDir)
		entry := ErrorEntry{
			Text:  strings.TrimSpace(block[m.Start:]),
			Frame: frame,
			Col:   col,
			At:    time.Now(),
		}
		s.errLog = append(s.errLog, entry)
		s.errCursor = len(s.errLog) - 1
		protoLog.Info("interpreter_error", slog.String("kind", m.Kind.String()),
			slog.String("marker", m.Marker))
		if !silent {
			s.publishLocked(Event{Type: EventErrorLogged, Error: &entry})
		}
	}
}

func (s *Session) setHaltFrameLocked(frame *scrape.Frame) {
	s.haltFrame = frame
	s.publishLocked(Event{Type: EventFrameChanged, Frame: frame})
}

// submitLocked enqueues a command and attempts a dispatch. With no live
// interpreter the command fails with ErrNotRunning unless auto-start is on.
func (s *Session) submitLocked(cmd *pendingCommand, urgent bool) error {
	if s.closed {
		return ErrClosed
	}
	if s.proc == nil || !s.proc.Alive() {
		if !s.cfg.AutoStart {
			return ErrNotRunning
		}
		if err := s.startLocked(); err != nil {
			return err
		}
	}

	if urgent {
		s.queue = append([]*pendingCommand{cmd}, s.queue...)
	} else {
		s.queue = append(s.queue, cmd)
	}
	s.dispatchLocked()
	return nil
}

// dispatchLocked sends the head of the queue when the gate is open. The
// gate closes on dispatch and reopens only on the next prompt, which is the
// one-command-in-flight guarantee everything else relies on.
func (s *Session) dispatchLocked() {
	if !s.ready || s.active != nil || len(s.queue) == 0 {
		return
	}
	if s.proc == nil || !s.proc.Alive() {
		return
	}

	head := s.queue[0]
	s.queue = s.queue[1:]
	s.ready = false
	s.active = head
	s.block.Reset()

	if err := s.proc.WriteLine(head.text); err != nil {
		// The exit watcher will tear down; nothing more to do here.
		protoLog.Warn("dispatch_write_failed", slog.String("error", err.Error()))
		return
	}
	protoLog.Debug("dispatched", slog.String("command", head.text),
		slog.Bool("silent", head.silent))
	if !head.silent {
		s.publishLocked(Event{Type: EventCommandSent, Output: head.text})
	}
}

func (s *Session) flushLocked(group string) {
	if group == "" {
		return
	}
	kept := s.queue[:0]
	for _, cmd := range s.queue {
		if cmd.group != group {
			kept = append(kept, cmd)
		}
	}
	s.queue = kept
}

// handleExit is the single global reset path: queue, breakpoint table,
// stack, and halt frame are all dropped when the subprocess dies.
func (s *Session) handleExit(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.proc == nil {
		return
	}

	protoLog.Info("interpreter_exit_reset")
	s.proc = nil
	s.queue = nil
	s.active = nil
	s.ready = false
	s.block.Reset()
	s.pending = ""
	s.ansiTail = ""
	s.setHaltFrameLocked(nil)
	s.stack.Reset()
	s.bp.Reset()
	s.publishLocked(Event{Type: EventStateChanged, Running: false})
}

// Submit enqueues a free-text command for the interpreter.
func (s *Session) Submit(text string, opts SubmitOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(&pendingCommand{
		text:     text,
		silent:   opts.Silent,
		group:    opts.Group,
		followUp: opts.FollowUp,
	}, opts.Urgent)
}

// SetBreakpoint requests a breakpoint at file:line and starts the
// reconciliation protocol. count is the hit policy (0 none, 1 one-shot,
// >1 break after N); action runs when the breakpoint is hit.
func (s *Session) SetBreakpoint(file string, line, count int, action func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || !s.proc.Alive() {
		if !s.cfg.AutoStart {
			return ErrNotRunning
		}
		if err := s.startLocked(); err != nil {
			return err
		}
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(s.workDir, file)
	}
	s.bp.Request(filepath.Clean(file), line, count, action)
	return nil
}

// ClearBreakpoint removes the breakpoint at file:line.
func (s *Session) ClearBreakpoint(file string, line int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !filepath.IsAbs(file) {
		file = filepath.Join(s.workDir, file)
	}
	return s.bp.Clear(filepath.Clean(file), line)
}

// Breakpoints returns the current local breakpoint table.
func (s *Session) Breakpoints() []debug.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bp.List()
}

// RefreshBreakpoints rebuilds the local table from a fresh interpreter
// listing.
func (s *Session) RefreshBreakpoints() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bp.Refresh()
}

// MarkBreakpointsStale flags breakpoints in file whose source changed on
// disk.
func (s *Session) MarkBreakpointsStale(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bp.MarkStale(file)
}

// RefreshStack queries a traceback and replaces the tracked call stack.
func (s *Session) RefreshStack() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(&pendingCommand{
		text:   s.cfg.Commands.Traceback,
		silent: true,
		followUp: func(block string) {
			s.stack.SetFrames(s.frames.ParseStack(block, s.workDir))
		},
	}, false)
}

// StackUp navigates one frame outward. The returned note is non-empty when
// the index clamped at the outermost frame.
func (s *Session) StackUp() (*scrape.Frame, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, clamped, err := s.stack.Up()
	if err != nil {
		return nil, "", err
	}
	note := ""
	if clamped {
		note = "already at highest-level frame"
	}
	s.publishLocked(Event{Type: EventFrameChanged, Frame: frame, Note: note})
	return frame, note, nil
}

// StackDown navigates one frame inward. The returned note is non-empty when
// the index clamped at the innermost frame.
func (s *Session) StackDown() (*scrape.Frame, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, clamped, err := s.stack.Down()
	if err != nil {
		return nil, "", err
	}
	note := ""
	if clamped {
		note = "already at innermost frame"
	}
	s.publishLocked(Event{Type: EventFrameChanged, Frame: frame, Note: note})
	return frame, note, nil
}

// StackDepth returns the depth of the most recently parsed stack.
func (s *Session) StackDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack.Depth()
}

// StackIndex returns the current stack navigation index.
func (s *Session) StackIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack.Index()
}

// Step executes one statement, stepping into calls.
func (s *Session) Step() error { return s.control(s.cfg.Commands.Step, false) }

// StepOver executes one statement, stepping over calls.
func (s *Session) StepOver() error { return s.control(s.cfg.Commands.StepOver, false) }

// StepOut runs until the current routine returns.
func (s *Session) StepOut() error { return s.control(s.cfg.Commands.StepOut, false) }

// Continue resumes execution. Top-level: resets the stack index.
func (s *Session) Continue() error { return s.control(s.cfg.Commands.Continue, true) }

// Run restarts the current program. Top-level: resets the stack index.
func (s *Session) Run() error { return s.control(s.cfg.Commands.Run, true) }

// ReturnToTop unwinds to the interpreter's top level. Top-level: resets the
// stack index.
func (s *Session) ReturnToTop() error { return s.control(s.cfg.Commands.ReturnToTop, true) }

func (s *Session) control(text string, topLevel bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topLevel {
		s.stack.ResetIndex()
	}
	return s.submitLocked(&pendingCommand{text: text}, false)
}

// Interrupt sends the interpreter an interrupt signal, as if Ctrl+C were
// pressed at its prompt.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || !s.proc.Alive() {
		return ErrNotRunning
	}
	return s.proc.Interrupt()
}

// ResetState sends the configured reset sequence (return to top level,
// clear widgets, close files, garbage-collect), each as an independent
// silent command, and clears the halt frame and stack.
func (s *Session) ResetState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack.Reset()
	s.setHaltFrameLocked(nil)
	for _, text := range s.cfg.Commands.Reset {
		if err := s.submitLocked(&pendingCommand{text: text, silent: true}, false); err != nil {
			return err
		}
	}
	return nil
}

// ResyncDir queries the interpreter's current working directory and adopts
// it for path resolution.
func (s *Session) ResyncDir() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(&pendingCommand{
		text:   s.cfg.Commands.Pwd,
		silent: true,
		followUp: func(block string) {
			for _, line := range strings.Split(block, "\n") {
				line = strings.TrimSpace(line)
				if strings.HasPrefix(line, "/") {
					s.workDir = filepath.Clean(line)
				}
			}
			protoLog.Debug("workdir_resynced", slog.String("dir", s.workDir))
		},
	}, false)
}

// Recompile sends the compile command for a source file.
func (s *Session) Recompile(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(&pendingCommand{
		text: fmt.Sprintf(s.cfg.Commands.Compile, file),
	}, false)
}

// Print evaluates an expression in the interpreter.
func (s *Session) Print(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(&pendingCommand{
		text: fmt.Sprintf(s.cfg.Commands.Print, expr),
	}, false)
}

// Running reports whether the interpreter subprocess is alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && s.proc.Alive()
}

// HaltFrame returns the current stop location, or nil.
func (s *Session) HaltFrame() *scrape.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haltFrame == nil {
		return nil
	}
	f := *s.haltFrame
	return &f
}

// LastOutputAge reports how long ago the interpreter last produced output,
// or zero when it never has. Lets watchdog-minded callers spot a hung
// command without the engine imposing its own timeout.
func (s *Session) LastOutputAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOutput.IsZero() {
		return 0
	}
	return time.Since(s.lastOutput)
}

// WorkDir returns the interpreter's last-known working directory.
func (s *Session) WorkDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

// Errors returns the logged interpreter errors, oldest first.
func (s *Session) Errors() []ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorEntry, len(s.errLog))
	copy(out, s.errLog)
	return out
}

// NextError advances the error cursor and returns the entry there.
func (s *Session) NextError() (*ErrorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errLog) == 0 {
		return nil, errors.New("no errors logged")
	}
	if s.errCursor+1 >= len(s.errLog) {
		return nil, errors.New("no further errors")
	}
	s.errCursor++
	e := s.errLog[s.errCursor]
	return &e, nil
}

// PrevError moves the error cursor back and returns the entry there.
func (s *Session) PrevError() (*ErrorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errLog) == 0 {
		return nil, errors.New("no errors logged")
	}
	if s.errCursor <= 0 {
		return nil, errors.New("no earlier errors")
	}
	s.errCursor--
	e := s.errLog[s.errCursor]
	return &e, nil
}

// Subscribe registers an event channel. The returned cancel func must be
// called to release it. Slow subscribers drop events rather than stall the
// session.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 64)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// TapOutput registers a raw output chunk channel (attach mode passthrough,
// prompt included).
func (s *Session) TapOutput() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan []byte, 64)
	s.taps[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.taps[id]; ok {
			delete(s.taps, id)
			close(ch)
		}
	}
}

// Attach connects the controlling terminal directly to the interpreter
// until Ctrl+Q or exit. Scraping continues while attached.
func (s *Session) Attach(ctx context.Context) error {
	s.mu.Lock()
	proc, ok := s.proc.(*interp.Process)
	s.mu.Unlock()
	if !ok || proc == nil || !proc.Alive() {
		return ErrNotRunning
	}
	out, cancel := s.TapOutput()
	defer cancel()
	return interp.Forward(ctx, proc, out)
}

func (s *Session) publishLocked(e Event) {
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Stop kills the interpreter subprocess, triggering the exit reset.
func (s *Session) Stop() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		proc.Kill()
	}
}

// Close stops the subprocess and releases subscribers. The session cannot
// be reused afterwards.
func (s *Session) Close() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	for id, ch := range s.taps {
		delete(s.taps, id)
		close(ch)
	}
}

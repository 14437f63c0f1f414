package debug

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"replbridge/internal/config"
	"replbridge/internal/logging"
	"replbridge/internal/scrape"
)

var bpLog = logging.ForComponent(logging.CompBreak)

var (
	// ErrBreakpointSet means the interpreter rejected the requested location
	// even after a recompile retry.
	ErrBreakpointSet = errors.New("interpreter could not set breakpoint")

	// ErrReconcileMismatch means the before/after listing diff found no
	// plausible entry for the requested breakpoint.
	ErrReconcileMismatch = errors.New("could not correlate breakpoint with interpreter listing")
)

// Submitter enqueues commands on the interpreter session. Urgent commands go
// to the head of the queue so that multi-step protocols run back-to-back
// with no unrelated command interleaved. Flush drops still-queued commands
// carrying the given group tag.
type Submitter interface {
	Submit(text string, urgent, silent bool, group string, followUp func(block string)) error
	Flush(group string)
}

// State is a breakpoint request's position in the reconciliation protocol.
type State int

const (
	StateRequested State = iota
	StateSnapshotting
	StateSent
	StateReconciling
	StateBound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateSnapshotting:
		return "snapshotting"
	case StateSent:
		return "sent"
	case StateReconciling:
		return "reconciling"
	case StateBound:
		return "bound"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Breakpoint is one entry of the local table, keyed by (File, Line).
// RemoteIndex/RemoteModule are the interpreter's authoritative identity,
// unknown (-1, "") until reconciliation binds the entry.
type Breakpoint struct {
	File         string
	Line         int
	RemoteIndex  int
	RemoteModule string

	// Count is the request-time hit policy: 0 none, 1 one-shot, >1 break
	// after N hits. Enforced by the interpreter, never counted locally.
	Count int

	// Action runs when execution stops at this breakpoint.
	Action func()

	State State

	// Stale marks that the source file changed on disk since the
	// breakpoint was set.
	Stale bool
}

type bpKey struct {
	file string
	line int
}

// The interpreter's complaint when it cannot map a location to compiled
// code.
var setFailRE = regexp.MustCompile(`(?mi)^%.*(unable to (set|find)|no compiled)`)

// Manager owns the local breakpoint table and drives the reconciliation
// protocol over a Submitter. Not goroutine-safe: all calls must come from
// the owning session's event context.
type Manager struct {
	sub     Submitter
	cmds    config.CommandSettings
	workDir func() string

	table   map[bpKey]*Breakpoint
	sources map[string]string

	// OnChanged fires after any table mutation with the full sorted table.
	OnChanged func([]Breakpoint)

	// OnFailed fires when a request reaches the failed state.
	OnFailed func(Breakpoint, error)
}

// NewManager creates an empty manager. workDir supplies the interpreter's
// last-known working directory for resolving relative listing paths.
func NewManager(sub Submitter, cmds config.CommandSettings, workDir func() string) *Manager {
	return &Manager{
		sub:     sub,
		cmds:    cmds,
		workDir: workDir,
		table:   make(map[bpKey]*Breakpoint),
		sources: make(map[string]string),
	}
}

// request carries one breakpoint request through the protocol steps. Each
// step submits exactly one urgent command whose follow-up runs the next
// step, so the chain occupies consecutive head-of-queue slots.
type request struct {
	m       *Manager
	bp      *Breakpoint
	group   string
	before  []scrape.BreakEntry
	retried bool
}

// Request starts the set-and-reconcile protocol for a breakpoint at
// (file, line). count and action are recorded locally; count is translated
// into interpreter flags on the set command. An existing entry at the same
// location is replaced.
func (m *Manager) Request(file string, line, count int, action func()) {
	key := bpKey{file, line}
	bp := &Breakpoint{
		File:        file,
		Line:        line,
		RemoteIndex: -1,
		Count:       count,
		Action:      action,
		State:       StateRequested,
	}
	m.table[key] = bp

	r := &request{
		m:     m,
		bp:    bp,
		group: fmt.Sprintf("bp/%s:%d", file, line),
	}
	bpLog.Info("breakpoint_requested",
		slog.String("file", file), slog.Int("line", line), slog.Int("count", count))
	r.snapshot()
}

func (r *request) submit(text string, followUp func(string)) {
	if err := r.m.sub.Submit(text, true, true, r.group, followUp); err != nil {
		r.fail(err)
	}
}

// snapshot queries the interpreter's breakpoint listing and retains it as
// the "before" side of the diff.
func (r *request) snapshot() {
	r.bp.State = StateSnapshotting
	r.submit(r.m.cmds.BreakQuery, func(block string) {
		r.before = scrape.ParseBreakListing(block)
		r.querySources()
	})
}

// querySources refreshes the module-to-file map before setting, so listing
// entries that name modules instead of paths can be resolved.
func (r *request) querySources() {
	r.bp.State = StateSent
	r.submit(r.m.cmds.SourceQuery, func(block string) {
		r.m.absorbSources(block)
		r.sendSet()
	})
}

func (r *request) sendSet() {
	r.submit(r.setCommand(), r.reconcile)
}

// setCommand translates the count policy into interpreter flags.
func (r *request) setCommand() string {
	switch {
	case r.bp.Count == 1:
		return fmt.Sprintf(r.m.cmds.BreakOnce, r.bp.File, r.bp.Line)
	case r.bp.Count > 1:
		return fmt.Sprintf(r.m.cmds.BreakAfter, r.bp.Count, r.bp.File, r.bp.Line)
	default:
		return fmt.Sprintf(r.m.cmds.BreakSet, r.bp.File, r.bp.Line)
	}
}

// reconcile inspects the set command's output. A location failure earns one
// recompile-and-retry; a second failure is terminal. On apparent success the
// listing is re-queried for the "after" side of the diff.
func (r *request) reconcile(block string) {
	r.bp.State = StateReconciling
	if setFailRE.MatchString(block) {
		if !r.retried {
			r.retried = true
			bpLog.Info("breakpoint_retry_recompile", slog.String("file", r.bp.File))
			r.submit(fmt.Sprintf(r.m.cmds.Compile, r.bp.File), func(string) {
				r.sendSet()
			})
			return
		}
		r.fail(fmt.Errorf("%w: %s:%d", ErrBreakpointSet, r.bp.File, r.bp.Line))
		return
	}
	r.submit(r.m.cmds.BreakQuery, r.diff)
}

// diff locates the new entry: the first listing-order entry whose
// (index, module) pair is absent from the before snapshot. With no new
// entry, an existing entry at the requested location is the replacement
// fallback. The bound entry's file must match the request.
func (r *request) diff(block string) {
	after := scrape.ParseBreakListing(block)

	type identity struct {
		index  int
		module string
	}
	seen := make(map[identity]bool, len(r.before))
	for _, e := range r.before {
		seen[identity{e.Index, e.Module}] = true
	}

	var cand *scrape.BreakEntry
	for i := range after {
		if !seen[identity{after[i].Index, after[i].Module}] {
			cand = &after[i]
			break
		}
	}
	if cand == nil {
		for i := range after {
			if r.m.entryFile(after[i]) == r.bp.File && after[i].Line == r.bp.Line {
				cand = &after[i]
				break
			}
		}
	}
	if cand == nil {
		r.fail(fmt.Errorf("%w: %s:%d", ErrReconcileMismatch, r.bp.File, r.bp.Line))
		return
	}
	if got := r.m.entryFile(*cand); got != r.bp.File {
		r.fail(fmt.Errorf("%w: listing reports %s for %s:%d",
			ErrReconcileMismatch, got, r.bp.File, r.bp.Line))
		return
	}

	r.bp.RemoteIndex = cand.Index
	r.bp.RemoteModule = cand.Module
	r.bp.State = StateBound
	bpLog.Info("breakpoint_bound",
		slog.String("file", r.bp.File), slog.Int("line", r.bp.Line),
		slog.Int("remote_index", cand.Index), slog.String("module", cand.Module))
	r.m.changed()
}

// fail drops the entry, flushes the request's still-queued protocol steps,
// and reports.
func (r *request) fail(err error) {
	r.bp.State = StateFailed
	delete(r.m.table, bpKey{r.bp.File, r.bp.Line})
	r.m.sub.Flush(r.group)
	bpLog.Warn("breakpoint_failed",
		slog.String("file", r.bp.File), slog.Int("line", r.bp.Line),
		slog.String("error", err.Error()))
	if r.m.OnFailed != nil {
		r.m.OnFailed(*r.bp, err)
	}
	r.m.changed()
}

// Clear removes the breakpoint at (file, line): bound entries are cleared
// by remote index and confirmed by a listing refresh; unbound entries are
// dropped locally.
func (m *Manager) Clear(file string, line int) error {
	key := bpKey{file, line}
	bp, ok := m.table[key]
	if !ok {
		return fmt.Errorf("no breakpoint at %s:%d", file, line)
	}
	if bp.State != StateBound {
		delete(m.table, key)
		m.changed()
		return nil
	}
	return m.sub.Submit(fmt.Sprintf(m.cmds.BreakClear, bp.RemoteIndex), false, true, "",
		func(string) { m.Refresh() })
}

// Refresh rebuilds the local table from a fresh interpreter listing.
func (m *Manager) Refresh() {
	err := m.sub.Submit(m.cmds.BreakQuery, false, true, "", m.rebuild)
	if err != nil {
		bpLog.Warn("breakpoint_refresh_failed", slog.String("error", err.Error()))
	}
}

// rebuild replaces the table with the listing's entries. Count, action, and
// staleness survive by matching (file, line) against the prior table; they
// are local history the interpreter never reports. In-flight requests are
// carried over untouched.
func (m *Manager) rebuild(block string) {
	entries := scrape.ParseBreakListing(block)
	old := m.table
	m.table = make(map[bpKey]*Breakpoint, len(entries))

	for _, e := range entries {
		file := m.entryFile(e)
		key := bpKey{file, e.Line}
		bp := &Breakpoint{
			File:         file,
			Line:         e.Line,
			RemoteIndex:  e.Index,
			RemoteModule: e.Module,
			State:        StateBound,
		}
		if prev, ok := old[key]; ok {
			bp.Count = prev.Count
			bp.Action = prev.Action
			bp.Stale = prev.Stale
		}
		m.table[key] = bp
	}

	for key, bp := range old {
		if bp.State != StateBound && bp.State != StateFailed {
			if _, exists := m.table[key]; !exists {
				m.table[key] = bp
			}
		}
	}
	m.changed()
}

// OnHit looks up the breakpoint at the halt frame and runs its action.
// A false return means the interpreter stopped at a breakpoint the local
// table does not know about; the caller should refresh the listing.
func (m *Manager) OnHit(frame scrape.Frame) bool {
	bp, ok := m.table[bpKey{frame.File, frame.Line}]
	if !ok {
		return false
	}
	if bp.Action != nil {
		bp.Action()
	}
	return true
}

// MarkStale flags every breakpoint in file as stale (source changed on
// disk since the breakpoint was set).
func (m *Manager) MarkStale(file string) {
	dirty := false
	for _, bp := range m.table {
		if bp.File == file && !bp.Stale {
			bp.Stale = true
			dirty = true
		}
	}
	if dirty {
		m.changed()
	}
}

// List returns the table sorted by file then line.
func (m *Manager) List() []Breakpoint {
	out := make([]Breakpoint, 0, len(m.table))
	for _, bp := range m.table {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Reset wipes the table and source map. Called when the interpreter exits;
// breakpoint state never outlives the process that owns it.
func (m *Manager) Reset() {
	m.table = make(map[bpKey]*Breakpoint)
	m.sources = make(map[string]string)
	m.changed()
}

// absorbSources merges a source-listing block into the module-to-file map.
func (m *Manager) absorbSources(block string) {
	for _, e := range scrape.ParseSourceListing(block) {
		m.sources[e.Module] = e.File
	}
}

// entryFile resolves a listing entry's file column: a bare module reference
// falls back to the source map, and relative paths resolve against the
// interpreter working directory.
func (m *Manager) entryFile(e scrape.BreakEntry) string {
	file := e.File
	if !strings.ContainsRune(file, '/') {
		if mapped, ok := m.sources[e.Module]; ok {
			file = mapped
		}
	}
	if !filepath.IsAbs(file) && m.workDir != nil {
		if wd := m.workDir(); wd != "" {
			file = filepath.Join(wd, file)
		}
	}
	return filepath.Clean(file)
}

func (m *Manager) changed() {
	if m.OnChanged != nil {
		m.OnChanged(m.List())
	}
}

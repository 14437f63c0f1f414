package debug

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replbridge/internal/config"
	"replbridge/internal/scrape"
)

type fakeCmd struct {
	text     string
	urgent   bool
	silent   bool
	group    string
	followUp func(string)
}

// fakeSubmitter mimics the session queue: urgent commands prepend, respond
// pops the head and runs its follow-up with a canned output block.
type fakeSubmitter struct {
	t       *testing.T
	queue   []fakeCmd
	flushed []string
}

func (f *fakeSubmitter) Submit(text string, urgent, silent bool, group string, followUp func(string)) error {
	c := fakeCmd{text: text, urgent: urgent, silent: silent, group: group, followUp: followUp}
	if urgent {
		f.queue = append([]fakeCmd{c}, f.queue...)
	} else {
		f.queue = append(f.queue, c)
	}
	return nil
}

func (f *fakeSubmitter) Flush(group string) {
	f.flushed = append(f.flushed, group)
	kept := f.queue[:0]
	for _, c := range f.queue {
		if c.group != group {
			kept = append(kept, c)
		}
	}
	f.queue = kept
}

// respond asserts the next dispatched command and feeds it an output block.
func (f *fakeSubmitter) respond(wantCmd, block string) {
	f.t.Helper()
	require.NotEmpty(f.t, f.queue, "expected a queued command, want %q", wantCmd)
	head := f.queue[0]
	f.queue = f.queue[1:]
	require.Equal(f.t, wantCmd, head.text)
	if head.followUp != nil {
		head.followUp(block)
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeSubmitter) {
	sub := &fakeSubmitter{t: t}
	cmds := config.CommandSettings{
		BreakQuery:  "help,/breakpoints",
		SourceQuery: "help,/source",
		BreakSet:    "breakpoint,'%s',%d",
		BreakOnce:   "breakpoint,/once,'%s',%d",
		BreakAfter:  "breakpoint,after=%d,'%s',%d",
		BreakClear:  "breakpoint,/clear,%d",
		Compile:     ".compile '%s'",
	}
	m := NewManager(sub, cmds, func() string { return "/work" })
	return m, sub
}

const beforeListing = `Breakpoints:
 Index  Module      Line  File
     1  ALPHA         10  /tmp/alpha.pro
     2  BETA          20  /tmp/beta.pro
     3  GAMMA         30  /tmp/gamma.pro
`

func TestRequest_BindsNewEntry(t *testing.T) {
	m, sub := newTestManager(t)

	m.Request("/tmp/foo.pro", 42, 0, nil)

	sub.respond("help,/breakpoints", beforeListing)
	sub.respond("help,/source", "Compiled Procedures:\nFOO  /tmp/foo.pro\n")
	sub.respond("breakpoint,'/tmp/foo.pro',42", "")
	sub.respond("help,/breakpoints", beforeListing+"     4  FOO           42  /tmp/foo.pro\n")

	bps := m.List()
	require.Len(t, bps, 1)
	assert.Equal(t, StateBound, bps[0].State)
	assert.Equal(t, 4, bps[0].RemoteIndex)
	assert.Equal(t, "FOO", bps[0].RemoteModule)
	assert.Equal(t, "/tmp/foo.pro", bps[0].File)
	assert.Equal(t, 42, bps[0].Line)
	assert.Empty(t, sub.queue, "protocol should leave no residue")
}

func TestRequest_ReplacementFallback(t *testing.T) {
	m, sub := newTestManager(t)

	// Setting on a line that already has a breakpoint: the listing gains no
	// new (index, module) pair, so the existing entry at the requested
	// location is bound instead.
	m.Request("/tmp/beta.pro", 20, 0, nil)

	sub.respond("help,/breakpoints", beforeListing)
	sub.respond("help,/source", "")
	sub.respond("breakpoint,'/tmp/beta.pro',20", "")
	sub.respond("help,/breakpoints", beforeListing)

	bps := m.List()
	require.Len(t, bps, 1)
	assert.Equal(t, StateBound, bps[0].State)
	assert.Equal(t, 2, bps[0].RemoteIndex)
	assert.Equal(t, "BETA", bps[0].RemoteModule)
}

func TestRequest_ReconcileMismatch(t *testing.T) {
	m, sub := newTestManager(t)

	var failedErr error
	m.OnFailed = func(_ Breakpoint, err error) { failedErr = err }

	m.Request("/tmp/foo.pro", 42, 0, nil)

	sub.respond("help,/breakpoints", beforeListing)
	sub.respond("help,/source", "")
	sub.respond("breakpoint,'/tmp/foo.pro',42", "")
	// No new entry and nothing at the requested location.
	sub.respond("help,/breakpoints", beforeListing)

	require.Error(t, failedErr)
	assert.True(t, errors.Is(failedErr, ErrReconcileMismatch))
	assert.Empty(t, m.List(), "failed request must not linger in the table")
}

func TestRequest_FileMismatchFails(t *testing.T) {
	m, sub := newTestManager(t)

	var failedErr error
	m.OnFailed = func(_ Breakpoint, err error) { failedErr = err }

	m.Request("/tmp/foo.pro", 42, 0, nil)

	sub.respond("help,/breakpoints", beforeListing)
	sub.respond("help,/source", "")
	sub.respond("breakpoint,'/tmp/foo.pro',42", "")
	// The new entry landed in a different file than requested.
	sub.respond("help,/breakpoints", beforeListing+"     4  FOO           42  /tmp/other.pro\n")

	require.Error(t, failedErr)
	assert.True(t, errors.Is(failedErr, ErrReconcileMismatch))
	assert.Empty(t, m.List())
}

func TestRequest_RecompileRetryOnce(t *testing.T) {
	m, sub := newTestManager(t)

	m.Request("/tmp/foo.pro", 42, 0, nil)

	sub.respond("help,/breakpoints", beforeListing)
	sub.respond("help,/source", "")
	sub.respond("breakpoint,'/tmp/foo.pro',42",
		"% BREAKPOINT: Unable to find code at FOO line 42.\n")
	sub.respond(".compile '/tmp/foo.pro'", "% Compiled module: FOO.\n")
	sub.respond("breakpoint,'/tmp/foo.pro',42", "")
	sub.respond("help,/breakpoints", beforeListing+"     4  FOO           42  /tmp/foo.pro\n")

	bps := m.List()
	require.Len(t, bps, 1)
	assert.Equal(t, StateBound, bps[0].State)
}

func TestRequest_SecondFailureIsTerminal(t *testing.T) {
	m, sub := newTestManager(t)

	var failedErr error
	m.OnFailed = func(_ Breakpoint, err error) { failedErr = err }

	m.Request("/tmp/foo.pro", 42, 0, nil)

	sub.respond("help,/breakpoints", beforeListing)
	sub.respond("help,/source", "")
	sub.respond("breakpoint,'/tmp/foo.pro',42",
		"% BREAKPOINT: Unable to find code at FOO line 42.\n")
	sub.respond(".compile '/tmp/foo.pro'", "% Syntax error.\n")
	sub.respond("breakpoint,'/tmp/foo.pro',42",
		"% BREAKPOINT: Unable to find code at FOO line 42.\n")

	require.Error(t, failedErr)
	assert.True(t, errors.Is(failedErr, ErrBreakpointSet))
	assert.Empty(t, m.List())
	assert.Contains(t, sub.flushed, "bp//tmp/foo.pro:42")
}

func TestRequest_CountFlags(t *testing.T) {
	m, sub := newTestManager(t)

	m.Request("/tmp/foo.pro", 42, 1, nil)
	sub.respond("help,/breakpoints", "")
	sub.respond("help,/source", "")
	sub.respond("breakpoint,/once,'/tmp/foo.pro',42", "")
	sub.respond("help,/breakpoints", "     1  FOO           42  /tmp/foo.pro\n")

	m.Request("/tmp/bar.pro", 7, 5, nil)
	sub.respond("help,/breakpoints", "     1  FOO           42  /tmp/foo.pro\n")
	sub.respond("help,/source", "")
	sub.respond("breakpoint,after=5,'/tmp/bar.pro',7", "")
	sub.respond("help,/breakpoints",
		"     1  FOO           42  /tmp/foo.pro\n     2  BAR            7  /tmp/bar.pro\n")

	require.Len(t, m.List(), 2)
}

func TestRefresh_PreservesCountAndAction(t *testing.T) {
	m, _ := newTestManager(t)

	fired := false
	m.table[bpKey{"/tmp/foo.pro", 42}] = &Breakpoint{
		File: "/tmp/foo.pro", Line: 42, RemoteIndex: 1, RemoteModule: "FOO",
		Count: 3, Action: func() { fired = true }, State: StateBound,
	}

	m.rebuild("     7  FOO           42  /tmp/foo.pro\n     8  BAR           10  /tmp/bar.pro\n")

	bps := m.List()
	require.Len(t, bps, 2)

	var foo *Breakpoint
	for i := range bps {
		if bps[i].File == "/tmp/foo.pro" {
			foo = &bps[i]
		}
	}
	require.NotNil(t, foo)
	assert.Equal(t, 7, foo.RemoteIndex, "remote identity comes from the listing")
	assert.Equal(t, 3, foo.Count, "count is local history, never rebuilt from the listing")
	require.NotNil(t, foo.Action)
	foo.Action()
	assert.True(t, fired)
}

func TestRebuild_ResolvesModuleViaSources(t *testing.T) {
	m, _ := newTestManager(t)
	m.absorbSources("Compiled Procedures:\nFOO  /tmp/foo.pro\n")

	// Listing names the module instead of a path.
	m.rebuild("     1  FOO           42  FOO\n")

	bps := m.List()
	require.Len(t, bps, 1)
	assert.Equal(t, "/tmp/foo.pro", bps[0].File)
}

func TestOnHit(t *testing.T) {
	m, _ := newTestManager(t)

	hit := false
	m.table[bpKey{"/tmp/foo.pro", 42}] = &Breakpoint{
		File: "/tmp/foo.pro", Line: 42, State: StateBound,
		Action: func() { hit = true },
	}

	assert.True(t, m.OnHit(scrape.Frame{File: "/tmp/foo.pro", Line: 42}))
	assert.True(t, hit)
	assert.False(t, m.OnHit(scrape.Frame{File: "/tmp/foo.pro", Line: 99}),
		"unknown frame should report not-found so the caller refreshes")
}

func TestClear_BoundEntryConfirmsViaRefresh(t *testing.T) {
	m, sub := newTestManager(t)

	m.table[bpKey{"/tmp/foo.pro", 42}] = &Breakpoint{
		File: "/tmp/foo.pro", Line: 42, RemoteIndex: 2, RemoteModule: "FOO",
		State: StateBound,
	}

	require.NoError(t, m.Clear("/tmp/foo.pro", 42))
	sub.respond("breakpoint,/clear,2", "")
	sub.respond("help,/breakpoints", "")

	assert.Empty(t, m.List())
}

func TestClear_UnboundEntryDropsLocally(t *testing.T) {
	m, sub := newTestManager(t)

	m.table[bpKey{"/tmp/foo.pro", 42}] = &Breakpoint{
		File: "/tmp/foo.pro", Line: 42, RemoteIndex: -1, State: StateRequested,
	}

	require.NoError(t, m.Clear("/tmp/foo.pro", 42))
	assert.Empty(t, sub.queue, "unbound clear needs no interpreter round-trip")
	assert.Empty(t, m.List())
}

func TestMarkStale(t *testing.T) {
	m, _ := newTestManager(t)

	var changes int
	m.OnChanged = func([]Breakpoint) { changes++ }

	m.table[bpKey{"/tmp/foo.pro", 42}] = &Breakpoint{File: "/tmp/foo.pro", Line: 42, State: StateBound}
	m.MarkStale("/tmp/foo.pro")
	assert.True(t, m.List()[0].Stale)
	assert.Equal(t, 1, changes)

	// Already stale: no further change notification.
	m.MarkStale("/tmp/foo.pro")
	assert.Equal(t, 1, changes)
}

func TestReset(t *testing.T) {
	m, _ := newTestManager(t)
	m.table[bpKey{"/tmp/foo.pro", 42}] = &Breakpoint{File: "/tmp/foo.pro", Line: 42, State: StateBound}
	m.absorbSources("FOO  /tmp/foo.pro\n")

	m.Reset()

	assert.Empty(t, m.List())
	assert.Empty(t, m.sources)
}

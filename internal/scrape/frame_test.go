package scrape

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFrameParser_Simple(t *testing.T) {
	p := NewFrameParser(PathExpand)
	f := p.Parse(" MYPROC    42 /tmp/a.pro\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.Routine != "MYPROC" || f.Line != 42 || f.File != "/tmp/a.pro" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestFrameParser_MainRoutine(t *testing.T) {
	p := NewFrameParser(PathExpand)
	f := p.Parse(" $MAIN$    3 /tmp/a.pro\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.Routine != "$MAIN$" {
		t.Errorf("routine = %q, want $MAIN$", f.Routine)
	}
}

func TestFrameParser_NoMatch(t *testing.T) {
	p := NewFrameParser(PathExpand)
	if f := p.Parse("no location in here\n", ""); f != nil {
		t.Errorf("expected nil frame, got %+v", f)
	}
}

func TestFrameParser_WrappedRoutine(t *testing.T) {
	p := NewFrameParser(PathExpand)
	f := p.Parse(" VERYLONGROUT\n    INENAME    42 /tmp/a.pro\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.Routine != "VERYLONGROUTINENAME" {
		t.Errorf("routine = %q", f.Routine)
	}
	if f.Line != 42 || f.File != "/tmp/a.pro" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestFrameParser_WrappedLineNumber(t *testing.T) {
	p := NewFrameParser(PathExpand)
	f := p.Parse(" FOO    4\n    2 /tmp/a.pro\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.Line != 42 {
		t.Errorf("line = %d, want 42", f.Line)
	}
}

func TestFrameParser_WrappedFileExistingWins(t *testing.T) {
	// Round-trip property: wrap injected inside the file path, and the
	// candidate that exists on disk is preferred.
	p := NewFrameParser(PathExpand)
	p.SetFileExists(func(path string) bool {
		return path == "/tmp/a.pro"
	})

	f := p.Parse(" FOO    42 /tmp/a.\n    pro\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.File != "/tmp/a.pro" || f.Line != 42 || f.Routine != "FOO" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestFrameParser_WrappedFileGarbageDropped(t *testing.T) {
	// The last wrapped segment is trailing garbage from a following
	// message; the shorter candidate exists and must win.
	p := NewFrameParser(PathExpand)
	p.SetFileExists(func(path string) bool {
		return path == "/tmp/a.pro"
	})

	f := p.Parse(" FOO    42 /tmp/a.pro\n    garbage\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.File != "/tmp/a.pro" {
		t.Errorf("file = %q, want /tmp/a.pro", f.File)
	}
}

func TestFrameParser_WrappedFileNeitherExists(t *testing.T) {
	p := NewFrameParser(PathExpand)
	p.SetFileExists(func(string) bool { return false })

	f := p.Parse(" FOO    42 rel.\n    pro\n", "/work")
	if f == nil {
		t.Fatal("expected frame")
	}
	// Shorter candidate preferred when neither resolves.
	if f.File != "/work/rel." {
		t.Errorf("file = %q, want /work/rel.", f.File)
	}
}

func TestFrameParser_RelativePathResolvedAgainstWorkDir(t *testing.T) {
	p := NewFrameParser(PathExpand)
	f := p.Parse(" FOO    7 sub/a.pro\n", "/home/user")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.File != "/home/user/sub/a.pro" {
		t.Errorf("file = %q", f.File)
	}
}

func TestFrameParser_ResolveSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.pro")
	if err := os.WriteFile(real, []byte("end\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.pro")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	p := NewFrameParser(PathResolveSymlinks)
	f := p.Parse(" FOO    1 "+link+"\n", "")
	if f == nil {
		t.Fatal("expected frame")
	}
	resolved, err := filepath.EvalSymlinks(real)
	if err != nil {
		t.Fatal(err)
	}
	if f.File != resolved {
		t.Errorf("file = %q, want %q", f.File, resolved)
	}
}

func TestFrame_Equal(t *testing.T) {
	a := Frame{File: "/tmp/a.pro", Line: 3, Routine: "FOO"}
	b := Frame{File: "/tmp/a.pro", Line: 3, Routine: "BAR"}
	c := Frame{File: "/tmp/a.pro", Line: 4, Routine: "FOO"}

	if !a.Equal(b) {
		t.Error("routine must not affect identity")
	}
	if a.Equal(c) {
		t.Error("different lines must not be equal")
	}
}

func TestParseErrorLocation(t *testing.T) {
	p := NewFrameParser(PathExpand)
	block := "  x = )\n      ^\n% Syntax error.\n  At: /tmp/t.pro, Line 3\n"

	f, col := p.ParseErrorLocation(block, "")
	if f == nil {
		t.Fatal("expected frame")
	}
	if f.File != "/tmp/t.pro" || f.Line != 3 {
		t.Errorf("unexpected frame: %+v", f)
	}
	if col != 6 {
		t.Errorf("col = %d, want 6", col)
	}
}

func TestParseErrorLocation_NoLocation(t *testing.T) {
	p := NewFrameParser(PathExpand)
	f, col := p.ParseErrorLocation("% Type conversion error.\n", "")
	if f != nil {
		t.Errorf("expected nil frame, got %+v", f)
	}
	if col != 0 {
		t.Errorf("col = %d, want 0", col)
	}
}

func TestParseStack(t *testing.T) {
	p := NewFrameParser(PathExpand)
	block := "% At INNER    12 /tmp/inner.pro\n" +
		"% At OUTER    34 /tmp/outer.pro\n" +
		"% At $MAIN$\n"

	frames := p.ParseStack(block, "")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Routine != "INNER" || frames[0].Line != 12 {
		t.Errorf("frame 0: %+v", frames[0])
	}
	if frames[1].Routine != "OUTER" || frames[1].File != "/tmp/outer.pro" {
		t.Errorf("frame 1: %+v", frames[1])
	}
}

func TestParseStack_Empty(t *testing.T) {
	p := NewFrameParser(PathExpand)
	if frames := p.ParseStack("nothing here\n", ""); len(frames) != 0 {
		t.Errorf("expected no frames, got %+v", frames)
	}
}

package scrape

import "testing"

func TestParseBreakListing(t *testing.T) {
	text := " Index Module       Line  File\n" +
		"    1  $MAIN$          3  /tmp/a.pro\n" +
		"    2  MYPROC         12  /tmp/b.pro\n"

	entries := ParseBreakListing(text)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0] != (BreakEntry{Index: 1, Module: "$MAIN$", Line: 3, File: "/tmp/a.pro"}) {
		t.Errorf("entry 0: %+v", entries[0])
	}
	if entries[1] != (BreakEntry{Index: 2, Module: "MYPROC", Line: 12, File: "/tmp/b.pro"}) {
		t.Errorf("entry 1: %+v", entries[1])
	}
}

func TestParseBreakListing_WrappedRow(t *testing.T) {
	// Terminal wrap in the middle of the file path: the continuation line
	// resumes mid-token and must be joined without a separator.
	text := "    3  LONGMODULE     44  /some/very/long/pa\n" +
		"         th/file.pro\n"

	entries := ParseBreakListing(text)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].File != "/some/very/long/path/file.pro" {
		t.Errorf("file = %q", entries[0].File)
	}
}

func TestParseBreakListing_WrapBeforeFileColumn(t *testing.T) {
	// Wrap between the line and file columns: the continuation starts a
	// new column and is joined with a space.
	text := "    4  MYPROC         12\n" +
		"         /tmp/b.pro\n"

	entries := ParseBreakListing(text)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].File != "/tmp/b.pro" || entries[0].Line != 12 {
		t.Errorf("entry: %+v", entries[0])
	}
}

func TestParseBreakListing_Empty(t *testing.T) {
	if entries := ParseBreakListing("No breakpoints set.\n"); len(entries) != 0 {
		t.Errorf("expected no entries, got %+v", entries)
	}
}

func TestParseSourceListing(t *testing.T) {
	text := "Compiled Procedures:\n" +
		"$MAIN$\n" +
		"MYPROC   /tmp/b.pro\n" +
		"\n" +
		"Compiled Functions:\n" +
		"MYFUNC   /tmp/f.pro\n"

	entries := ParseSourceListing(text)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0] != (SourceEntry{Module: "MYPROC", File: "/tmp/b.pro"}) {
		t.Errorf("entry 0: %+v", entries[0])
	}
	if entries[1] != (SourceEntry{Module: "MYFUNC", File: "/tmp/f.pro"}) {
		t.Errorf("entry 1: %+v", entries[1])
	}
}

func TestParseSourceListing_WrappedPath(t *testing.T) {
	text := "MYPROC   /very/long/di\n" +
		"      rectory/b.pro\n"

	entries := ParseSourceListing(text)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].File != "/very/long/directory/b.pro" {
		t.Errorf("file = %q", entries[0].File)
	}
}

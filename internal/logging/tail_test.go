package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTail_PartialLinesCarriedAcrossWrites(t *testing.T) {
	tail := NewTail(10)

	tail.Write([]byte("first half "))
	tail.Write([]byte("second half\n"))

	lines := tail.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if string(lines[0]) != "first half second half" {
		t.Errorf("unexpected line: %q", lines[0])
	}
}

func TestTail_EvictsOldLines(t *testing.T) {
	tail := NewTail(3)

	tail.Write([]byte("one\ntwo\nthree\nfour\nfive\n"))

	lines := tail.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	got := []string{string(lines[0]), string(lines[1]), string(lines[2])}
	want := []string{"three", "four", "five"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTail_DumpToFile(t *testing.T) {
	tail := NewTail(5)
	tail.Write([]byte("alpha\nbeta\n"))

	path := filepath.Join(t.TempDir(), "dump.log")
	if err := tail.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if string(data) != "alpha\nbeta\n" {
		t.Errorf("unexpected dump contents: %q", data)
	}
}

func TestInit_DiscardWithoutLogDir(t *testing.T) {
	Init(Config{Debug: false})
	defer Shutdown()

	// Must not panic and must return a usable logger.
	Logger().Info("discarded")
	ForComponent(CompProto).Debug("also discarded")
}

func TestInit_WritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug", Format: "text", Debug: true})
	defer Shutdown()

	ForComponent(CompProto).Info("hello_from_test")

	data, err := os.ReadFile(filepath.Join(dir, "replbridge.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello_from_test") {
		t.Errorf("log file missing message: %q", data)
	}
	if !strings.Contains(string(data), "component=proto") {
		t.Errorf("log file missing component attr: %q", data)
	}
}

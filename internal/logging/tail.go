package logging

import (
	"bytes"
	"os"
	"sync"
)

// Tail keeps the most recent N log lines in memory for crash dumps.
// It implements io.Writer; writes are split on newlines and old lines are
// evicted once the capacity is reached.
type Tail struct {
	mu      sync.Mutex
	lines   [][]byte
	next    int
	filled  bool
	partial []byte
}

// NewTail creates a tail buffer holding up to capacity lines.
func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Tail{lines: make([][]byte, capacity)}
}

// Write implements io.Writer. Partial lines are carried until a newline
// arrives, so a line split across two writes is stored once.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			t.partial = append(t.partial, rest...)
			break
		}
		line := append(t.partial, rest[:i]...)
		t.partial = nil
		t.push(line)
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (t *Tail) push(line []byte) {
	stored := make([]byte, len(line))
	copy(stored, line)
	t.lines[t.next] = stored
	t.next++
	if t.next == len(t.lines) {
		t.next = 0
		t.filled = true
	}
}

// Lines returns the buffered lines in chronological order.
func (t *Tail) Lines() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out [][]byte
	if t.filled {
		out = append(out, t.lines[t.next:]...)
	}
	out = append(out, t.lines[:t.next]...)
	return out
}

// DumpToFile writes the buffered lines to a file, one per line.
func (t *Tail) DumpToFile(path string) error {
	var buf bytes.Buffer
	for _, line := range t.Lines() {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

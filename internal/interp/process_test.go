//go:build !windows

package interp

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStart_EmptyCommand(t *testing.T) {
	if _, err := Start(Config{}, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestProcess_RoundTrip(t *testing.T) {
	var mu sync.Mutex
	var out strings.Builder

	// Pipe mode: PTYs are not always available in test environments.
	p, err := Start(Config{Command: "cat", NoPTY: true}, func(chunk []byte) {
		mu.Lock()
		out.Write(chunk)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Kill()

	if !p.Alive() {
		t.Fatal("process should be alive")
	}
	if p.Pid() == 0 {
		t.Error("expected non-zero pid")
	}

	if err := p.WriteLine("hello bridge"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		got := out.String()
		mu.Unlock()
		if strings.Contains(got, "hello bridge") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got %q", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcess_ExitDetection(t *testing.T) {
	p, err := Start(Config{Command: "sh", Args: []string{"-c", "exit 3"}, NoPTY: true}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	if p.Alive() {
		t.Error("process should not be alive after exit")
	}
	if p.ExitErr() == nil {
		t.Error("expected non-nil exit error for status 3")
	}
}

func TestProcess_WriteAfterExit(t *testing.T) {
	p, err := Start(Config{Command: "true", NoPTY: true}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()

	if err := p.WriteLine("too late"); err == nil {
		t.Error("expected error writing to dead process")
	}
}

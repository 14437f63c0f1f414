package scrape

import (
	"strings"
	"testing"
)

func idlClassifier(t *testing.T) *Classifier {
	t.Helper()
	resolved, err := CompilePatterns(DefaultRawPatterns("idl"))
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	return NewClassifier(resolved)
}

func TestClassify_Halt(t *testing.T) {
	c := idlClassifier(t)

	m := c.Classify("% Stepped to: MYPROC    12 /tmp/t.pro\n")
	if m.Kind != KindHalt {
		t.Fatalf("kind = %v, want halt", m.Kind)
	}
	if !strings.Contains(m.Rest, "MYPROC") {
		t.Errorf("rest should carry frame text: %q", m.Rest)
	}
}

func TestClassify_Breakpoint(t *testing.T) {
	c := idlClassifier(t)

	m := c.Classify("some output\n% Breakpoint at: MYPROC    3 /tmp/t.pro\n")
	if m.Kind != KindBreakpoint {
		t.Fatalf("kind = %v, want breakpoint", m.Kind)
	}
}

func TestClassify_SyntaxErrorBeforeGenericError(t *testing.T) {
	c := idlClassifier(t)

	// "Syntax error" also matches the generic error pattern; the syntax
	// category must win because it is tested first.
	m := c.Classify("  x = )\n      ^\n% Syntax error.\n  At: /tmp/t.pro, Line 3\n")
	if m.Kind != KindSyntaxError {
		t.Fatalf("kind = %v, want syntax-error", m.Kind)
	}
}

func TestClassify_GenericError(t *testing.T) {
	c := idlClassifier(t)

	m := c.Classify("% Type conversion error: Unable to convert given STRING.\n")
	if m.Kind != KindError {
		t.Fatalf("kind = %v, want error", m.Kind)
	}
}

func TestClassify_HaltWinsOverError(t *testing.T) {
	c := idlClassifier(t)

	// An error followed by a halt frame: halt has higher priority even
	// though the error appears earlier in the block.
	block := "% Floating divide by 0 error.\n% Execution halted at: MYPROC    7 /tmp/t.pro\n"
	m := c.Classify(block)
	if m.Kind != KindHalt {
		t.Fatalf("kind = %v, want halt", m.Kind)
	}
}

func TestClassify_NoMatch(t *testing.T) {
	c := idlClassifier(t)

	m := c.Classify("plain computation result\n42\n")
	if m.Kind != KindNone {
		t.Fatalf("kind = %v, want none", m.Kind)
	}
}

func TestClassify_EarliestMatchWithinCategory(t *testing.T) {
	resolved, err := CompilePatterns(&RawPatterns{
		HaltPatterns: []string{"late-marker", "early-marker"},
	})
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	c := NewClassifier(resolved)

	m := c.Classify("early-marker then late-marker")
	if m.Marker != "early-marker" {
		t.Errorf("marker = %q, want early-marker", m.Marker)
	}
	if m.Start != 0 {
		t.Errorf("start = %d, want 0", m.Start)
	}
}

func TestClassify_EmptyBlock(t *testing.T) {
	c := idlClassifier(t)
	if m := c.Classify(""); m.Kind != KindNone {
		t.Errorf("empty block should classify as none, got %v", m.Kind)
	}
}

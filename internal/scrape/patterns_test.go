package scrape

import (
	"testing"
)

func TestDefaultRawPatterns_IDL(t *testing.T) {
	raw := DefaultRawPatterns("idl")
	if raw == nil {
		t.Fatal("expected non-nil for idl")
	}
	if len(raw.HaltPatterns) == 0 {
		t.Error("idl defaults missing halt patterns")
	}
	if len(raw.BreakpointPatterns) == 0 {
		t.Error("idl defaults missing breakpoint patterns")
	}
	if len(raw.SyntaxErrorPatterns) == 0 {
		t.Error("idl defaults missing syntax error patterns")
	}
	if len(raw.ErrorPatterns) == 0 {
		t.Error("idl defaults missing error patterns")
	}
}

func TestDefaultRawPatterns_Unknown(t *testing.T) {
	if raw := DefaultRawPatterns("nosuchdialect"); raw != nil {
		t.Error("expected nil for unknown dialect")
	}
}

func TestDefaultPromptPattern(t *testing.T) {
	if p := DefaultPromptPattern("idl"); p != `^IDL> ` {
		t.Errorf("unexpected idl prompt pattern: %q", p)
	}
	if p := DefaultPromptPattern("nosuchdialect"); p != "" {
		t.Errorf("expected empty prompt for unknown dialect, got %q", p)
	}
}

func TestCompilePatterns_SplitsStringsAndRegex(t *testing.T) {
	raw := &RawPatterns{
		HaltPatterns:  []string{"plain halt", "re:^% Stopped"},
		ErrorPatterns: []string{"re:^% .*error"},
	}

	resolved, err := CompilePatterns(raw)
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	if len(resolved.HaltStrings) != 1 || resolved.HaltStrings[0] != "plain halt" {
		t.Errorf("halt strings: %v", resolved.HaltStrings)
	}
	if len(resolved.HaltRegexps) != 1 {
		t.Fatalf("halt regexps: %d", len(resolved.HaltRegexps))
	}
	// (?m) must be applied so ^ anchors mid-block.
	if !resolved.HaltRegexps[0].MatchString("before\n% Stopped here") {
		t.Error("halt regex should match at line start mid-block")
	}
}

func TestCompilePatterns_SkipsInvalidRegex(t *testing.T) {
	raw := &RawPatterns{
		HaltPatterns: []string{"re:([unclosed", "re:^valid"},
	}
	resolved, err := CompilePatterns(raw)
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	if len(resolved.HaltRegexps) != 1 {
		t.Errorf("expected invalid regex skipped, got %d regexps", len(resolved.HaltRegexps))
	}
}

func TestCompilePatterns_NilInput(t *testing.T) {
	if _, err := CompilePatterns(nil); err == nil {
		t.Error("expected error for nil RawPatterns")
	}
}

func TestMergeRawPatterns(t *testing.T) {
	defaults := &RawPatterns{
		HaltPatterns:  []string{"default-halt"},
		ErrorPatterns: []string{"default-error"},
	}
	overrides := &RawPatterns{
		HaltPatterns: []string{"override-halt"},
	}
	extras := &RawPatterns{
		ErrorPatterns: []string{"extra-error"},
	}

	merged := MergeRawPatterns(defaults, overrides, extras)

	if len(merged.HaltPatterns) != 1 || merged.HaltPatterns[0] != "override-halt" {
		t.Errorf("override should replace defaults: %v", merged.HaltPatterns)
	}
	if len(merged.ErrorPatterns) != 2 {
		t.Fatalf("extras should append: %v", merged.ErrorPatterns)
	}
	if merged.ErrorPatterns[0] != "default-error" || merged.ErrorPatterns[1] != "extra-error" {
		t.Errorf("unexpected error patterns: %v", merged.ErrorPatterns)
	}
}

func TestMergeRawPatterns_EmptyOverrideReplaces(t *testing.T) {
	defaults := &RawPatterns{HaltPatterns: []string{"a"}}
	overrides := &RawPatterns{HaltPatterns: []string{}}

	merged := MergeRawPatterns(defaults, overrides, nil)
	if len(merged.HaltPatterns) != 0 {
		t.Errorf("empty non-nil override should clear the field: %v", merged.HaltPatterns)
	}
}

package scrape

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"replbridge/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompParse)

// RawPatterns holds string-form message patterns before compilation.
// Patterns prefixed with "re:" are compiled as regex; everything else uses
// strings.Contains. All regex patterns are matched in multi-line mode so ^
// anchors to the start of any output line.
type RawPatterns struct {
	// HaltPatterns mark "execution stopped here" messages (step, interrupt,
	// explicit stop, halt after error).
	HaltPatterns []string

	// BreakpointPatterns mark "stopped at a breakpoint" messages.
	BreakpointPatterns []string

	// SyntaxErrorPatterns mark compile-time syntax errors.
	SyntaxErrorPatterns []string

	// ErrorPatterns mark any other error message.
	ErrorPatterns []string
}

// ResolvedPatterns holds the compiled, ready-to-use patterns for output
// classification.
type ResolvedPatterns struct {
	HaltStrings   []string
	HaltRegexps   []*regexp.Regexp
	BreakStrings  []string
	BreakRegexps  []*regexp.Regexp
	SyntaxStrings []string
	SyntaxRegexps []*regexp.Regexp
	ErrorStrings  []string
	ErrorRegexps  []*regexp.Regexp
}

// DefaultRawPatterns returns the built-in message patterns for a known
// interpreter dialect. Returns nil for unknown dialects (they have no
// defaults and must configure everything explicitly).
func DefaultRawPatterns(dialect string) *RawPatterns {
	switch strings.ToLower(dialect) {
	case "idl", "gdl":
		return &RawPatterns{
			HaltPatterns: []string{
				"re:^% Interrupted at:",
				"re:^% Stepped to:",
				"re:^% Stop encountered:",
				"re:^% Execution halted at:",
				"re:^% At ", // traceback frames double as halt markers
			},
			BreakpointPatterns: []string{
				"re:^% Breakpoint at:",
			},
			SyntaxErrorPatterns: []string{
				"re:^% Syntax error",
			},
			ErrorPatterns: []string{
				"re:^% .*(?i:error)",
				"re:^% Program caused arithmetic error",
			},
		}
	case "shell":
		// Minimal dialect for driving a plain shell in tests and demos.
		return &RawPatterns{
			ErrorPatterns: []string{
				"command not found",
				"re:^sh: ",
			},
		}
	default:
		return nil
	}
}

// DefaultPromptPattern returns the built-in prompt regex source for a known
// dialect, or "" for unknown dialects.
func DefaultPromptPattern(dialect string) string {
	switch strings.ToLower(dialect) {
	case "idl":
		return `^IDL> `
	case "gdl":
		return `^GDL> `
	case "shell":
		return `^\$ `
	default:
		return ""
	}
}

// CompilePatterns compiles raw string patterns into ready-to-use
// ResolvedPatterns. Patterns prefixed with "re:" are compiled as regex in
// multi-line mode. Invalid regex patterns are logged as warnings and
// skipped (never crash).
func CompilePatterns(raw *RawPatterns) (*ResolvedPatterns, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawPatterns")
	}

	resolved := &ResolvedPatterns{}
	resolved.HaltStrings, resolved.HaltRegexps = splitCompile("halt", raw.HaltPatterns)
	resolved.BreakStrings, resolved.BreakRegexps = splitCompile("breakpoint", raw.BreakpointPatterns)
	resolved.SyntaxStrings, resolved.SyntaxRegexps = splitCompile("syntax", raw.SyntaxErrorPatterns)
	resolved.ErrorStrings, resolved.ErrorRegexps = splitCompile("error", raw.ErrorPatterns)
	return resolved, nil
}

// splitCompile separates plain substring patterns from "re:" regex patterns
// and compiles the latter with (?m) prepended.
func splitCompile(kind string, patterns []string) ([]string, []*regexp.Regexp) {
	var strs []string
	var regexps []*regexp.Regexp
	for _, p := range patterns {
		if strings.HasPrefix(p, "re:") {
			re, err := regexp.Compile("(?m)" + p[3:])
			if err != nil {
				patternLog.Warn("invalid_pattern_regex",
					slog.String("kind", kind),
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			regexps = append(regexps, re)
		} else {
			strs = append(strs, p)
		}
	}
	return strs, regexps
}

// MergeRawPatterns merges defaults with overrides and extras.
//   - If overrides has a field set (non-nil slice, even if empty), it replaces the default.
//   - extras fields are appended to the result (after defaults or overrides).
//   - If defaults is nil, only overrides/extras are used.
func MergeRawPatterns(defaults, overrides, extras *RawPatterns) *RawPatterns {
	result := &RawPatterns{}

	if defaults != nil {
		result.HaltPatterns = copySlice(defaults.HaltPatterns)
		result.BreakpointPatterns = copySlice(defaults.BreakpointPatterns)
		result.SyntaxErrorPatterns = copySlice(defaults.SyntaxErrorPatterns)
		result.ErrorPatterns = copySlice(defaults.ErrorPatterns)
	}

	if overrides != nil {
		if overrides.HaltPatterns != nil {
			result.HaltPatterns = copySlice(overrides.HaltPatterns)
		}
		if overrides.BreakpointPatterns != nil {
			result.BreakpointPatterns = copySlice(overrides.BreakpointPatterns)
		}
		if overrides.SyntaxErrorPatterns != nil {
			result.SyntaxErrorPatterns = copySlice(overrides.SyntaxErrorPatterns)
		}
		if overrides.ErrorPatterns != nil {
			result.ErrorPatterns = copySlice(overrides.ErrorPatterns)
		}
	}

	if extras != nil {
		result.HaltPatterns = append(result.HaltPatterns, extras.HaltPatterns...)
		result.BreakpointPatterns = append(result.BreakpointPatterns, extras.BreakpointPatterns...)
		result.SyntaxErrorPatterns = append(result.SyntaxErrorPatterns, extras.SyntaxErrorPatterns...)
		result.ErrorPatterns = append(result.ErrorPatterns, extras.ErrorPatterns...)
	}

	return result
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}

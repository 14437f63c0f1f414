package scrape

import (
	"regexp"
	"strings"
)

// Kind is the classification of a command output block.
type Kind int

const (
	// KindNone means no known marker was found in the block.
	KindNone Kind = iota
	// KindHalt means execution stopped (step, interrupt, explicit stop).
	KindHalt
	// KindBreakpoint means execution stopped at a breakpoint.
	KindBreakpoint
	// KindSyntaxError means the interpreter reported a compile-time syntax error.
	KindSyntaxError
	// KindError means the interpreter reported any other error.
	KindError
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindHalt:
		return "halt"
	case KindBreakpoint:
		return "breakpoint"
	case KindSyntaxError:
		return "syntax-error"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// Match describes where a marker matched inside an output block.
type Match struct {
	Kind Kind

	// Marker is the matched marker text itself.
	Marker string

	// Start is the byte offset of the marker in the block.
	Start int

	// Rest is the block content from the end of the marker onward.
	// For halt/breakpoint matches this is the input to the frame parser.
	Rest string
}

// Classifier tests an output block against the resolved pattern sets in
// priority order: halt, breakpoint, syntax error, generic error. The first
// category with any match wins; within a category the earliest match in the
// block is used.
type Classifier struct {
	patterns *ResolvedPatterns
}

// NewClassifier creates a classifier over the given resolved patterns.
func NewClassifier(patterns *ResolvedPatterns) *Classifier {
	return &Classifier{patterns: patterns}
}

// Classify scans block and returns the winning match, or a Match with
// KindNone when nothing matched.
func (c *Classifier) Classify(block string) Match {
	if c.patterns == nil || block == "" {
		return Match{Kind: KindNone}
	}

	categories := []struct {
		kind    Kind
		strs    []string
		regexps []*regexp.Regexp
	}{
		{KindHalt, c.patterns.HaltStrings, c.patterns.HaltRegexps},
		{KindBreakpoint, c.patterns.BreakStrings, c.patterns.BreakRegexps},
		{KindSyntaxError, c.patterns.SyntaxStrings, c.patterns.SyntaxRegexps},
		{KindError, c.patterns.ErrorStrings, c.patterns.ErrorRegexps},
	}

	for _, cat := range categories {
		if m, ok := earliestMatch(block, cat.strs, cat.regexps); ok {
			m.Kind = cat.kind
			return m
		}
	}
	return Match{Kind: KindNone}
}

// earliestMatch finds the match with the smallest start offset across the
// plain-substring and regex pattern lists of one category.
func earliestMatch(block string, strs []string, regexps []*regexp.Regexp) (Match, bool) {
	best := Match{Start: -1}

	for _, s := range strs {
		if i := strings.Index(block, s); i >= 0 {
			if best.Start < 0 || i < best.Start {
				best = Match{Marker: s, Start: i, Rest: block[i+len(s):]}
			}
		}
	}
	for _, re := range regexps {
		if loc := re.FindStringIndex(block); loc != nil {
			if best.Start < 0 || loc[0] < best.Start {
				best = Match{Marker: block[loc[0]:loc[1]], Start: loc[0], Rest: block[loc[1]:]}
			}
		}
	}

	return best, best.Start >= 0
}

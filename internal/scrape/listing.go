package scrape

import (
	"regexp"
	"strconv"
	"strings"
)

// BreakEntry is one row of the interpreter's breakpoint listing. Index and
// Module together are the interpreter's authoritative identity for the
// breakpoint; File/Line is where it sits.
type BreakEntry struct {
	Index  int
	Module string
	Line   int
	File   string
}

// SourceEntry is one row of the interpreter's compiled-source listing,
// mapping an internal module name to the file it was compiled from.
type SourceEntry struct {
	Module string
	File   string
}

// A listing row starts with the breakpoint index followed by the module
// name. Continuation lines produced by terminal wrapping never match this
// (they resume mid-module, mid-number, or mid-path).
var breakRowStartRE = regexp.MustCompile(`^\s*\d+\s+[A-Za-z$]`)

var breakRowRE = regexp.MustCompile(`^\s*(\d+)\s+([A-Za-z0-9_$:.]+)\s+(\d+)\s+(\S+)`)

// ParseBreakListing parses the output of the breakpoint-query command into
// listing-order entries. Wrapped rows are re-joined before matching; header
// and unparseable rows are skipped.
func ParseBreakListing(text string) []BreakEntry {
	rows := joinWrappedRows(text, func(line string) bool {
		return breakRowStartRE.MatchString(line)
	})

	var entries []BreakEntry
	for _, row := range rows {
		m := breakRowRE.FindStringSubmatch(row)
		if m == nil {
			continue
		}
		index, err1 := strconv.Atoi(m[1])
		line, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil {
			continue
		}
		entries = append(entries, BreakEntry{
			Index:  index,
			Module: m[2],
			Line:   line,
			File:   m[4],
		})
	}
	return entries
}

var sourceRowRE = regexp.MustCompile(`^\s*([A-Za-z$][A-Za-z0-9_$:]*)\s+(\S*/\S+)`)

// ParseSourceListing parses the output of the source-listing query into
// module-to-file mappings. Rows without a path column (built-ins, $MAIN$)
// are skipped, as are the "Compiled Procedures:"/"Compiled Functions:"
// section headers.
func ParseSourceListing(text string) []SourceEntry {
	rows := joinWrappedRows(text, func(line string) bool {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			return false
		}
		c := line[0]
		return c == '$' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
	})

	var entries []SourceEntry
	for _, row := range rows {
		if strings.HasSuffix(strings.TrimSpace(row), ":") {
			continue
		}
		m := sourceRowRE.FindStringSubmatch(row)
		if m == nil {
			continue
		}
		entries = append(entries, SourceEntry{Module: m[1], File: m[2]})
	}
	return entries
}

// joinWrappedRows splits text into logical rows. A physical line for which
// isStart returns true opens a row; other lines are folded into the current
// row. A continuation that begins a new column (a digit or a path) is joined
// with a space; anything else is assumed to resume a wrapped token and is
// joined directly.
func joinWrappedRows(text string, isStart func(string) bool) []string {
	var rows []string
	current := -1
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isStart(line) {
			rows = append(rows, line)
			current = len(rows) - 1
			continue
		}
		if current < 0 {
			continue
		}
		c := trimmed[0]
		if c == '/' || (c >= '0' && c <= '9') {
			rows[current] += " " + trimmed
		} else {
			rows[current] += trimmed
		}
	}
	return rows
}

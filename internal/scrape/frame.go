package scrape

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Frame is a (file, line, routine) location: where execution stopped or
// where a breakpoint sits. Routine is metadata; identity is file+line.
type Frame struct {
	// File is the source file path, normalized to an absolute path.
	File string

	// Line is the 1-based source line.
	Line int

	// Routine is the enclosing routine name, if known.
	Routine string
}

// Equal reports whether two frames identify the same location.
// Routine is deliberately ignored.
func (f Frame) Equal(other Frame) bool {
	return f.File == other.File && f.Line == other.Line
}

// PathPolicy selects how parsed file paths are normalized.
type PathPolicy int

const (
	// PathExpand cleans the path and makes it absolute against the
	// interpreter working directory.
	PathExpand PathPolicy = iota
	// PathResolveSymlinks additionally resolves symbolic links.
	PathResolveSymlinks
)

// Interpreters wrap long messages at the terminal width, inserting a newline
// plus indentation in the middle of routine names, line numbers, and file
// paths. Each group below therefore admits internal newline+indent runs,
// which are collapsed to nothing after matching.
//
// Groups: 1 = routine (optional), 2 = line number, 3 = file path.
var frameRE = regexp.MustCompile(
	`(?:((?:[A-Za-z$][A-Za-z0-9_$:]*)(?:\n[ \t]+[A-Za-z0-9_$:]+)*)(?:[ \t]+|[ \t]*\n[ \t]+))?` +
		`((?:\d+)(?:\n[ \t]+\d+)*)` +
		`(?:[ \t]+|[ \t]*\n[ \t]+)` +
		`((?:\S+)(?:\n[ \t]+\S+)*)`)

var wrapRE = regexp.MustCompile(`\n[ \t]+`)

// FrameParser extracts frames from halt/breakpoint message bodies.
type FrameParser struct {
	policy PathPolicy

	// fileExists reports whether a path names an existing regular file.
	// Replaced in tests; filesystem probing is the disambiguation heuristic
	// for wrapped file paths.
	fileExists func(string) bool
}

// NewFrameParser creates a frame parser with the given path policy.
func NewFrameParser(policy PathPolicy) *FrameParser {
	return &FrameParser{
		policy:     policy,
		fileExists: regularFileExists,
	}
}

// SetFileExists replaces the file-existence probe (tests only).
func (p *FrameParser) SetFileExists(fn func(string) bool) {
	p.fileExists = fn
}

// Parse extracts a frame from the text following a halt/breakpoint marker.
// workDir is the interpreter's last-known working directory, used to resolve
// relative paths. Returns nil when no frame is present; callers treat that
// as "no location available", not as an error.
func (p *FrameParser) Parse(text, workDir string) *Frame {
	m := frameRE.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	routine := wrapRE.ReplaceAllString(m[1], "")
	lineStr := wrapRE.ReplaceAllString(m[2], "")
	line, err := strconv.Atoi(lineStr)
	if err != nil || line <= 0 {
		return nil
	}

	file := p.repairFilePath(m[3], workDir)
	if file == "" {
		return nil
	}

	return &Frame{
		File:    p.normalizePath(file, workDir),
		Line:    line,
		Routine: routine,
	}
}

// repairFilePath collapses line-wrap artifacts inside a captured file path.
//
// The last physical line of a wrapped path is ambiguous: it may be the tail
// of the path, or trailing garbage from a following message that the wrap
// heuristic swallowed. Both candidates are constructed and whichever
// resolves to an existing regular file wins; if neither resolves, the
// shorter candidate is preferred (likely a short relative path).
func (p *FrameParser) repairFilePath(captured, workDir string) string {
	segments := wrapRE.Split(captured, -1)
	full := strings.Join(segments, "")
	if len(segments) == 1 {
		return full
	}

	trimmed := strings.Join(segments[:len(segments)-1], "")

	if p.fileExists(p.normalizePath(full, workDir)) {
		return full
	}
	if p.fileExists(p.normalizePath(trimmed, workDir)) {
		return trimmed
	}
	return trimmed
}

// normalizePath makes path absolute against workDir and applies the
// configured symlink policy.
func (p *FrameParser) normalizePath(path, workDir string) string {
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}
	path = filepath.Clean(path)
	if p.policy == PathResolveSymlinks {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
	}
	return path
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// errorLocationRE matches the "At: <file>, Line <n>" trailer the interpreter
// prints after compile errors.
var errorLocationRE = regexp.MustCompile(`(?m)^[ \t]*At:[ \t]+(\S+?),[ \t]*Line[ \t]+(\d+)`)

// caretRE matches a caret line pointing at the offending column.
var caretRE = regexp.MustCompile(`(?m)^([ \t]*)\^[ \t]*$`)

// ParseErrorLocation extracts the source location and caret column from an
// error block. Returns a nil frame when the block carries no location.
// Column is 0 when no caret line is present.
func (p *FrameParser) ParseErrorLocation(block, workDir string) (*Frame, int) {
	col := 0
	if m := caretRE.FindStringSubmatch(block); m != nil {
		col = len(m[1])
	}

	m := errorLocationRE.FindStringSubmatch(block)
	if m == nil {
		return nil, col
	}
	line, err := strconv.Atoi(m[2])
	if err != nil || line <= 0 {
		return nil, col
	}
	return &Frame{
		File: p.normalizePath(m[1], workDir),
		Line: line,
	}, col
}

// stackLineRE matches one traceback entry: "% At ROUTINE  12 /path/file".
// Entries without a location ("% At $MAIN$") are skipped.
var stackLineRE = regexp.MustCompile(`(?m)^% At[ \t]+`)

// ParseStack extracts the ordered frame list (innermost first) from a
// traceback block. Entries whose location cannot be parsed are dropped.
func (p *FrameParser) ParseStack(block, workDir string) []Frame {
	locs := stackLineRE.FindAllStringIndex(block, -1)
	frames := make([]Frame, 0, len(locs))
	for i, loc := range locs {
		end := len(block)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if f := p.Parse(block[loc[1]:end], workDir); f != nil {
			frames = append(frames, *f)
		}
	}
	return frames
}

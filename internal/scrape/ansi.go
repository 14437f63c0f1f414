package scrape

import "strings"

// StripANSI removes ANSI escape sequences from interpreter output. Uses a
// single manual pass; regex-based stripping can backtrack catastrophically
// on malformed escape sequences.
func StripANSI(content string) string {
	// Fast path: no ESC or 8-bit CSI present.
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9b') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		if content[i] == '\x1b' {
			// CSI sequence: ESC [ ... letter
			if i+1 < len(content) && content[i+1] == '[' {
				j := i + 2
				for j < len(content) {
					c := content[j]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						j++
						break
					}
					j++
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL or ST
			if i+1 < len(content) && content[i+1] == ']' {
				if bell := strings.Index(content[i:], "\x07"); bell != -1 {
					i += bell + 1
					continue
				}
				if st := strings.Index(content[i:], "\x1b\\"); st != -1 {
					i += st + 2
					continue
				}
			}
			// Bare ESC + one char
			if i+1 < len(content) {
				i += 2
				continue
			}
		}
		if content[i] == '\x9b' {
			j := i + 1
			for j < len(content) {
				c := content[j]
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteByte(content[i])
		i++
	}

	return b.String()
}

// maxEscapeTail bounds how much trailing text IncompleteEscapeTail will
// hold back; a bare ESC that merely looks like a sequence opener must not
// buffer output forever.
const maxEscapeTail = 64

// IncompleteEscapeTail splits off an unterminated escape sequence at the
// end of content so callers reading chunked output can carry it into the
// next chunk instead of leaking its fragments past StripANSI.
func IncompleteEscapeTail(content string) (head, tail string) {
	idx := -1
	for i := len(content) - 1; i >= 0; i-- {
		if content[i] == '\x1b' || content[i] == '\x9b' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return content, ""
	}
	seq := content[idx:]
	if escapeComplete(seq) || len(seq) > maxEscapeTail {
		return content, ""
	}
	return content[:idx], seq
}

// escapeComplete reports whether seq, which starts at an escape opener,
// contains that sequence's terminator.
func escapeComplete(seq string) bool {
	if seq[0] == '\x9b' {
		return hasCSIFinal(seq[1:])
	}
	if len(seq) == 1 {
		return false
	}
	switch seq[1] {
	case '[':
		return hasCSIFinal(seq[2:])
	case ']':
		return strings.Contains(seq, "\x07") || strings.Contains(seq[1:], "\x1b\\")
	default:
		// ESC plus one char is complete on its own.
		return true
	}
}

func hasCSIFinal(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			return true
		}
	}
	return false
}

// NormalizeCR replaces carriage returns with spaces. The interpreter uses
// bare CRs to redraw its progress output; treating them as spaces keeps
// line accounting stable.
func NormalizeCR(content string) string {
	if strings.IndexByte(content, '\r') < 0 {
		return content
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' {
			return ' '
		}
		return r
	}, content)
}

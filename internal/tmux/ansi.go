package tmux

import "strings"

const (
	escByte = 0x1b // ESC
	csiByte = 0x9b // 8-bit CSI control character
)

// StripANSI removes escape sequences from terminal output in a single
// pass. Regex is avoided on purpose: malformed sequences can make ANSI
// regexes backtrack catastrophically on large captures.
func StripANSI(content string) string {
	if strings.IndexByte(content, escByte) < 0 && strings.IndexByte(content, csiByte) < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	for i := 0; i < len(content); {
		switch content[i] {
		case escByte:
			i = skipEscape(content, i)
		case csiByte:
			i = skipParams(content, i+1)
		default:
			b.WriteByte(content[i])
			i++
		}
	}
	return b.String()
}

// skipParams advances past CSI parameter bytes up to and including the
// terminating letter.
func skipParams(s string, j int) int {
	for j < len(s) {
		c := s[j]
		j++
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			break
		}
	}
	return j
}

// skipEscape advances past one ESC-introduced sequence starting at i.
func skipEscape(s string, i int) int {
	if i+1 >= len(s) {
		// Lone ESC at the end of the capture.
		return len(s)
	}
	switch s[i+1] {
	case '[':
		return skipParams(s, i+2)
	case ']':
		// OSC runs until BEL or ST.
		if bell := strings.Index(s[i:], "\x07"); bell >= 0 {
			return i + bell + 1
		}
		if st := strings.Index(s[i:], "\x1b\\"); st >= 0 {
			return i + st + 2
		}
		return i + 2
	default:
		// Two-byte escape such as ESC M.
		return i + 2
	}
}

package sessions

import "strings"

// maxPendingBytes bounds the mirrored input line.
const maxPendingBytes = 8 * 1024

// Control bytes the line editor understands.
const (
	keyCtrlC     = 0x03
	keyBackspace = 0x08
	keyCtrlU     = 0x15
	keyCtrlW     = 0x17
	keyEscape    = 0x1b
	keyDelete    = 0x7f
)

type escState int

const (
	escNone escState = iota
	escStart
	escCSI
	escSS3
)

// CommandBuffer mirrors the line a user is typing so the completed command
// can be inspected when Enter is pressed. It follows the basic readline
// editing keys; cursor movement and history recall are not tracked, so the
// mirrored line is a best effort view of what the shell sees.
type CommandBuffer struct {
	line []rune
	esc  escState
	// joined is set once a physical line ended in a continuation and the
	// buffer holds the start of a longer logical line.
	joined bool
}

// Feed applies typed bytes to the buffer. Line terminators are not
// expected here; callers split input on them.
func (c *CommandBuffer) Feed(data []byte) {
	for _, r := range string(data) {
		switch c.esc {
		case escStart:
			switch r {
			case '[':
				c.esc = escCSI
			case 'O':
				c.esc = escSS3
			default:
				c.esc = escNone
			}
			continue
		case escCSI:
			// parameter and intermediate bytes until a final byte
			if r >= 0x40 && r <= 0x7e {
				c.esc = escNone
			}
			continue
		case escSS3:
			c.esc = escNone
			continue
		}

		switch r {
		case keyEscape:
			c.esc = escStart
		case keyBackspace, keyDelete:
			if n := len(c.line); n > 0 {
				c.line = c.line[:n-1]
			}
		case keyCtrlU, keyCtrlC:
			c.line = c.line[:0]
		case keyCtrlW:
			c.deleteWord()
		case '\t':
			c.append(' ')
		default:
			if r >= 0x20 {
				c.append(r)
			}
		}
	}
}

func (c *CommandBuffer) append(r rune) {
	if len(c.line) >= maxPendingBytes {
		return
	}
	c.line = append(c.line, r)
}

func (c *CommandBuffer) deleteWord() {
	i := len(c.line)
	for i > 0 && c.line[i-1] == ' ' {
		i--
	}
	for i > 0 && c.line[i-1] != ' ' {
		i--
	}
	c.line = c.line[:i]
}

// Line returns the mirrored line with surrounding blanks removed.
func (c *CommandBuffer) Line() string {
	return strings.TrimSpace(string(c.line))
}

// Continues reports whether the buffered text ends in an unescaped
// backslash, so a line terminator continues the command instead of
// submitting it.
func (c *CommandBuffer) Continues() bool {
	return continues(string(c.line))
}

// Join drops the continuation backslash; the next physical line is
// appended to the same logical line.
func (c *CommandBuffer) Join() {
	if n := len(c.line); n > 0 && c.line[n-1] == '\\' {
		c.line = c.line[:n-1]
	}
	c.joined = true
}

// Joined reports whether the buffer spans more than one physical line.
func (c *CommandBuffer) Joined() bool {
	return c.joined
}

// Reset clears the buffer.
func (c *CommandBuffer) Reset() {
	c.line = c.line[:0]
	c.esc = escNone
	c.joined = false
}

// continues reports whether s ends in an odd number of backslashes.
func continues(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// LogicalLines splits a command into the lines the shell will execute:
// physical lines ending in an unescaped backslash are joined with the
// next one. Blank lines are dropped. A trailing continuation is returned
// as the last, unfinished line.
func LogicalLines(command string) []string {
	var lines []string
	var cur strings.Builder
	for _, physical := range strings.Split(newlines.Replace(command), "\n") {
		if continues(physical) {
			cur.WriteString(physical[:len(physical)-1])
			continue
		}
		cur.WriteString(physical)
		if line := cur.String(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	if line := cur.String(); strings.TrimSpace(line) != "" {
		lines = append(lines, line)
	}
	return lines
}

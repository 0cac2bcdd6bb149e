package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuffer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "ls -la", "ls -la"},
		{"backspace", "lss\x7f -l", "ls -l"},
		{"ctrl-h", "lx\x08s", "ls"},
		{"ctrl-u clears", "rm -rf /\x15echo ok", "echo ok"},
		{"ctrl-c clears", "sleep 10\x03pwd", "pwd"},
		{"ctrl-w deletes word", "echo hello world\x17there", "echo hello there"},
		{"arrow keys ignored", "ec\x1b[Dho", "echo"},
		{"ss3 sequence ignored", "a\x1bOAb", "ab"},
		{"csi with params", "x\x1b[1;5Cy", "xy"},
		{"tab becomes space", "rm\t-rf", "rm -rf"},
		{"surrounding blanks trimmed", "   pwd  ", "pwd"},
		{"unicode", "echo héllo", "echo héllo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CommandBuffer
			c.Feed([]byte(tt.input))
			assert.Equal(t, tt.want, c.Line())
		})
	}
}

func TestCommandBufferAcrossFeeds(t *testing.T) {
	var c CommandBuffer
	for _, b := range []byte("rm -rf \x1b[A/") {
		c.Feed([]byte{b})
	}
	assert.Equal(t, "rm -rf /", c.Line())

	c.Reset()
	assert.Equal(t, "", c.Line())
}

func TestSplitLines(t *testing.T) {
	parts := splitLines([]byte("ab\rcd\r\nef"))

	var texts []string
	var terminated []bool
	for _, p := range parts {
		texts = append(texts, string(p.text))
		terminated = append(terminated, p.terminated)
	}
	assert.Equal(t, []string{"ab", "\r", "cd", "\r", "\n", "ef"}, texts)
	assert.Equal(t, []bool{false, true, false, true, true, false}, terminated)
}

func TestCommandBufferContinuation(t *testing.T) {
	var c CommandBuffer
	c.Feed([]byte(`rm -rf \`))
	assert.True(t, c.Continues())

	c.Join()
	c.Feed([]byte("/"))
	assert.False(t, c.Continues())
	assert.True(t, c.Joined())
	assert.Equal(t, "rm -rf /", c.Line())

	c.Reset()
	assert.False(t, c.Joined())

	// An escaped backslash is literal.
	c.Feed([]byte(`echo \\`))
	assert.False(t, c.Continues())
}

func TestLogicalLines(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{"single", "ls -la", []string{"ls -la"}},
		{"several", "ls\npwd", []string{"ls", "pwd"}},
		{"continuation", "rm -rf \\\n/", []string{"rm -rf /"}},
		{"crlf continuation", "rm \\\r\n-rf \\\r\n/", []string{"rm -rf /"}},
		{"cr continuation", "rm -rf \\\r/", []string{"rm -rf /"}},
		{"escaped backslash", "echo \\\\\nls", []string{`echo \\`, "ls"}},
		{"trailing continuation", "rm -rf \\", []string{"rm -rf "}},
		{"blank lines dropped", "\n\nls\n\n", []string{"ls"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogicalLines(tt.command))
		})
	}
}

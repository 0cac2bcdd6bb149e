// Package guard screens command lines submitted from browser terminals
// against a deny-list of destructive patterns.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrDangerousCommand is wrapped by every BlockedError.
var ErrDangerousCommand = errors.New("dangerous command blocked")

// Rule is a named deny-list pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// BlockedError reports which rule rejected a command.
type BlockedError struct {
	Rule    string
	Command string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: matches rule %q", ErrDangerousCommand, e.Rule)
}

func (e *BlockedError) Unwrap() error {
	return ErrDangerousCommand
}

// DefaultRules is the built-in deny-list.
var DefaultRules = []Rule{
	{"recursive-delete-root", regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-[a-zA-Z-]+\s+)*(--no-preserve-root\s+)?(/|/\*|~|~/|\*|\$HOME)(\s|;|&|\||$)`)},
	{"no-preserve-root", regexp.MustCompile(`--no-preserve-root`)},
	{"mkfs", regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`)},
	{"dd-to-device", regexp.MustCompile(`\bdd\b.*\bof=/dev/`)},
	{"write-to-disk-device", regexp.MustCompile(`>\s*/dev/(sd[a-z]|nvme\d|hd[a-z]|xvd[a-z]|vd[a-z])`)},
	{"fork-bomb", regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"chmod-recursive-root", regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)[0-7]{3,4}\s+/(\s|$)`)},
	{"chown-recursive-root", regexp.MustCompile(`\bchown\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)\S+\s+/(\s|$)`)},
	{"power-state", regexp.MustCompile(`(^|[;&|]\s*|\bsudo\s+)(shutdown|reboot|halt|poweroff|init\s+0)\b`)},
	{"pipe-to-shell", regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`)},
}

// Guard checks command strings against its rules.
type Guard struct {
	rules []Rule
}

// New builds a guard from the default rules plus extra regular expressions.
func New(extra ...string) (*Guard, error) {
	rules := make([]Rule, len(DefaultRules), len(DefaultRules)+len(extra))
	copy(rules, DefaultRules)
	for i, expr := range extra {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile extra pattern %d: %w", i, err)
		}
		rules = append(rules, Rule{Name: fmt.Sprintf("custom-%d", i), Pattern: re})
	}
	return &Guard{rules: rules}, nil
}

// Check returns a *BlockedError if cmd matches a rule, nil otherwise.
func (g *Guard) Check(cmd string) error {
	normalized := strings.Join(strings.Fields(cmd), " ")
	if normalized == "" {
		return nil
	}
	for _, r := range g.rules {
		if r.Pattern.MatchString(normalized) {
			return &BlockedError{Rule: r.Name, Command: cmd}
		}
	}
	return nil
}

// Rules returns the names of the active rules.
func (g *Guard) Rules() []string {
	names := make([]string, len(g.rules))
	for i, r := range g.rules {
		names[i] = r.Name
	}
	return names
}

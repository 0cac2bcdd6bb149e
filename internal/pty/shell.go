package pty

import (
	"os"
	"path/filepath"
)

// fallbackShells are tried in order when $SHELL is unusable.
var fallbackShells = []string{"/bin/bash", "/usr/bin/bash", "/bin/zsh", "/bin/sh"}

// DefaultShell returns the shell terminals start when neither the runspace
// nor the server configuration names one. $SHELL wins if it points at an
// executable file.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); isExecutable(shell) {
		return shell
	}
	for _, shell := range fallbackShells {
		if isExecutable(shell) {
			return shell
		}
	}
	return "/bin/sh"
}

func isExecutable(path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

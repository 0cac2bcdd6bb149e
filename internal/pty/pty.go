package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Signal types for PTY control
type Signal int

const (
	SIGHUP  Signal = Signal(syscall.SIGHUP)
	SIGINT  Signal = Signal(syscall.SIGINT)
	SIGTERM Signal = Signal(syscall.SIGTERM)
	SIGKILL Signal = Signal(syscall.SIGKILL)
)

var ErrInvalidDir = errors.New("working directory is not a directory")

// Process is a running program attached to a terminal.
type Process interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	// Kill terminates the process. Killing an exited process is not an error.
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	Wait() int
	// Close releases the terminal; it also kills the process if still running.
	Close() error
	Pid() int
}

// Command describes the program to start inside a new terminal.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	Cols uint16
	Rows uint16
}

// Spawner starts processes on a pseudo-terminal.
type Spawner interface {
	Spawn(cmd Command) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(cmd Command) (Process, error)

func (f SpawnerFunc) Spawn(cmd Command) (Process, error) {
	return f(cmd)
}

// HostSpawner starts real processes on host pseudo-terminals.
type HostSpawner struct{}

func (HostSpawner) Spawn(cmd Command) (Process, error) {
	return New(cmd)
}

// PTY represents a pseudo-terminal
type PTY struct {
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool

	done     chan struct{}
	exitCode int
}

// New starts cmd on a new PTY
func New(c Command) (*PTY, error) {
	if c.Path == "" {
		c.Path = DefaultShell()
	}
	if c.Dir != "" {
		info, err := os.Stat(c.Dir)
		if err != nil {
			return nil, fmt.Errorf("stat working directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDir, c.Dir)
		}
	}
	if c.Cols == 0 || c.Rows == 0 {
		c.Cols, c.Rows = 80, 24
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: c.Cols,
		Rows: c.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}

	p := &PTY{
		file: ptmx,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *PTY) wait() {
	err := p.cmd.Wait()
	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}
	p.exitCode = code
	close(p.done)
}

// Read reads from the PTY
func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Read(buf)
}

// Write writes to the PTY
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Write(data)
}

// Resize changes the PTY window size
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return os.ErrClosed
	}

	return pty.Setsize(p.file, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// Signal sends a signal to the PTY process
func (p *PTY) Signal(sig Signal) error {
	if p.exited() {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Signal(syscall.Signal(sig))
}

// Kill sends SIGKILL to the process group of the shell. The shell is a
// session leader (creack/pty sets Setsid), so its jobs go with it.
func (p *PTY) Kill() error {
	if p.exited() {
		return nil
	}
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait blocks until the process exits and returns its exit code
// (-1 when it was terminated by a signal).
func (p *PTY) Wait() int {
	<-p.done
	return p.exitCode
}

// Done returns a channel that closes when the PTY process exits
func (p *PTY) Done() <-chan struct{} {
	return p.done
}

// Pid returns the shell's process id
func (p *PTY) Pid() int {
	return p.cmd.Process.Pid
}

// Close terminates the PTY
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	// Kill the process if still running
	if err := p.Kill(); err != nil {
		p.file.Close()
		return err
	}

	return p.file.Close()
}

func (p *PTY) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

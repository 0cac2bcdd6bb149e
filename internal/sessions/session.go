package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/nxtg-forge/termbridge/internal/protocol"
	"github.com/nxtg-forge/termbridge/internal/pty"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotLive   = errors.New("session is not running")
	ErrRunspaceMismatch = errors.New("session belongs to another runspace")
)

// State is a session lifecycle state.
type State string

const (
	StateSpawning State = "spawning"
	StateAttached State = "attached"
	StateDetached State = "detached"
	StateExiting  State = "exiting"
	StateRemoved  State = "removed"
)

// Socket is the session's view of a client connection. Send must not block:
// a connection that cannot keep up drops itself and reports false.
type Socket interface {
	ID() string
	Send(msg protocol.ServerMessage) bool
	Close(code int, reason string)
}

// Session is one logical terminal. It outlives the connections attached to
// it and owns exactly one process for its whole life.
type Session struct {
	ID         string
	RunspaceID string
	CreatedAt  time.Time

	mu           sync.Mutex
	state        State
	proc         pty.Process
	socket       Socket
	scrollback   *Scrollback
	lastActivity time.Time
	cwd          string
	shell        string
	cols, rows   uint16
	exitCode     *int

	idle    *time.Timer
	idleGen uint64

	// inMu serialises writes to the process and guards pending.
	inMu    sync.Mutex
	pending CommandBuffer
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID              string    `json:"id"`
	RunspaceID      string    `json:"runspaceId"`
	State           State     `json:"state"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivity    time.Time `json:"lastActivity"`
	Cwd             string    `json:"cwd,omitempty"`
	Shell           string    `json:"shell,omitempty"`
	Cols            uint16    `json:"cols,omitempty"`
	Rows            uint16    `json:"rows,omitempty"`
	ScrollbackBytes int       `json:"scrollbackBytes"`
	ExitCode        *int      `json:"exitCode,omitempty"`
	Attached        bool      `json:"attached"`
}

func newSession(id, runspaceID string, scrollbackBytes int) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		RunspaceID:   runspaceID,
		CreatedAt:    now,
		state:        StateSpawning,
		scrollback:   NewScrollback(scrollbackBytes),
		lastActivity: now,
	}
}

// Start binds the spawned process. It is only valid while SPAWNING; the
// session is then running with no socket until Attach.
func (s *Session) Start(proc pty.Process, cwd, shell string, cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSpawning || s.proc != nil {
		return ErrSessionNotLive
	}
	s.proc = proc
	s.cwd = cwd
	s.shell = shell
	s.cols, s.rows = cols, rows
	s.state = StateDetached
	s.lastActivity = time.Now()
	return nil
}

// Attach makes sock the session's only socket. The session greeting and the
// scrollback replay are sent before any later output, under the same lock
// that Append takes, so the client sees the output stream without gaps or
// duplicates. Any idle timer is cancelled. The previously attached socket,
// if any, is returned for the caller to close.
func (s *Session) Attach(sock Socket, resumed bool) (Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAttached && s.state != StateDetached {
		return nil, ErrSessionNotLive
	}
	s.stopIdleLocked()

	prev := s.socket
	s.socket = sock
	s.state = StateAttached
	s.lastActivity = time.Now()

	sock.Send(protocol.ServerMessage{
		Type:       protocol.TypeSession,
		SessionID:  s.ID,
		RunspaceID: s.RunspaceID,
		Resumed:    resumed,
	})
	if s.scrollback.Len() > 0 {
		sock.Send(protocol.Output(s.scrollback.Bytes()))
	}
	return prev, nil
}

// Append records process output and forwards it to the attached socket.
func (s *Session) Append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRemoved {
		return
	}
	s.scrollback.Write(data)
	s.lastActivity = time.Now()
	if s.socket != nil {
		s.socket.Send(protocol.Output(data))
	}
}

// Send delivers a message to the attached socket, if sock is still the
// attached one. It reports whether the message was queued.
func (s *Session) Send(sock Socket, msg protocol.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.socket == nil || s.socket != sock {
		return false
	}
	return sock.Send(msg)
}

// detach releases sock and arms the idle timer. It returns false when sock
// is not the attached socket, e.g. because it was already replaced.
func (s *Session) detach(sock Socket, grace time.Duration, expire func(gen uint64)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.socket == nil || s.socket != sock {
		return false
	}
	s.socket = nil
	if s.state != StateAttached {
		return true
	}
	s.state = StateDetached
	s.lastActivity = time.Now()

	s.stopIdleLocked()
	gen := s.idleGen
	s.idle = time.AfterFunc(grace, func() { expire(gen) })
	return true
}

// expireIdle moves a still idle session to EXITING. A timer whose
// generation was superseded by an attach, or a session that has meanwhile
// exited, is left alone.
func (s *Session) expireIdle(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.idleGen || s.socket != nil || s.state != StateDetached {
		return false
	}
	s.idle = nil
	s.state = StateExiting
	return true
}

// stopIdleLocked cancels the idle timer. Bumping the generation makes a
// callback that already fired a no-op.
func (s *Session) stopIdleLocked() {
	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}

// Exited records the process exit. It returns the socket that was attached
// and whether this call performed the transition.
func (s *Session) Exited(code int) (Socket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exitCode != nil {
		return nil, false
	}
	s.exitCode = &code
	s.stopIdleLocked()
	sock := s.socket
	s.socket = nil
	if s.state != StateRemoved {
		s.state = StateExiting
	}
	return sock, true
}

// Terminate detaches the current socket, closing it with code, and moves
// the session to EXITING. The process is killed by the caller.
func (s *Session) Terminate(code int, reason string) {
	s.mu.Lock()
	s.stopIdleLocked()
	sock := s.socket
	s.socket = nil
	if s.state != StateRemoved {
		s.state = StateExiting
	}
	s.mu.Unlock()

	if sock != nil {
		sock.Close(code, reason)
	}
}

// Kill terminates the process. It is safe to call repeatedly and before a
// process was bound.
func (s *Session) Kill() error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// Write forwards raw input to the process and mirrors it into the pending
// command line.
func (s *Session) Write(data []byte) error {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	proc, err := s.liveProcess()
	if err != nil {
		return err
	}
	for _, part := range splitLines(data) {
		switch {
		case !part.terminated:
			s.pending.Feed(part.text)
		case s.pending.Continues():
			s.pending.Join()
		default:
			s.pending.Reset()
		}
	}
	_, err = proc.Write(data)
	return err
}

// WriteChecked is Write for guarded sessions. When a line terminator
// completes a command that check rejects, the terminator is replaced with
// Ctrl-U so the shell discards the line, or with Ctrl-C when the command
// spans continuation lines the shell already holds. A terminator after an
// unescaped backslash continues the command; the joined line is checked at
// the terminator that completes it. The rejected commands and their errors
// are returned.
func (s *Session) WriteChecked(data []byte, check func(line string) error) ([]Rejected, error) {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	proc, err := s.liveProcess()
	if err != nil {
		return nil, err
	}

	var rejected []Rejected
	out := make([]byte, 0, len(data))
	for _, part := range splitLines(data) {
		if !part.terminated {
			s.pending.Feed(part.text)
			out = append(out, part.text...)
			continue
		}
		if s.pending.Continues() {
			s.pending.Join()
			out = append(out, part.text...)
			continue
		}
		joined := s.pending.Joined()
		line := s.pending.Line()
		s.pending.Reset()
		if line != "" {
			if err := check(line); err != nil {
				rejected = append(rejected, Rejected{Command: line, Err: err})
				out = append(out, cancelKey(joined))
				continue
			}
		}
		out = append(out, part.text...)
	}

	if len(out) > 0 {
		if _, err := proc.Write(out); err != nil {
			return rejected, err
		}
	}
	return rejected, nil
}

// Submit writes a complete command followed by a newline. Anything typed
// but not yet submitted is discarded first. A command ending in a
// continuation stays pending, so whatever completes it is checked as one
// line.
func (s *Session) Submit(command string) error {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	proc, err := s.liveProcess()
	if err != nil {
		return err
	}
	data := []byte(command + "\n")
	if s.pending.Joined() || len(s.pending.line) > 0 {
		data = append([]byte{cancelKey(s.pending.Joined())}, data...)
	}
	s.pending.Reset()
	if continues(command) {
		lines := LogicalLines(command)
		if len(lines) > 0 {
			s.pending.Feed([]byte(lines[len(lines)-1]))
		}
		s.pending.Join()
	}
	_, err = proc.Write(data)
	return err
}

// cancelKey is the key that makes the shell drop the line being edited.
// Ctrl-U only clears the current physical line, so a command continued
// over several lines needs Ctrl-C.
func cancelKey(joined bool) byte {
	if joined {
		return keyCtrlC
	}
	return keyCtrlU
}

// Resize changes the terminal size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	proc := s.proc
	if proc != nil && s.state != StateExiting && s.state != StateRemoved {
		s.cols, s.rows = cols, rows
	}
	s.mu.Unlock()

	if proc == nil {
		return ErrSessionNotLive
	}
	return proc.Resize(cols, rows)
}

// Rejected is a command line refused by a WriteChecked check.
type Rejected struct {
	Command string
	Err     error
}

func (s *Session) liveProcess() (pty.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil || (s.state != StateAttached && s.state != StateDetached) {
		return nil, ErrSessionNotLive
	}
	s.lastActivity = time.Now()
	return s.proc, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether the session has a running process or is about to.
func (s *Session) Live() bool {
	switch s.State() {
	case StateSpawning, StateAttached, StateDetached:
		return true
	}
	return false
}

// Socket returns the attached socket or nil.
func (s *Session) Socket() Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket
}

// Scrollback returns a copy of the buffered output.
func (s *Session) Scrollback() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollback.Bytes()
}

// IdleArmed reports whether the idle timer is running.
func (s *Session) IdleArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle != nil
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:              s.ID,
		RunspaceID:      s.RunspaceID,
		State:           s.state,
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.lastActivity,
		Cwd:             s.cwd,
		Shell:           s.shell,
		Cols:            s.cols,
		Rows:            s.rows,
		ScrollbackBytes: s.scrollback.Len(),
		Attached:        s.socket != nil,
	}
	if s.exitCode != nil {
		code := *s.exitCode
		info.ExitCode = &code
	}
	return info
}

func (s *Session) markRemoved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopIdleLocked()
	s.state = StateRemoved
}

type linePart struct {
	text       []byte
	terminated bool
}

// splitLines splits input into runs of line content and single line
// terminators, preserving order.
func splitLines(data []byte) []linePart {
	var parts []linePart
	start := 0
	for i, b := range data {
		if b != '\r' && b != '\n' {
			continue
		}
		if i > start {
			parts = append(parts, linePart{text: data[start:i]})
		}
		parts = append(parts, linePart{text: data[i : i+1], terminated: true})
		start = i + 1
	}
	if start < len(data) {
		parts = append(parts, linePart{text: data[start:]})
	}
	return parts
}

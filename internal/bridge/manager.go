// Package bridge ties terminal sessions to their shell processes and to the
// WebSocket connections that drive them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/audit"
	"github.com/nxtg-forge/termbridge/internal/guard"
	"github.com/nxtg-forge/termbridge/internal/id"
	"github.com/nxtg-forge/termbridge/internal/protocol"
	"github.com/nxtg-forge/termbridge/internal/pty"
	"github.com/nxtg-forge/termbridge/internal/recovery"
	"github.com/nxtg-forge/termbridge/internal/runspace"
	"github.com/nxtg-forge/termbridge/internal/sessions"
)

// Terminal size bounds.
const (
	DefaultCols = 80
	DefaultRows = 24
	MaxCols     = 500
	MaxRows     = 200
)

// Config wires a Manager.
type Config struct {
	Registry  *sessions.Registry
	Runspaces runspace.Resolver
	Spawner   pty.Spawner
	Guard     *guard.Guard
	Audit     audit.Recorder
	Logger    zerolog.Logger

	GracePeriod time.Duration
	// Shell is used for runspaces that do not name one.
	Shell string
	// GuardInteractive also checks lines typed as raw input.
	GuardInteractive bool
}

// Manager owns the session lifecycle: it spawns processes, routes client
// messages to them and tears sessions down on exit, expiry or request.
type Manager struct {
	registry  *sessions.Registry
	idle      *sessions.IdleController
	runspaces runspace.Resolver
	spawner   pty.Spawner
	guard     *guard.Guard
	audit     audit.Recorder
	log       zerolog.Logger

	shell            string
	guardInteractive bool
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		registry:         cfg.Registry,
		runspaces:        cfg.Runspaces,
		spawner:          cfg.Spawner,
		guard:            cfg.Guard,
		audit:            cfg.Audit,
		log:              cfg.Logger.With().Str("component", "bridge").Logger(),
		shell:            cfg.Shell,
		guardInteractive: cfg.GuardInteractive,
	}
	if m.spawner == nil {
		m.spawner = pty.HostSpawner{}
	}
	if m.audit == nil {
		m.audit = audit.Nop{}
	}
	m.idle = sessions.NewIdleController(cfg.GracePeriod, m.expire, m.log)
	return m
}

// Registry returns the session registry.
func (m *Manager) Registry() *sessions.Registry {
	return m.registry
}

// Runspaces returns the runspace resolver.
func (m *Manager) Runspaces() runspace.Resolver {
	return m.runspaces
}

// ConnectRequest identifies what a new connection asks for.
type ConnectRequest struct {
	RunspaceID string
	SessionID  string
	RemoteAddr string
}

// Connect binds sock to a session: the requested one when it is still
// running in the same runspace, a freshly spawned one otherwise. A
// previously attached socket is closed with CloseReplaced. Failures are
// *RejectError values carrying the close code for the client.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest, sock sessions.Socket) (*sessions.Session, error) {
	if err := m.validate(req); err != nil {
		m.rejected(ctx, req, sock, err)
		return nil, err
	}
	rs, ok := m.runspaces.Resolve(req.RunspaceID)
	if !ok {
		err := reject(protocol.CloseUnknownRunspace, "unknown runspace", runspace.ErrUnknown)
		m.rejected(ctx, req, sock, err)
		return nil, err
	}

	sessionID := req.SessionID
	for {
		s, created, err := m.registry.CreateOrAttach(rs.ID, sessionID)
		if errors.Is(err, sessions.ErrRunspaceMismatch) {
			rerr := reject(protocol.CloseRunspaceMismatch, "session belongs to another runspace", err)
			m.rejected(ctx, req, sock, rerr)
			return nil, rerr
		}
		if err != nil {
			rerr := reject(protocol.CloseSpawnFailed, "cannot allocate session", err)
			m.rejected(ctx, req, sock, rerr)
			return nil, rerr
		}

		if created {
			if err := m.spawn(ctx, s, rs); err != nil {
				sock.Send(protocol.Error(protocol.ErrCodeSpawnFailed, err.Error()))
				return nil, reject(protocol.CloseSpawnFailed, "failed to start shell", err)
			}
		}

		prev, err := s.Attach(sock, !created)
		if errors.Is(err, sessions.ErrSessionNotLive) {
			if created {
				// The shell exited before the client could see it.
				return nil, reject(protocol.CloseSessionEnded, "session ended", err)
			}
			// Lost a race with exit or expiry: start over with a new session.
			sessionID = ""
			continue
		}
		if err != nil {
			return nil, reject(protocol.CloseSpawnFailed, "attach failed", err)
		}

		log := m.log.With().Str("session", s.ID).Str("runspace", s.RunspaceID).Str("socket", sock.ID()).Logger()
		if prev != nil {
			prev.Close(protocol.CloseReplaced, "replaced by a newer connection")
			log.Info().Str("replaced", prev.ID()).Msg("socket replaced")
			m.record(ctx, audit.Event{Type: audit.EventSessionReplaced, SessionID: s.ID, RunspaceID: s.RunspaceID, SocketID: prev.ID()})
		}
		if created {
			log.Info().Msg("session created")
			m.record(ctx, audit.Event{Type: audit.EventSessionCreated, SessionID: s.ID, RunspaceID: s.RunspaceID, SocketID: sock.ID(), RemoteAddr: req.RemoteAddr})
		} else {
			log.Info().Msg("session resumed")
			m.record(ctx, audit.Event{Type: audit.EventSessionAttached, SessionID: s.ID, RunspaceID: s.RunspaceID, SocketID: sock.ID(), RemoteAddr: req.RemoteAddr})
		}
		return s, nil
	}
}

func (m *Manager) validate(req ConnectRequest) error {
	if req.RunspaceID == "" {
		return reject(protocol.CloseMalformed, "missing runspace", nil)
	}
	if !runspace.ValidID(req.RunspaceID) {
		return reject(protocol.CloseMalformed, "malformed runspace", runspace.ErrInvalidID)
	}
	if req.SessionID != "" && !id.Valid(req.SessionID) {
		return reject(protocol.CloseMalformed, "malformed session id", nil)
	}
	return nil
}

func (m *Manager) rejected(ctx context.Context, req ConnectRequest, sock sessions.Socket, err error) {
	m.log.Warn().
		Err(err).
		Str("runspace", req.RunspaceID).
		Str("session", req.SessionID).
		Str("remote", req.RemoteAddr).
		Msg("connection rejected")
	m.record(ctx, audit.Event{
		Type:       audit.EventConnectionRejected,
		SessionID:  req.SessionID,
		RunspaceID: req.RunspaceID,
		SocketID:   sock.ID(),
		RemoteAddr: req.RemoteAddr,
		Detail:     err.Error(),
	})
}

// spawn starts the shell for a SPAWNING session. On failure the session is
// removed so it is never observable as registered.
func (m *Manager) spawn(ctx context.Context, s *sessions.Session, rs runspace.Runspace) error {
	shell := rs.Shell
	if shell == "" {
		shell = m.shell
	}
	if shell == "" {
		shell = pty.DefaultShell()
	}

	env := append(os.Environ(),
		"TERM=xterm-256color",
		"TERMBRIDGE_SESSION="+s.ID,
		"TERMBRIDGE_RUNSPACE="+rs.ID,
	)
	env = append(env, rs.Environ()...)

	proc, err := m.spawner.Spawn(pty.Command{
		Path: shell,
		Dir:  rs.Cwd,
		Env:  env,
		Cols: DefaultCols,
		Rows: DefaultRows,
	})
	if err != nil {
		m.registry.Remove(s.ID)
		m.log.Error().Err(err).Str("session", s.ID).Str("runspace", rs.ID).Str("shell", shell).Msg("spawn failed")
		m.record(ctx, audit.Event{Type: audit.EventSpawnFailed, SessionID: s.ID, RunspaceID: rs.ID, Detail: err.Error()})
		return fmt.Errorf("%w: %v", ErrProcessSpawnFailed, err)
	}

	if err := s.Start(proc, rs.Cwd, shell, DefaultCols, DefaultRows); err != nil {
		proc.Close()
		m.registry.Remove(s.ID)
		return fmt.Errorf("%w: %v", ErrProcessSpawnFailed, err)
	}

	pump := pty.NewPump(proc, s.Append, func(code int) {
		m.onExit(s, code)
	})
	// Exit handling is idempotent; the cleanup only matters if the pump panics.
	recovery.SafeGoWithCleanup(m.log, "pty-pump", pump.Run, func() {
		m.onExit(s, -1)
		proc.Close()
	})
	return nil
}

// onExit finishes a session whose process is gone.
func (m *Manager) onExit(s *sessions.Session, code int) {
	sock, first := s.Exited(code)
	if !first {
		return
	}

	m.log.Info().Str("session", s.ID).Int("exit_code", code).Msg("process exited")
	m.record(context.Background(), audit.Event{
		Type:       audit.EventSessionExited,
		SessionID:  s.ID,
		RunspaceID: s.RunspaceID,
		Detail:     fmt.Sprintf("exit code %d", code),
	})

	if sock != nil {
		if code != 0 {
			sock.Send(protocol.Error(protocol.ErrCodeCrashed, fmt.Sprintf("%v: exit code %d", ErrProcessCrashed, code)))
		}
		sock.Send(protocol.Exit(code))
		sock.Close(protocol.CloseSessionEnded, fmt.Sprintf("session ended (exit code %d)", code))
	}
	m.registry.Remove(s.ID)
}

// Detach handles the close of sock. The session stays alive for the grace
// period.
func (m *Manager) Detach(s *sessions.Session, sock sessions.Socket) {
	if !m.idle.Detached(s, sock) {
		return
	}
	m.log.Info().
		Str("session", s.ID).
		Str("socket", sock.ID()).
		Dur("grace", m.idle.GracePeriod()).
		Msg("session detached")
	m.record(context.Background(), audit.Event{Type: audit.EventSessionDetached, SessionID: s.ID, RunspaceID: s.RunspaceID, SocketID: sock.ID()})
}

// expire is the idle controller callback.
func (m *Manager) expire(s *sessions.Session) {
	if err := s.Kill(); err != nil {
		m.log.Error().Err(err).Str("session", s.ID).Msg("failed to kill expired session")
	}
	m.registry.Remove(s.ID)
	m.record(context.Background(), audit.Event{Type: audit.EventSessionExpired, SessionID: s.ID, RunspaceID: s.RunspaceID})
}

// Write forwards keystrokes. With interactive guarding, a dangerous line
// typed by the user is cancelled instead of submitted and the client is
// told why.
func (m *Manager) Write(ctx context.Context, s *sessions.Session, sock sessions.Socket, data []byte) error {
	if !m.guardInteractive || m.guard == nil {
		return s.Write(data)
	}
	rejected, err := s.WriteChecked(data, m.guard.Check)
	for _, r := range rejected {
		m.blocked(ctx, s, sock, r.Command, r.Err)
	}
	return err
}

// Execute submits a whole command. A command rejected by the guard is not
// forwarded; the error is reported to the client and returned.
func (m *Manager) Execute(ctx context.Context, s *sessions.Session, sock sessions.Socket, command string) error {
	command = strings.TrimRight(command, "\r\n")
	if m.guard != nil {
		for _, line := range commandLines(command) {
			if err := m.guard.Check(line); err != nil {
				m.blocked(ctx, s, sock, command, err)
				return err
			}
		}
	}
	return s.Submit(command)
}

// commandLines returns every line of command the guard must see: each
// physical line, and each logical line the shell builds by joining
// backslash continuations.
func commandLines(command string) []string {
	lines := strings.FieldsFunc(command, isLineBreak)
	return append(lines, sessions.LogicalLines(command)...)
}

func isLineBreak(r rune) bool {
	return r == '\n' || r == '\r'
}

func (m *Manager) blocked(ctx context.Context, s *sessions.Session, sock sessions.Socket, command string, err error) {
	m.log.Warn().
		Str("session", s.ID).
		Str("command", command).
		Err(err).
		Msg("dangerous command blocked")
	s.Send(sock, protocol.Error(protocol.ErrCodeBlocked, err.Error()))
	m.record(ctx, audit.Event{
		Type:       audit.EventCommandBlocked,
		SessionID:  s.ID,
		RunspaceID: s.RunspaceID,
		SocketID:   sock.ID(),
		Detail:     command,
	})
}

// Resize changes the terminal size within MaxCols x MaxRows.
func (m *Manager) Resize(s *sessions.Session, cols, rows uint16) error {
	if cols == 0 || rows == 0 || cols > MaxCols || rows > MaxRows {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, cols, rows)
	}
	return s.Resize(cols, rows)
}

// Kill terminates a session on request. The attached client, if any, is
// closed with CloseSessionEnded.
func (m *Manager) Kill(ctx context.Context, sessionID string) error {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return err
	}
	s.Terminate(protocol.CloseSessionEnded, "session terminated")
	if err := s.Kill(); err != nil {
		m.log.Error().Err(err).Str("session", s.ID).Msg("failed to kill session")
	}
	m.registry.Remove(s.ID)
	m.log.Info().Str("session", s.ID).Msg("session killed")
	m.record(ctx, audit.Event{Type: audit.EventSessionKilled, SessionID: s.ID, RunspaceID: s.RunspaceID})
	return nil
}

// Shutdown terminates every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	n := m.registry.Len()
	err := m.registry.Shutdown(ctx)
	m.log.Info().Int("sessions", n).Msg("all sessions terminated")
	return err
}

func (m *Manager) record(ctx context.Context, e audit.Event) {
	// Audit failures are logged by the recorder and never fail the caller.
	_ = m.audit.Record(ctx, e)
}

package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/audit"
	"github.com/nxtg-forge/termbridge/internal/guard"
	"github.com/nxtg-forge/termbridge/internal/protocol"
	"github.com/nxtg-forge/termbridge/internal/pty"
	"github.com/nxtg-forge/termbridge/internal/runspace"
	"github.com/nxtg-forge/termbridge/internal/sessions"
)

// echoProcess behaves like a terminal in cooked mode: everything written
// to it comes back as output.
type echoProcess struct {
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	input bytes.Buffer
	code  int
	kills int
	cmd   pty.Command
	// killErr makes Kill fail and leave the process running.
	killErr error
}

func newEchoProcess(cmd pty.Command) *echoProcess {
	return &echoProcess{
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
		cmd:  cmd,
	}
}

func (p *echoProcess) Read(b []byte) (int, error) {
	select {
	case data := <-p.out:
		return copy(b, data), nil
	case <-p.done:
		return 0, io.EOF
	}
}

func (p *echoProcess) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errors.New("process exited")
	default:
	}
	p.mu.Lock()
	p.input.Write(b)
	p.mu.Unlock()
	p.emit(string(b))
	return len(b), nil
}

func (p *echoProcess) emit(s string) {
	data := []byte(s)
	select {
	case p.out <- data:
	case <-p.done:
	}
}

func (p *echoProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *echoProcess) Resize(cols, rows uint16) error { return nil }

func (p *echoProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	err := p.killErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.exit(-1)
	return nil
}

func (p *echoProcess) failKill(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killErr = err
}

func (p *echoProcess) Wait() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *echoProcess) Close() error {
	p.exit(-1)
	return nil
}

func (p *echoProcess) Pid() int { return 1 }

func (p *echoProcess) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func (p *echoProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*echoProcess
	err   error
}

func (f *fakeSpawner) Spawn(cmd pty.Command) (pty.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := newEchoProcess(cmd)
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeSpawner) last() *echoProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procs) == 0 {
		return nil
	}
	return f.procs[len(f.procs)-1]
}

type testSocket struct {
	id   string
	msgs chan protocol.ServerMessage

	mu          sync.Mutex
	closeCode   int
	closeReason string
	closed      chan struct{}
}

func newTestSocket(id string) *testSocket {
	return &testSocket{
		id:     id,
		msgs:   make(chan protocol.ServerMessage, 512),
		closed: make(chan struct{}),
	}
}

func (s *testSocket) ID() string { return s.id }

func (s *testSocket) Send(msg protocol.ServerMessage) bool {
	select {
	case s.msgs <- msg:
		return true
	default:
		return false
	}
}

func (s *testSocket) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCode != 0 {
		return
	}
	s.closeCode = code
	s.closeReason = reason
	close(s.closed)
}

func (s *testSocket) closeInfo() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason
}

// next returns the next message or fails the test after a timeout.
func (s *testSocket) next(t *testing.T) protocol.ServerMessage {
	t.Helper()
	select {
	case msg := <-s.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return protocol.ServerMessage{}
	}
}

// waitOutput collects output frames until their concatenation contains want.
func (s *testSocket) waitOutput(t *testing.T, want string) string {
	t.Helper()
	var got strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.msgs:
			if msg.Type == protocol.TypeOutput {
				got.WriteString(msg.Data)
				if strings.Contains(got.String(), want) {
					return got.String()
				}
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got %q", want, got.String())
			return ""
		}
	}
}

// waitType skips messages until one of type typ arrives.
func (s *testSocket) waitType(t *testing.T, typ string) protocol.ServerMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.msgs:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s message", typ)
			return protocol.ServerMessage{}
		}
	}
}

func (s *testSocket) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-s.closed:
		return s.closeInfo()
	case <-time.After(2 * time.Second):
		t.Fatal("socket was not closed")
		return 0, ""
	}
}

// recordingAudit keeps events in memory.
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

type harness struct {
	manager  *Manager
	spawner  *fakeSpawner
	audit    *recordingAudit
	registry *sessions.Registry
	cwd      string
}

type staticResolver map[string]runspace.Runspace

func (s staticResolver) Resolve(id string) (runspace.Runspace, bool) {
	rs, ok := s[id]
	return rs, ok
}

func (s staticResolver) List() []runspace.Runspace {
	var list []runspace.Runspace
	for _, rs := range s {
		list = append(list, rs)
	}
	return list
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	g, err := guard.New()
	if err != nil {
		t.Fatal(err)
	}
	cwd := t.TempDir()
	h := &harness{
		spawner:  &fakeSpawner{},
		audit:    &recordingAudit{},
		registry: sessions.NewRegistry(64 * 1024),
		cwd:      cwd,
	}
	h.manager = NewManager(Config{
		Registry: h.registry,
		Runspaces: staticResolver{
			"forge": {ID: "forge", Cwd: cwd, Env: map[string]string{"PROJECT": "forge"}},
			"docs":  {ID: "docs", Cwd: cwd, Shell: "/bin/zsh"},
		},
		Spawner:          h.spawner,
		Guard:            g,
		Audit:            h.audit,
		Logger:           zerolog.Nop(),
		GracePeriod:      grace,
		Shell:            "/bin/sh",
		GuardInteractive: true,
	})
	t.Cleanup(func() { h.manager.Shutdown(context.Background()) })
	return h
}

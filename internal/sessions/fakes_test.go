package sessions

import (
	"bytes"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/protocol"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeSocket struct {
	id string

	mu          sync.Mutex
	msgs        []protocol.ServerMessage
	closeCode   int
	closeReason string
	full        bool
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id}
}

func (f *fakeSocket) ID() string { return f.id }

func (f *fakeSocket) Send(msg protocol.ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closeCode != 0 {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSocket) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeCode == 0 {
		f.closeCode = code
		f.closeReason = reason
	}
}

func (f *fakeSocket) messages() []protocol.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ServerMessage(nil), f.msgs...)
}

// output concatenates every output frame received.
func (f *fakeSocket) output() string {
	var b bytes.Buffer
	for _, m := range f.messages() {
		if m.Type == protocol.TypeOutput {
			b.WriteString(m.Data)
		}
	}
	return b.String()
}

func (f *fakeSocket) closed() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

type fakeProcess struct {
	mu      sync.Mutex
	written bytes.Buffer
	kills   int
	cols    uint16
	rows    uint16
}

func (p *fakeProcess) Read(b []byte) (int, error) { return 0, io.EOF }

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	return nil
}

func (p *fakeProcess) Wait() int    { return 0 }
func (p *fakeProcess) Close() error { return nil }
func (p *fakeProcess) Pid() int     { return 42 }

func (p *fakeProcess) input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// runningSession returns a started, detached session backed by a fake process.
func runningSession(r *Registry, runspace string) (*Session, *fakeProcess) {
	s, _, err := r.CreateOrAttach(runspace, "")
	if err != nil {
		panic(err)
	}
	proc := &fakeProcess{}
	if err := s.Start(proc, "/tmp", "/bin/sh", 80, 24); err != nil {
		panic(err)
	}
	return s, proc
}

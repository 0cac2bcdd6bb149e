package sessions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxtg-forge/termbridge/internal/protocol"
)

func TestAttachSendsGreetingThenReplay(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")
	s.Append([]byte("before attach\n"))

	sock := newFakeSocket("a")
	prev, err := s.Attach(sock, true)
	require.NoError(t, err)
	assert.Nil(t, prev)

	msgs := sock.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypeSession, msgs[0].Type)
	assert.Equal(t, s.ID, msgs[0].SessionID)
	assert.Equal(t, "forge", msgs[0].RunspaceID)
	assert.True(t, msgs[0].Resumed)
	assert.Equal(t, protocol.Output([]byte("before attach\n")), msgs[1])
	assert.Equal(t, StateAttached, s.State())
}

func TestAttachWithEmptyScrollbackSendsOnlyGreeting(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")

	sock := newFakeSocket("a")
	_, err := s.Attach(sock, false)
	require.NoError(t, err)
	require.Len(t, sock.messages(), 1)
}

func TestAttachRequiresRunningSession(t *testing.T) {
	r := NewRegistry(1024)
	s, _, err := r.CreateOrAttach("forge", "")
	require.NoError(t, err)

	_, err = s.Attach(newFakeSocket("a"), false)
	assert.ErrorIs(t, err, ErrSessionNotLive)

	s.Exited(0)
	_, err = s.Attach(newFakeSocket("b"), false)
	assert.ErrorIs(t, err, ErrSessionNotLive)
}

func TestStartOnlyOnce(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")

	err := s.Start(&fakeProcess{}, "/", "/bin/sh", 80, 24)
	assert.ErrorIs(t, err, ErrSessionNotLive)
}

func TestAttachReplacesPreviousSocket(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")

	first := newFakeSocket("first")
	_, err := s.Attach(first, false)
	require.NoError(t, err)

	second := newFakeSocket("second")
	prev, err := s.Attach(second, true)
	require.NoError(t, err)
	assert.Same(t, first, prev)
	assert.Same(t, second, s.Socket())

	s.Append([]byte("only for second"))
	assert.NotContains(t, first.output(), "only for second")
	assert.Contains(t, second.output(), "only for second")
}

// Output produced across any sequence of detach/attach is seen by the final
// client exactly once and in order, as long as it fits in scrollback.
func TestOutputOrderAcrossReattachments(t *testing.T) {
	r := NewRegistry(1 << 20)
	s, _ := runningSession(r, "forge")
	idle := NewIdleController(DefaultGracePeriod, nil, testLogger())

	var want strings.Builder
	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		for i := 0; i < 500; i++ {
			chunk := fmt.Sprintf("line %03d\n", i)
			want.WriteString(chunk)
			s.Append([]byte(chunk))
		}
	}()

	var last *fakeSocket
	for i := 0; i < 20; i++ {
		sock := newFakeSocket(fmt.Sprintf("s%d", i))
		_, err := s.Attach(sock, i > 0)
		require.NoError(t, err)
		last = sock
		if i < 19 {
			idle.Detached(s, sock)
		}
	}
	producer.Wait()

	// Replay of a later attach repeats everything, so compare against the
	// final socket, which stayed attached.
	got := last.output()
	assert.Equal(t, want.String(), got)
}

func TestOutputAfterReplayIsContiguous(t *testing.T) {
	r := NewRegistry(1 << 20)
	s, _ := runningSession(r, "forge")

	s.Append([]byte("a"))
	sock := newFakeSocket("x")
	_, err := s.Attach(sock, false)
	require.NoError(t, err)
	s.Append([]byte("b"))
	s.Append([]byte("c"))

	assert.Equal(t, "abc", sock.output())
	assert.Equal(t, "abc", string(s.Scrollback()))
}

func TestSendOnlyToAttachedSocket(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")
	a := newFakeSocket("a")
	b := newFakeSocket("b")
	s.Attach(a, false)

	assert.True(t, s.Send(a, protocol.Error(protocol.ErrCodeBlocked, "no")))
	assert.False(t, s.Send(b, protocol.Error(protocol.ErrCodeBlocked, "no")))
}

func TestWriteMirrorsPendingLine(t *testing.T) {
	r := NewRegistry(1024)
	s, proc := runningSession(r, "forge")

	require.NoError(t, s.Write([]byte("echo hi")))
	assert.Equal(t, "echo hi", s.pending.Line())

	require.NoError(t, s.Write([]byte("\r")))
	assert.Equal(t, "", s.pending.Line())
	assert.Equal(t, "echo hi\r", proc.input())
}

func TestWriteCheckedCancelsRejectedLine(t *testing.T) {
	r := NewRegistry(1024)
	s, proc := runningSession(r, "forge")
	errBad := errors.New("bad")
	check := func(line string) error {
		if strings.HasPrefix(line, "rm") {
			return errBad
		}
		return nil
	}

	rejected, err := s.WriteChecked([]byte("rm -rf /"), check)
	require.NoError(t, err)
	assert.Empty(t, rejected)

	rejected, err = s.WriteChecked([]byte("\rls\r"), check)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "rm -rf /", rejected[0].Command)
	assert.ErrorIs(t, rejected[0].Err, errBad)

	// Enter after the rejected line became Ctrl-U; the next command went through.
	assert.Equal(t, "rm -rf /\x15ls\r", proc.input())
}

func TestWriteCheckedJoinsContinuation(t *testing.T) {
	r := NewRegistry(1024)
	s, proc := runningSession(r, "forge")
	check := func(line string) error {
		if line == "rm -rf /" {
			return errors.New("bad")
		}
		return nil
	}

	rejected, err := s.WriteChecked([]byte("rm -rf \\\r"), check)
	require.NoError(t, err)
	assert.Empty(t, rejected, "a continued line is not complete yet")

	rejected, err = s.WriteChecked([]byte("/\r"), check)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "rm -rf /", rejected[0].Command)
	assert.Equal(t, "rm -rf \\\r/\x03", proc.input())

	// The buffer starts over after the cancelled command.
	rejected, err = s.WriteChecked([]byte("ls\r"), check)
	require.NoError(t, err)
	assert.Empty(t, rejected)
}

func TestSubmitContinuationStaysPending(t *testing.T) {
	r := NewRegistry(1024)
	s, proc := runningSession(r, "forge")
	var checked []string
	check := func(line string) error {
		checked = append(checked, line)
		return nil
	}

	require.NoError(t, s.Submit("rm -rf \\"))
	_, err := s.WriteChecked([]byte("/\r"), check)
	require.NoError(t, err)
	assert.Equal(t, []string{"rm -rf /"}, checked)

	require.NoError(t, s.Submit("echo \\"))
	require.NoError(t, s.Submit("pwd"))
	assert.Equal(t, "rm -rf \\\n/\recho \\\n\x03pwd\n", proc.input())
}

func TestSubmitDiscardsPartialInput(t *testing.T) {
	r := NewRegistry(1024)
	s, proc := runningSession(r, "forge")

	require.NoError(t, s.Submit("pwd"))
	assert.Equal(t, "pwd\n", proc.input())

	require.NoError(t, s.Write([]byte("partial")))
	require.NoError(t, s.Submit("ls"))
	assert.Equal(t, "pwd\npartial\x15ls\n", proc.input())
}

func TestWriteAfterExitFails(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")
	s.Exited(0)

	assert.ErrorIs(t, s.Write([]byte("x")), ErrSessionNotLive)
	assert.ErrorIs(t, s.Submit("x"), ErrSessionNotLive)
}

func TestResize(t *testing.T) {
	r := NewRegistry(1024)
	s, proc := runningSession(r, "forge")

	require.NoError(t, s.Resize(132, 43))
	assert.Equal(t, uint16(132), proc.cols)
	info := s.Info()
	assert.Equal(t, uint16(132), info.Cols)
	assert.Equal(t, uint16(43), info.Rows)
}

func TestExitedIsIdempotent(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")
	sock := newFakeSocket("a")
	s.Attach(sock, false)

	got, first := s.Exited(2)
	assert.True(t, first)
	assert.Same(t, sock, got)
	assert.Equal(t, StateExiting, s.State())

	got, first = s.Exited(2)
	assert.False(t, first)
	assert.Nil(t, got)

	require.NotNil(t, s.Info().ExitCode)
	assert.Equal(t, 2, *s.Info().ExitCode)
}

func TestTerminateClosesSocket(t *testing.T) {
	r := NewRegistry(1024)
	s, _ := runningSession(r, "forge")
	sock := newFakeSocket("a")
	s.Attach(sock, false)

	s.Terminate(protocol.CloseServerShutdown, "bye")

	code, reason := sock.closed()
	assert.Equal(t, protocol.CloseServerShutdown, code)
	assert.Equal(t, "bye", reason)
	assert.Nil(t, s.Socket())
	assert.False(t, s.Live())
}

func TestKillBeforeStart(t *testing.T) {
	r := NewRegistry(1024)
	s, _, err := r.CreateOrAttach("forge", "")
	require.NoError(t, err)
	assert.NoError(t, s.Kill())
}

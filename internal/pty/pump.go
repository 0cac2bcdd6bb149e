package pty

import (
	"time"
	"unicode/utf8"
)

// DefaultDrainTimeout bounds how long the pump keeps reading after the
// process exited. Background jobs can hold the terminal open indefinitely.
const DefaultDrainTimeout = 500 * time.Millisecond

const readBufferSize = 32 * 1024

// Pump copies a process's terminal output to a callback, in order, and
// reports the exit code once the process is gone and its output drained.
type Pump struct {
	proc     Process
	onOutput func([]byte)
	onExit   func(code int)

	DrainTimeout time.Duration
}

// NewPump creates a pump for proc. Neither callback is called concurrently
// with itself, and onExit is called exactly once, after the last onOutput.
func NewPump(proc Process, onOutput func([]byte), onExit func(code int)) *Pump {
	return &Pump{
		proc:         proc,
		onOutput:     onOutput,
		onExit:       onExit,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Run blocks until the process has exited.
func (p *Pump) Run() {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		p.readLoop()
	}()

	code := p.proc.Wait()

	select {
	case <-readDone:
	case <-time.After(p.DrainTimeout):
		// Closing the terminal unblocks the pending Read.
		p.proc.Close()
		<-readDone
	}

	p.onExit(code)
}

// readLoop reads from the PTY until it fails. Chunks never end in the
// middle of a UTF-8 sequence; an incomplete tail is carried to the next read.
func (p *Pump) readLoop() {
	buf := make([]byte, readBufferSize)
	var carry []byte

	for {
		n, err := p.proc.Read(buf)
		if n > 0 {
			data := make([]byte, 0, len(carry)+n)
			data = append(data, carry...)
			data = append(data, buf[:n]...)

			var complete []byte
			complete, carry = splitUTF8(data)
			if len(complete) > 0 {
				p.onOutput(complete)
			}
		}
		if err != nil {
			if len(carry) > 0 {
				p.onOutput(carry)
			}
			return
		}
	}
}

// splitUTF8 splits b into a prefix that does not end inside a multi-byte
// rune and the (at most 3 byte) incomplete remainder.
func splitUTF8(b []byte) (complete, rest []byte) {
	start := len(b) - utf8.UTFMax
	if start < 0 {
		start = 0
	}
	for i := len(b) - 1; i >= start; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		rest = make([]byte, len(b)-i)
		copy(rest, b[i:])
		return b[:i], rest
	}
	return b, nil
}

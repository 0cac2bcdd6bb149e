package bridge

import (
	"errors"
	"fmt"

	"github.com/nxtg-forge/termbridge/internal/guard"
)

var (
	ErrConnectionRejected = errors.New("connection rejected")
	ErrProcessSpawnFailed = errors.New("process spawn failed")
	ErrProcessCrashed     = errors.New("process crashed")
	ErrInvalidSize        = errors.New("terminal size out of range")

	// ErrDangerousCommandBlocked is the guard's sentinel, so errors.Is
	// matches guard.BlockedError values.
	ErrDangerousCommandBlocked = guard.ErrDangerousCommand
)

// RejectError is a refused connection. Code is the WebSocket close code
// the client receives.
type RejectError struct {
	Code   int
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrConnectionRejected, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrConnectionRejected, e.Reason)
}

func (e *RejectError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConnectionRejected, e.Err}
	}
	return []error{ErrConnectionRejected}
}

func reject(code int, reason string, err error) *RejectError {
	return &RejectError{Code: code, Reason: reason, Err: err}
}

package recovery

import (
	"runtime/debug"

	"github.com/rs/zerolog"
)

// SafeGo runs a function in a goroutine with automatic panic recovery.
func SafeGo(log zerolog.Logger, name string, fn func()) {
	go Run(log, name, fn)
}

// SafeGoWithCleanup runs a function in a goroutine with panic recovery and cleanup.
// cleanup runs whether fn returns normally or panics.
func SafeGoWithCleanup(log zerolog.Logger, name string, fn func(), cleanup func()) {
	go func() {
		if cleanup != nil {
			defer cleanup()
		}
		Run(log, name, fn)
	}()
}

// Run calls fn on the current goroutine and logs, instead of propagating, a panic.
// It reports whether fn panicked.
func Run(log zerolog.Logger, name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			log.Error().
				Str("goroutine", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")
		}
	}()
	fn()
	return false
}

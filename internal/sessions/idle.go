package sessions

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/recovery"
)

const DefaultGracePeriod = 5 * time.Minute

// IdleController keeps detached sessions alive for a grace period and
// expires the ones nobody comes back to.
type IdleController struct {
	gracePeriod time.Duration
	onExpire    func(s *Session) // Called once the session is EXITING
	log         zerolog.Logger
}

// NewIdleController creates an idle controller. onExpire must terminate the
// session's process and remove it from the registry.
func NewIdleController(grace time.Duration, onExpire func(s *Session), log zerolog.Logger) *IdleController {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &IdleController{
		gracePeriod: grace,
		onExpire:    onExpire,
		log:         log,
	}
}

// GracePeriod returns how long a detached session is kept.
func (c *IdleController) GracePeriod() time.Duration {
	return c.gracePeriod
}

// Detached handles the close of sock. If sock is still the session's socket
// the session becomes DETACHED and its idle timer starts. Closes of sockets
// that were already replaced are ignored and reported as false.
func (c *IdleController) Detached(s *Session, sock Socket) bool {
	return s.detach(sock, c.gracePeriod, func(gen uint64) {
		c.expire(s, gen)
	})
}

func (c *IdleController) expire(s *Session, gen uint64) {
	if !s.expireIdle(gen) {
		return
	}
	c.log.Info().
		Str("session", s.ID).
		Str("runspace", s.RunspaceID).
		Dur("grace", c.gracePeriod).
		Msg("detached session expired")
	if c.onExpire != nil {
		recovery.Run(c.log, "idle-expire", func() { c.onExpire(s) })
	}
}

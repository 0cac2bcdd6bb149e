package sessions

import (
	"context"
	"sort"
	"sync"

	"github.com/nxtg-forge/termbridge/internal/id"
	"github.com/nxtg-forge/termbridge/internal/protocol"
)

// Registry maps session ids to live sessions.
type Registry struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	scrollbackBytes int

	newID func() (string, error)
}

// NewRegistry creates an empty registry whose sessions keep up to
// scrollbackBytes of output.
func NewRegistry(scrollbackBytes int) *Registry {
	return &Registry{
		sessions:        make(map[string]*Session),
		scrollbackBytes: scrollbackBytes,
		newID:           id.New,
	}
}

// Get retrieves a live session by ID
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || !session.Live() {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// CreateOrAttach returns the live session sessionID of runspaceID, or a new
// SPAWNING session with a fresh id when sessionID is empty, unknown or no
// longer live. created reports which of the two happened. A session id
// that belongs to a different runspace is an error.
func (r *Registry) CreateOrAttach(runspaceID, sessionID string) (session *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" {
		if s, ok := r.sessions[sessionID]; ok && s.Live() {
			if s.RunspaceID != runspaceID {
				return nil, false, ErrRunspaceMismatch
			}
			return s, false, nil
		}
	}

	newID, err := r.newID()
	if err != nil {
		return nil, false, err
	}
	s := newSession(newID, runspaceID, r.scrollbackBytes)
	r.sessions[newID] = s
	return s, true, nil
}

// Remove deletes the session from the registry and marks it REMOVED. The
// process and the idle timer must have been dealt with by the caller.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		session.markRemoved()
	}
	return ok
}

// List returns all sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown closes every socket with 1001, kills every process and empties
// the registry. Sessions are torn down even if ctx is already done; the
// context error is returned in that case.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Terminate(protocol.CloseServerShutdown, "server shutdown")
		session.Kill()
		session.markRemoved()
	}
	return ctx.Err()
}

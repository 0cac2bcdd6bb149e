package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/audit"
	"github.com/nxtg-forge/termbridge/internal/auth"
	"github.com/nxtg-forge/termbridge/internal/bridge"
	"github.com/nxtg-forge/termbridge/internal/runspace"
	"github.com/nxtg-forge/termbridge/internal/sessions"
	"github.com/nxtg-forge/termbridge/internal/ws"
)

// EventStore is the read side of the audit log.
type EventStore interface {
	ForSession(ctx context.Context, sessionID string, limit int) ([]audit.Event, error)
}

type Server struct {
	manager  *bridge.Manager
	wsRouter *ws.Router
	auth     *auth.Middleware
	events   EventStore
	log      zerolog.Logger
}

// NewServer creates the HTTP surface. events may be nil when the audit log
// is disabled.
func NewServer(m *bridge.Manager, router *ws.Router, am *auth.Middleware, events EventStore, log zerolog.Logger) *Server {
	return &Server{
		manager:  m,
		wsRouter: router,
		auth:     am,
		events:   events,
		log:      log.With().Str("component", "http").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	// Health check
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireAuth)

		// Terminal WebSocket
		r.Get("/terminal", s.wsRouter.HandleTerminal)

		// Sessions
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionId}", s.handleGetSession)
		r.Delete("/sessions/{sessionId}", s.handleDeleteSession)
		r.Get("/sessions/{sessionId}/events", s.handleSessionEvents)

		// Runspaces
		r.Get("/runspaces", s.handleListRunspaces)
	})

	return r
}

// requestLogger logs completed requests. WebSocket requests are logged when
// the connection ends.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Registry().Len(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.manager.Registry().List()
	infos := make([]sessions.Info, 0, len(list))
	for _, session := range list {
		infos = append(infos, session.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.Registry().Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session.Info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Kill(r.Context(), chi.URLParam(r, "sessionId"))
	if errors.Is(err, sessions.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "audit log is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := s.events.ForSession(r.Context(), chi.URLParam(r, "sessionId"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleListRunspaces(w http.ResponseWriter, r *http.Request) {
	list := s.manager.Runspaces().List()
	if list == nil {
		list = []runspace.Runspace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runspaces": list})
}

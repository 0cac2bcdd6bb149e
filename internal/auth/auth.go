package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	token    string
	disabled bool
	log      zerolog.Logger
}

// NewMiddleware creates a middleware accepting token. With disabled set
// every request passes; otherwise an empty token rejects everything.
func NewMiddleware(token string, disabled bool, log zerolog.Logger) *Middleware {
	return &Middleware{
		token:    token,
		disabled: disabled,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// RequireAuth wraps an http.Handler and requires valid authentication
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.isAuthenticated(r) {
			m.log.Warn().
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("unauthorized request")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAuthenticated checks if the request has valid authentication
func (m *Middleware) isAuthenticated(r *http.Request) bool {
	if m.disabled {
		return true
	}
	// If no token is configured, reject all requests (fail secure)
	if m.token == "" {
		return false
	}

	// Check X-Internal-Token header first (for internal service-to-service calls)
	if token := r.Header.Get("X-Internal-Token"); token != "" {
		return m.matches(token)
	}

	// Check Authorization header (Bearer token)
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		// Must be "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return false
		}
		return m.matches(parts[1])
	}

	// Browsers cannot set headers on WebSocket handshakes, so upgrade
	// requests may carry the token as a query parameter instead.
	if isWebSocketUpgrade(r) {
		if token := r.URL.Query().Get("token"); token != "" {
			return m.matches(token)
		}
	}
	return false
}

func (m *Middleware) matches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// IsEnabled returns true if requests are checked
func (m *Middleware) IsEnabled() bool {
	return !m.disabled
}

package ws

import (
	"net/http"
	"strings"
)

// OriginPolicy decides which browser origins may open terminals.
// Entries are exact origins, "*" for any origin, or "scheme://host:*" for
// any port on a host. An empty policy rejects everything.
type OriginPolicy struct {
	allowed []string
}

// NewOriginPolicy builds a policy from configured entries.
func NewOriginPolicy(allowed []string) OriginPolicy {
	var p OriginPolicy
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a != "" {
			p.allowed = append(p.allowed, a)
		}
	}
	return p
}

// AllowsAny reports whether the policy is the "*" wildcard.
func (p OriginPolicy) AllowsAny() bool {
	for _, a := range p.allowed {
		if a == "*" {
			return true
		}
	}
	return false
}

// Check validates the Origin header of r.
func (p OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Browsers always send Origin on WebSocket requests. Other clients
		// are only accepted under the wildcard.
		return p.AllowsAny()
	}
	return p.Allows(origin)
}

// Allows reports whether origin matches an entry.
func (p OriginPolicy) Allows(origin string) bool {
	for _, a := range p.allowed {
		if a == origin || a == "*" {
			return true
		}
		// Wildcard port matching (e.g., "http://localhost:*")
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(origin, prefix) {
				remainder := strings.TrimPrefix(origin, prefix)
				if len(remainder) > 0 && isNumeric(remainder) {
					return true
				}
			}
		}
	}
	return false
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

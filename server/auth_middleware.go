package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-access-broker/sessions"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the sessions.Lookup of the authenticated caller
	ContextKeySession ContextKey = "session"
)

// RequireSession validates the session bearer from the auth-token cookie, or
// from an Authorization: Bearer header, and puts the lookup on the context.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			bearer := bearerFromRequest(r)
			if bearer == "" {
				writeJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
				return
			}

			lookup, err := s.deps.Auth.Authenticate(bearer)
			if err != nil {
				writeServiceError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, lookup)
			next(w, r.WithContext(ctx))
		}
	}
}

func sessionFromContext(ctx context.Context) (sessions.Lookup, bool) {
	lookup, ok := ctx.Value(ContextKeySession).(sessions.Lookup)
	return lookup, ok
}

func bearerFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

package server

import (
	"net/http"

	"github.com/jrsteele09/go-access-broker/sessions"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	Email         string `json:"email"`
	LoggedIn      bool   `json:"loggedIn,omitempty"`
	CreatedAt     int64  `json:"created_at,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	Reconstructed bool   `json:"reconstructed,omitempty"`
}

type userEnvelope struct {
	Success bool         `json:"success"`
	User    userResponse `json:"user"`
}

// Login validates the credentials, sets the session cookie and starts warming
// the non production tokens.
func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}

		result, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		http.SetCookie(w, s.sessionCookie(result.Bearer, int(s.config.GetSessionDuration().Seconds())))
		writeJSON(w, http.StatusOK, userEnvelope{
			Success: true,
			User:    userResponse{Email: result.Session.Email},
		})
	}
}

// Logout always succeeds, whether or not the caller had a session.
func (s *Server) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearer := bearerFromRequest(r); bearer != "" {
			s.deps.Auth.Logout(r.Context(), bearer)
		}
		http.SetCookie(w, s.sessionCookie("", -1))
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookup, ok := sessionFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
			return
		}

		writeJSON(w, http.StatusOK, userEnvelope{
			Success: true,
			User: userResponse{
				Email:         lookup.Session.Email,
				LoggedIn:      true,
				CreatedAt:     lookup.Session.CreatedAt.UnixMilli(),
				ExpiresAt:     lookup.Session.ExpiresAt.UnixMilli(),
				Reconstructed: lookup.Status == sessions.Reconstructed,
			},
		})
	}
}

// sessionCookie builds the auth-token cookie; maxAge < 0 deletes it.
func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
}

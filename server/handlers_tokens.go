package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-access-broker/accessurl"
	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/jrsteele09/go-access-broker/tokencache"
)

type generateURLRequest struct {
	StudentCode string `json:"studentCode"`
	Environment string `json:"environment"`
	Password    string `json:"password,omitempty"`
}

type generateURLResponse struct {
	Success          bool   `json:"success"`
	URL              string `json:"url"`
	FromCache        bool   `json:"from_cache"`
	MinutesRemaining int    `json:"minutes_remaining"`
	Environment      string `json:"environment"`
}

type refreshRequest struct {
	Environment string `json:"environment"`
}

type refreshResponse struct {
	Success          bool   `json:"success"`
	Status           string `json:"status"`
	MinutesRemaining int    `json:"minutes_remaining"`
	Environment      string `json:"environment"`
}

type statusResponse struct {
	Success bool              `json:"success"`
	Tokens  tokencache.Status `json:"tokens"`
}

type statsResponse struct {
	Success bool `json:"success"`
	tokencache.Stats
}

// GenerateURL mints (or reuses) a token for the requested environment and
// returns the student access URL built from it.
func (s *Server) GenerateURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookup, ok := sessionFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
			return
		}

		var req generateURLRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		req.StudentCode = strings.TrimSpace(req.StudentCode)
		if req.StudentCode == "" || req.Environment == "" {
			writeJSONError(w, "invalid_request", "studentCode and environment are required", http.StatusBadRequest)
			return
		}
		if !accessurl.ValidStudentCode(req.StudentCode) {
			writeJSONError(w, "invalid_request", "studentCode must be numeric", http.StatusBadRequest)
			return
		}
		env, err := environment.Parse(req.Environment)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		password, err := s.deps.Auth.ResolvePassword(lookup, env, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		email := lookup.Session.Email
		result, err := s.deps.Broker.GetOrGenerate(r.Context(), email, password, env)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		url, err := s.deps.URLs.Build(env, result.AccessToken, result.RefreshToken, req.StudentCode)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		s.logger.Info().
			Bool("audit", true).
			Str("email", email).
			Str("student_code", req.StudentCode).
			Str("environment", env.Label()).
			Bool("from_cache", result.FromCache).
			Int("minutes_remaining", result.MinutesRemaining).
			Msg("access url generated")

		writeJSON(w, http.StatusOK, generateURLResponse{
			Success:          true,
			URL:              url,
			FromCache:        result.FromCache,
			MinutesRemaining: result.MinutesRemaining,
			Environment:      env.String(),
		})
	}
}

// RefreshToken redeems the cached refresh token for an environment.
func (s *Server) RefreshToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookup, ok := sessionFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
			return
		}

		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		env, err := environment.Parse(req.Environment)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		result, err := s.deps.Broker.RefreshCached(r.Context(), lookup.Session.Email, env)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, refreshResponse{
			Success:          true,
			Status:           string(result.Status),
			MinutesRemaining: result.MinutesRemaining,
			Environment:      env.String(),
		})
	}
}

func (s *Server) TokenStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookup, ok := sessionFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "authentication required", http.StatusUnauthorized)
			return
		}

		status, err := s.deps.Tokens.Status(r.Context(), lookup.Session.Email)
		if err != nil {
			writeServiceError(w, errors.Wrapf(err, "failed to read token status"))
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Success: true, Tokens: status})
	}
}

// TokenStats is only routed in DEV.
func (s *Server) TokenStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.deps.Tokens.Stats(r.Context())
		if err != nil {
			writeServiceError(w, errors.Wrapf(err, "failed to read cache statistics"))
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
	}
}

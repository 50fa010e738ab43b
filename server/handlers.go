package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jrsteele09/go-access-broker/idp"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.Wrapf(errors.ErrInvalidRequest, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes {success:false, error, error_description}
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]any{
		"success":           false,
		"error":             errorCode,
		"error_description": description,
	})
}

// writeServiceError maps an error from the service layer onto a status code.
// Unexpected errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, err error) {
	var upstream *idp.UpstreamError
	switch {
	case errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrInvalidEnvironment):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, errors.ErrCredentialsRequired):
		writeJSONError(w, "credentials_required", err.Error(), http.StatusBadRequest)
	case errors.Is(err, errors.ErrInvalidCredentials):
		writeJSONError(w, "invalid_credentials", err.Error(), http.StatusUnauthorized)
	case errors.IsSessionFailure(err):
		writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
	case errors.Is(err, errors.ErrNotFound):
		writeJSONError(w, "not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, errors.ErrQueryTimeout):
		writeJSONError(w, "query_timeout", err.Error(), http.StatusGatewayTimeout)
	case errors.As(err, &upstream) && upstream.StatusCode >= 400 && upstream.StatusCode < 500:
		// the provider refused the grant, usually a wrong password
		writeJSONError(w, "invalid_credentials", upstream.Error(), http.StatusUnauthorized)
	case errors.Is(err, errors.ErrUpstreamAuth), errors.Is(err, errors.ErrQueryFailed):
		writeJSONError(w, "upstream_error", err.Error(), http.StatusBadGateway)
	default:
		log.Error().Err(err).Msg("unhandled service error")
		writeJSONError(w, "internal_error", "internal server error", http.StatusInternalServerError)
	}
}

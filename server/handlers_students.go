package server

import (
	"net/http"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/softlaunch"
	"github.com/jrsteele09/go-access-broker/warehouse"
)

type searchRequest struct {
	warehouse.StudentSearch
	// Workspace to query, prod when empty
	Environment string `json:"environment,omitempty"`
}

type searchResponse struct {
	Success     bool                `json:"success"`
	Students    []warehouse.Student `json:"students"`
	Total       int                 `json:"total"`
	SearchTerm  string              `json:"searchTerm,omitempty"`
	StudentCode string              `json:"studentCode,omitempty"`
}

type blockStatusResponse struct {
	Success bool `json:"success"`
	softlaunch.BlockStatus
}

type releaseResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	AffectedRows int64  `json:"affectedRows"`
}

func (s *Server) SearchStudents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		if req.Empty() {
			writeJSONError(w, "invalid_request", "a search term or student code is required", http.StatusBadRequest)
			return
		}

		env := environment.Prod
		if req.Environment != "" {
			parsed, err := environment.Parse(req.Environment)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			env = parsed
		}

		students, err := s.deps.Warehouse.SearchStudents(r.Context(), s.config.GetWorkspace(env), req.StudentSearch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if students == nil {
			students = []warehouse.Student{}
		}

		writeJSON(w, http.StatusOK, searchResponse{
			Success:     true,
			Students:    students,
			Total:       len(students),
			SearchTerm:  req.SearchTerm,
			StudentCode: req.StudentCode,
		})
	}
}

func (s *Server) BlockStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := s.decodeKey(w, r)
		if !ok {
			return
		}

		status, err := s.deps.SoftLaunch.BlockStatus(r.Context(), key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, blockStatusResponse{Success: true, BlockStatus: status})
	}
}

// ReleaseStudent opens a soft launch window for the student starting today.
func (s *Server) ReleaseStudent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := s.decodeKey(w, r)
		if !ok {
			return
		}

		rows, err := s.deps.SoftLaunch.Release(r.Context(), key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		s.auditKey(r, key, "student released", rows)
		writeJSON(w, http.StatusOK, releaseResponse{Success: true, Message: "student released", AffectedRows: rows})
	}
}

// UnlockStudent ends the student's soft launch window today.
func (s *Server) UnlockStudent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := s.decodeKey(w, r)
		if !ok {
			return
		}

		rows, err := s.deps.SoftLaunch.Block(r.Context(), key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		s.auditKey(r, key, "student release ended", rows)
		writeJSON(w, http.StatusOK, releaseResponse{Success: true, Message: "student release ended", AffectedRows: rows})
	}
}

func (s *Server) decodeKey(w http.ResponseWriter, r *http.Request) (softlaunch.Key, bool) {
	var key softlaunch.Key
	if err := decodeJSON(r, &key); err != nil {
		writeServiceError(w, err)
		return key, false
	}
	if err := key.Validate(); err != nil {
		writeServiceError(w, err)
		return key, false
	}
	return key, true
}

func (s *Server) auditKey(r *http.Request, key softlaunch.Key, msg string, rows int64) {
	lookup, _ := sessionFromContext(r.Context())
	s.logger.Info().
		Bool("audit", true).
		Str("email", lookup.Session.Email).
		Int64("course", key.CourseCode).
		Int64("persona", key.PersonaID).
		Int64("campus", key.CampusCode).
		Int64("period", key.PeriodCode).
		Int64("affected_rows", rows).
		Msg(msg)
}

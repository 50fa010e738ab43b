package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// SESSION
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.Login(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.Logout(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthMe, ChainMiddleware(s.Me(), s.APIMiddleware(s.RequireSession())...))

	// TOKENS
	s.RegisterRouteHandler("POST "+RouteTokensGenerateURL, ChainMiddleware(s.GenerateURL(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteTokensRefresh, ChainMiddleware(s.RefreshToken(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteTokensStatus, ChainMiddleware(s.TokenStatus(), s.APIMiddleware(s.RequireSession())...))
	if s.env == "DEV" {
		s.RegisterRouteHandler("GET "+RouteTokensStats, ChainMiddleware(s.TokenStats(), s.APIMiddleware()...))
	}

	// STUDENTS
	s.RegisterRouteHandler("POST "+RouteStudentsSearch, ChainMiddleware(s.SearchStudents(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteStudentsBlockStatus, ChainMiddleware(s.BlockStatus(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteStudentsRelease, ChainMiddleware(s.ReleaseStudent(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteStudentsUnlock, ChainMiddleware(s.UnlockStudent(), s.APIMiddleware(s.RequireSession())...))

	// Catch-all for the API: CORS answers preflights before notFound runs
	s.RegisterRouteHandler(RouteAPIPrefix, ChainMiddleware(s.notFound(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.Health())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) notFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "not_found", "no such route", http.StatusNotFound)
	}
}

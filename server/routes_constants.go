package server

// Route path constants
const (
	// Session
	RouteAuthLogin  = "/api/auth/login"
	RouteAuthLogout = "/api/auth/logout"
	RouteAuthMe     = "/api/auth/me"

	// Downstream tokens
	RouteTokensGenerateURL = "/api/tokens/generate-url"
	RouteTokensRefresh     = "/api/tokens/refresh"
	RouteTokensStatus      = "/api/tokens/status"
	RouteTokensStats       = "/api/tokens/stats"

	// Students
	RouteStudentsSearch      = "/api/students/search"
	RouteStudentsBlockStatus = "/api/students/block-status"
	RouteStudentsRelease     = "/api/students/liberar"
	RouteStudentsUnlock      = "/api/students/unlock"

	// Preflights and unknown API paths
	RouteAPIPrefix = "/api/"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)

const sessionCookieName = "auth-token"

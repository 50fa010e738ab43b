package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-access-broker/accessurl"
	"github.com/jrsteele09/go-access-broker/auth"
	"github.com/jrsteele09/go-access-broker/broker"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/softlaunch"
	"github.com/jrsteele09/go-access-broker/tokencache"
	"github.com/jrsteele09/go-access-broker/warehouse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dependencies are the services the HTTP API is a thin layer over.
type Dependencies struct {
	Auth       *auth.AuthenticationService
	Broker     *broker.Broker
	Tokens     *tokencache.Cache
	URLs       *accessurl.Builder
	Warehouse  *warehouse.Client
	SoftLaunch softlaunch.Store
	Gatherer   prometheus.Gatherer
}

type Server struct {
	env    string // DEV, HML, PROD...
	mux    *http.ServeMux
	routes []string
	config config.Config
	deps   Dependencies
	logger zerolog.Logger
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func New(config config.Config, deps Dependencies, opts ...Option) (*Server, error) {
	switch {
	case deps.Auth == nil:
		return nil, fmt.Errorf("[Server New] authentication service is required")
	case deps.Broker == nil, deps.Tokens == nil:
		return nil, fmt.Errorf("[Server New] token broker and cache are required")
	case deps.URLs == nil:
		return nil, fmt.Errorf("[Server New] access url builder is required")
	case deps.Warehouse == nil, deps.SoftLaunch == nil:
		return nil, fmt.Errorf("[Server New] warehouse client and soft launch store are required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		mux:    http.NewServeMux(),
		config: config,
		deps:   deps,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Info().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}

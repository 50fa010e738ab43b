package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-access-broker/accessurl"
	"github.com/jrsteele09/go-access-broker/auth"
	"github.com/jrsteele09/go-access-broker/broker"
	"github.com/jrsteele09/go-access-broker/idp"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/server"
	"github.com/jrsteele09/go-access-broker/sessions"
	"github.com/jrsteele09/go-access-broker/softlaunch"
	"github.com/jrsteele09/go-access-broker/token"
	"github.com/jrsteele09/go-access-broker/tokencache"
	"github.com/jrsteele09/go-access-broker/warehouse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c := config.New()
	setupLogging(c)
	if err := config.Validate(c); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	displayAppname(c.GetAppName())

	for {
		if err := run(c); err != nil {
			log.Error().Err(err).Msg("Error running server, restarting")
			time.Sleep(1 * time.Second)
			continue
		}
		break
	}
	log.Info().Msg("Server stopped")
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := buildServer(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	return shutdown(srv)
}

// buildServer wires the services together. The returned cleanup releases
// the Redis and Postgres connections; on error they are already released.
func buildServer(ctx context.Context, c config.Config) (*server.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tokenURL := c.GetTokenURL()
	if issuer := c.GetIssuer(); issuer != "" {
		discovered, err := idp.Discover(ctx, issuer)
		if err != nil {
			return nil, nil, fmt.Errorf("idp.Discover: %w", err)
		}
		tokenURL = discovered
	}
	idpClient := idp.New(tokenURL)
	log.Info().Str("token_url", tokenURL).Msg("identity provider configured")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var tokenRepo tokencache.Repo = tokencache.NewInMemoryRepo()
	if redisURL := c.GetRedisURL(); redisURL != "" {
		client, err := tokencache.NewRedisClient(ctx, redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("tokencache.NewRedisClient: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		tokenRepo = tokencache.NewRedisRepo(client, 0)
		log.Info().Msg("token cache backed by redis")
	}
	cache := tokencache.New(tokenRepo)

	b := broker.New(cache, idpClient, c,
		broker.WithMetrics(broker.NewMetrics(registry)),
		broker.WithWarmTimeout(c.GetWarmTimeout()),
	)

	if c.GetBearerTTL() < c.GetSessionDuration() {
		log.Warn().
			Dur("bearer_ttl", c.GetBearerTTL()).
			Dur("session_duration", c.GetSessionDuration()).
			Msg("bearer tokens expire before sessions do")
	}
	store := sessions.NewStore(sessions.NewInMemoryRepo(), token.NewHMACSigner(c.GetSessionSecret()),
		sessions.WithBearerTTL(c.GetBearerTTL()),
		sessions.WithCleanupInterval(c.GetSessionCleanupInterval()),
	)

	authService := auth.NewAuthenticationService(auth.Services{
		Sessions:    store,
		Tokens:      cache,
		Credentials: idpClient,
		Warmer:      b,
	}, auth.Settings{
		EncryptionKey:    c.GetEncryptionKey(),
		SessionDuration:  c.GetSessionDuration(),
		LoginApplication: c.GetLoginApplication(),
	})

	var releases softlaunch.Store
	if dsn := c.GetSoftLaunchDSN(); dsn != "" {
		pool, err := softlaunch.NewPool(ctx, dsn, c.GetSoftLaunchMaxConns())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("softlaunch.NewPool: %w", err)
		}
		closers = append(closers, pool.Close)
		releases = softlaunch.NewPostgresStore(pool, c.GetReleaseLength(), time.Now)
	} else {
		log.Warn().Msg("DB_SOFT_HOST not set, soft launch releases are kept in memory")
		releases = softlaunch.NewInMemoryStore(c.GetReleaseLength(), time.Now)
	}

	srv, err := server.New(c, server.Dependencies{
		Auth:       authService,
		Broker:     b,
		Tokens:     cache,
		URLs:       accessurl.NewBuilder(c),
		Warehouse:  warehouse.NewClient(warehouse.WithPolling(c.GetQueryPollInterval(), c.GetQueryTimeout())),
		SoftLaunch: releases,
		Gatherer:   registry,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("server.New: %w", err)
	}
	return srv, cleanup, nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

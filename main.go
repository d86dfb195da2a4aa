package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/jamestelfer/bearer-gate/internal/audit"
	"github.com/jamestelfer/bearer-gate/internal/config"
	"github.com/jamestelfer/bearer-gate/internal/gate"
	"github.com/jamestelfer/bearer-gate/internal/jwt"
	"github.com/jamestelfer/bearer-gate/internal/keyset"
	"github.com/jamestelfer/bearer-gate/internal/observe"
	"github.com/jamestelfer/bearer-gate/internal/whitelist"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// Names of the gates configured for authorized routes. Later stages read the
// results of earlier ones by these names.
const (
	gateTrust    = "trust"
	gateVerified = "verified"
)

func configureServerRoutes(cfg config.Config, trustList whitelist.Provider, keys jwt.KeyResolver) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	errorHandler := gate.WithErrorHandler(gate.LogErrorHandler(nil))

	trustGate := gate.Middleware(gateTrust, jwt.TrustCheck{}, map[string]any{
		gate.OptionDocsURL: cfg.Authorization.DocsURL,
	}, errorHandler)

	verifier := jwt.NewVerifier(keys, jwt.WithLeeway(cfg.Authorization.ClockSkew()))
	verifiedGate := gate.Middleware(gateVerified, verifier, map[string]any{
		jwt.OptionAudience:    cfg.Authorization.Audience,
		jwt.OptionIssuer:      cfg.Authorization.Issuer,
		jwt.OptionTrustResult: gateTrust,
		gate.OptionDocsURL:    cfg.Authorization.DocsURL,
	}, errorHandler)

	authorizedRouteMiddleware := alice.New(
		requestLimiter,
		auditor,
		whitelist.Middleware(trustList),
		trustGate,
		verifiedGate,
	)

	mux.Handle("POST /cds-services/{id}", authorizedRouteMiddleware.Then(handlePostService()))
	mux.Handle("GET /validated", authorizedRouteMiddleware.Then(handleGetValidated()))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", handleHealthCheck())

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// wrap the default HTTP client used for key set fetches with telemetry
	http.DefaultTransport = observe.HttpTransport(
		configureHttpTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	trustList, err := whitelist.Load(ctx, cfg.Authorization.WhitelistPath)
	if err != nil {
		return fmt.Errorf("whitelist configuration failed: %w", err)
	}

	if err := trustList.Watch(ctx); err != nil {
		return fmt.Errorf("whitelist watch failed: %w", err)
	}

	keys, err := keyset.New(
		keyset.WithTTL(cfg.Authorization.KeySetCacheTTL()),
		keyset.WithFetchTimeout(cfg.Authorization.KeySetFetchTimeout()),
	)
	if err != nil {
		return fmt.Errorf("key set resolver configuration failed: %w", err)
	}

	// setup routing and dependencies
	handler := configureServerRoutes(cfg, trustList, keys)

	// start the server
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        handler,
		MaxHeaderBytes: 20 << 10, // 20 KB
	}

	server.RegisterOnShutdown(func() {
		cancel()
		keys.Close()
	})

	err = serveHTTP(cfg.Server, cfg.Observe, server)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHttpTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHttpMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHttpMaxConnsPerHost

	return transport
}

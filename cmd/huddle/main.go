package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/authz"
	"github.com/huddlehq/huddle/pkg/config"
	"github.com/huddlehq/huddle/pkg/httputil"
	"github.com/huddlehq/huddle/pkg/middleware"
	"github.com/huddlehq/huddle/pkg/observability"
	"github.com/huddlehq/huddle/pkg/storage"
	"github.com/huddlehq/huddle/pkg/teams"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "huddle: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	conns, err := storage.OpenPostgres(cfg.Storage, logger)
	if err != nil {
		return err
	}

	if err := authz.RunMigrations(ctx, conns.Primary()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied")

	redisClient, err := storage.NewRedisClient(cfg.Storage)
	if err != nil {
		return err
	}
	if redisClient == nil {
		logger.Warn("redis not configured; rate limiting is per-process only")
	}

	auditStore, err := audit.NewStore(conns.Primary(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit store: %w", err)
	}

	seeds, err := config.LoadRoleSeeds(cfg.Server.RoleSeedsPath)
	if err != nil {
		return err
	}
	if seeds != nil {
		logger.WithField("roles", len(seeds)).Info("using role seeds from file")
	}

	store := authz.NewStore(conns.Primary())
	roleService := authz.NewRoleService(store, logger, auditStore)
	memberService := authz.NewMemberService(store, logger, auditStore)
	evaluator := authz.NewEvaluator(store, logger)
	teamService := teams.NewService(store, seeds, logger, auditStore)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	verifier := newTokenVerifier(cfg.Auth, store, logger)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(httputil.RequestIDMiddleware)
	api.Use(httputil.LoggingMiddleware)
	api.Use(httputil.RecoveryMiddleware)
	api.Use(observability.HTTPMetricsMiddleware(metrics))
	api.Use(middleware.NewAuthMiddleware(verifier, true).Handler)
	if redisClient != nil {
		api.Use(middleware.NewDistributedRateLimitMiddleware(redisClient, metrics).Handler)
	} else {
		api.Use(middleware.NewRateLimitMiddleware().Handler)
	}

	teams.NewHandlers(teamService, evaluator, logger, auditStore).RegisterRoutes(api)
	authz.NewHandlers(roleService, memberService, evaluator, logger, auditStore).RegisterRoutes(api)

	var apiHandler http.Handler = router
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(router, "huddle-api")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(conns.Primary(), redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return conns.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	if tracerProvider != nil {
		shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
			return observability.ShutdownTracing(shutdownCtx, tracerProvider, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.UpdateDBStats(conns.Stats().Primary)
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		err := shutdown.WaitForShutdown()
		// Release the stats loop once the servers are drained.
		cancel()
		return err
	})

	return g.Wait()
}

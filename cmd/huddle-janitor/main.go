package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/authz"
	"github.com/huddlehq/huddle/pkg/observability"
	"github.com/huddlehq/huddle/pkg/storage"
)

var (
	dbURL          = flag.String("db-url", getEnv("HUDDLE_POSTGRES_URL", "postgres://localhost/huddle?sslmode=disable"), "PostgreSQL connection URL")
	inviteSchedule = flag.String("invite-schedule", getEnv("HUDDLE_INVITATION_SWEEP_SCHEDULE", "@every 1h"), "Cron schedule for expiring stale invitations")
	pruneSchedule  = flag.String("prune-schedule", getEnv("HUDDLE_AUDIT_PRUNE_SCHEDULE", "@daily"), "Cron schedule for pruning old audit rows")
	auditRetention = flag.Duration("audit-retention", getEnvDuration("HUDDLE_AUDIT_RETENTION", 90*24*time.Hour), "How long audit rows are kept")
	logLevel       = flag.String("log-level", getEnv("HUDDLE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	runOnce        = flag.Bool("run-once", false, "Run both sweeps once and exit")
)

func main() {
	flag.Parse()

	logger := observability.NewLogger(observability.ParseLogLevel(*logLevel), nil)

	cfg := storage.DefaultConfig()
	cfg.PostgresURL = *dbURL
	conns, err := storage.OpenPostgres(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer conns.Close()

	auditStore, err := audit.NewStore(conns.Primary(), logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit store")
		os.Exit(1)
	}

	store := authz.NewStore(conns.Primary())
	members := authz.NewMemberService(store, logger, auditStore)

	sweepInvitations := func(ctx context.Context) {
		expired, err := members.ExpireStaleInvitations(ctx)
		if err != nil {
			logger.WithError(err).Error("invitation sweep failed")
			return
		}
		if expired > 0 {
			logger.WithField("expired", expired).Info("expired stale invitations")
		}
	}
	pruneAudit := func(ctx context.Context) {
		pruned, err := auditStore.Prune(ctx, *auditRetention)
		if err != nil {
			logger.WithError(err).Error("audit prune failed")
			return
		}
		if pruned > 0 {
			logger.WithField("pruned", pruned).Info("pruned old audit rows")
		}
	}

	if *runOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		sweepInvitations(ctx)
		pruneAudit(ctx)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*inviteSchedule, func() { sweepInvitations(context.Background()) }); err != nil {
		logger.WithError(err).Errorf("invalid invitation sweep schedule %q", *inviteSchedule)
		os.Exit(1)
	}
	if _, err := c.AddFunc(*pruneSchedule, func() { pruneAudit(context.Background()) }); err != nil {
		logger.WithError(err).Errorf("invalid audit prune schedule %q", *pruneSchedule)
		os.Exit(1)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"invite_schedule": *inviteSchedule,
		"prune_schedule":  *pruneSchedule,
		"retention":       auditRetention.String(),
	}).Info("janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-c.Stop().Done()
	logger.Info("janitor stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

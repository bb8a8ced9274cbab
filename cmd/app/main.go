// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-payment-sync/internal/application"
	"course-payment-sync/internal/config"
	"course-payment-sync/internal/infra/api"
	pg "course-payment-sync/internal/infra/db/postgres"
	"course-payment-sync/internal/infra/logging"
	"course-payment-sync/internal/infra/metrics"
	"course-payment-sync/internal/infra/scheduler"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	noCron := flag.Bool("no-scheduler", false, "serve HTTP only, skip the scheduled reconciliation")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		logging.New(config.LogConfig{}, true).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Stores + use cases ----
	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}
	defer c.Close()
	go pg.ReportPoolStats(ctx, c.Pool, 15*time.Second, logger)

	// ---- Scheduler ----
	var sch *scheduler.Scheduler
	if !*noCron {
		sch, err = scheduler.NewScheduler(scheduler.Options{
			Spec:       cfg.Reconcile.Cron,
			Validate:   cfg.Reconcile.Validate,
			RunTimeout: cfg.Reconcile.LockTTL,
		}, c.Reconciler, c.Validator, c.Reports, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler")
		}
		if err := sch.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("scheduler")
		}
	}

	// ---- HTTP ----
	deps := api.Deps{
		DB:            c.Pool,
		Notifications: c.Notifier,
		Reconciler:    c.Reconciler,
		Validator:     c.Validator,
		Environment:   cfg.App.Environment,
		Timeout:       cfg.Server.RequestTimeout,
		AdminTimeout:  cfg.Reconcile.LockTTL,
	}
	if cfg.Admin.JWTSecret != "" {
		deps.Auth = api.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	} else {
		logger.Warn().Msg("admin.jwt_secret not set; admin routes disabled")
	}
	if c.Limiter != nil {
		deps.Limiter = c.Limiter
	}
	srv := api.NewServer(deps, logger)
	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	if sch != nil {
		sch.Stop()
	}
}

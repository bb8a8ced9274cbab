package application

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"course-payment-sync/internal/config"
	"course-payment-sync/internal/domain/ports/adapter"
	pg "course-payment-sync/internal/infra/db/postgres"
	"course-payment-sync/internal/infra/payment"
	red "course-payment-sync/internal/infra/redis"
	"course-payment-sync/internal/infra/report"
	"course-payment-sync/internal/usecase"
)

// Container holds the wired stores and use cases shared by the server and the CLI.
type Container struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Redis  *red.Client // nil when redis.url is empty

	Locker     adapter.Locker
	Limiter    *red.RateLimiter
	Notifier   usecase.NotificationUseCase
	Reconciler usecase.ReconcileUseCase
	Validator  usecase.ValidateUseCase
	Reports    *report.Writer
	Thresholds usecase.Thresholds

	log *zerolog.Logger
}

// Thresholds converts the alert section into validator thresholds.
func Thresholds(a config.AlertConfig) usecase.Thresholds {
	return usecase.Thresholds{
		MaxMissingCourses:   a.MaxMissingCourses,
		MaxInconsistencies:  a.MaxInconsistencies,
		MaxOrphanedPayments: a.MaxOrphanedPayments,
		MaxUsersAffected:    a.MaxUsersAffected,
	}
}

// Build connects to Postgres and, when configured, Redis, and wires the use cases.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	c := &Container{Config: cfg, Pool: pool, log: logger}

	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.Redis = rc
		c.Locker = red.NewLocker(rc)
		c.Limiter = red.NewRateLimiter(rc)
	} else {
		logger.Warn().Msg("redis not configured: batch runs are not serialized across processes")
	}

	payments := pg.NewPaymentRepo(pool, cfg.Database.PaymentsTable)
	users := pg.NewUserRepo(pool, cfg.Database.UsersTable)
	opts := usecase.EngineOptions{Concurrency: cfg.Reconcile.Concurrency, LockTTL: cfg.Reconcile.LockTTL}
	c.Thresholds = Thresholds(cfg.Alerts)

	c.Notifier = usecase.NewNotificationUseCase(payments, users, payment.NewVerifier(cfg.Gateway.ServerKey), cfg.Gateway.OrderPrefixes, logger)
	c.Reconciler = usecase.NewReconciler(payments, users, c.Locker, opts, logger)
	c.Validator = usecase.NewValidator(payments, users, c.Locker, opts, c.Thresholds, logger)
	c.Reports = report.NewWriter(cfg.Reconcile.ReportDir)
	return c, nil
}

func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close redis")
		}
	}
	c.Pool.Close()
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/infra/report"
	"course-payment-sync/internal/usecase"
)

// ReportWriter persists a finished run.
type ReportWriter interface {
	Write(kind string, body any) (string, error)
}

type Options struct {
	// Spec is a standard five-field cron expression.
	Spec string
	// Validate runs a report-only validation after each sync.
	Validate bool
	// RunTimeout bounds a single run. Zero means no bound.
	RunTimeout time.Duration
}

// Scheduler runs the batch reconciliation on a cron schedule in-process.
type Scheduler struct {
	opts      Options
	reconcile usecase.ReconcileUseCase
	validate  usecase.ValidateUseCase
	reports   ReportWriter
	log       *zerolog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler validates the cron expression up front. validate may be nil.
func NewScheduler(opts Options, rec usecase.ReconcileUseCase, val usecase.ValidateUseCase, reports ReportWriter, logger *zerolog.Logger) (*Scheduler, error) {
	if opts.Spec == "" {
		opts.Spec = "0 */6 * * *"
	}
	if _, err := cron.ParseStandard(opts.Spec); err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", domain.ErrInvalidArgument, opts.Spec, err)
	}
	return &Scheduler{opts: opts, reconcile: rec, validate: val, reports: reports, log: logger}, nil
}

// Start registers the job and starts the cron loop. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) error {
	if s.cron != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(parentCtx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.opts.Spec, func() { s.RunOnce(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	s.cron = c
	c.Start()
	s.log.Info().Str("schedule", s.opts.Spec).Bool("validate", s.opts.Validate).Msg("scheduler started")
	return nil
}

// Stop cancels in-flight runs and waits for them to return. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info().Msg("scheduler stopped")
}

// RunOnce performs one scheduled sync and, when enabled, a report-only validation.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	sum, err := s.reconcile.ReconcileAll(ctx)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		s.log.Info().Msg("scheduled sync skipped: another run holds the lock")
		return
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled sync failed")
		return
	}
	s.persist(report.KindSync, sum)

	if !s.opts.Validate || s.validate == nil {
		return
	}
	rep, err := s.validate.Validate(ctx, false)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled validation failed")
		return
	}
	s.persist(report.KindValidation, rep)
}

func (s *Scheduler) persist(kind string, body any) {
	if s.reports == nil {
		return
	}
	path, err := s.reports.Write(kind, body)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("write report")
		return
	}
	s.log.Info().Str("kind", kind).Str("path", path).Msg("report written")
}

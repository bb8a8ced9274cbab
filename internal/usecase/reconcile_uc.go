package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/adapter"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/logging"
	"course-payment-sync/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*Reconciler)(nil)

type ReconcileUseCase interface {
	// ReconcileUser never returns an error: failures are carried in the result.
	ReconcileUser(ctx context.Context, userID string) UserResult
	// ReconcileAll fails only when the candidate users cannot be enumerated
	// or another run holds the lock.
	ReconcileAll(ctx context.Context) (*SyncSummary, error)
}

// UserResult is the outcome of reconciling one user.
type UserResult struct {
	UserID               string   `json:"userId"`
	Updated              bool     `json:"updated"`
	CoursesAdded         int      `json:"coursesAdded"`
	InconsistenciesFixed int      `json:"inconsistenciesFixed"`
	Unexplained          []string `json:"unexplained,omitempty"`
	Error                string   `json:"error,omitempty"`
}

func (r UserResult) Failed() bool { return r.Error != "" }

type UserFailure struct {
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// SyncSummary aggregates a ReconcileAll run.
type SyncSummary struct {
	StartedAt       time.Time     `json:"startedAt"`
	FinishedAt      time.Time     `json:"finishedAt"`
	TotalCandidates int           `json:"totalCandidates"`
	Updated         int           `json:"updated"`
	Unchanged       int           `json:"unchanged"`
	Failed          int           `json:"failed"`
	CoursesAdded    int           `json:"coursesAdded"`
	Inconsistencies int           `json:"inconsistenciesFixed"`
	Failures        []UserFailure `json:"failures"`
	Results         []UserResult  `json:"results"`
}

// Reconciler repairs user projections from the ledger.
type Reconciler struct {
	engine
}

func NewReconciler(payments repository.PaymentRepository, users repository.UserRepository, locker adapter.Locker, opts EngineOptions, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{engine: newEngine(payments, users, locker, opts, logger)}
}

func (r *Reconciler) ReconcileUser(ctx context.Context, userID string) UserResult {
	ctx = logging.WithUserID(ctx, userID)
	log := logging.With(ctx, r.log)

	res := UserResult{UserID: userID}
	records, err := r.payments.ListByUser(ctx, userID)
	if err != nil {
		res.Error = fmt.Sprintf("load payments: %v", err)
		log.Error().Err(err).Msg("reconcile: ledger read failed")
		metrics.IncReconcileUser("failed")
		return res
	}
	in, err := r.inspect(ctx, userID, records)
	if err != nil {
		res.Error = err.Error()
		log.Warn().Err(err).Msg("reconcile: user skipped")
		metrics.IncReconcileUser("failed")
		return res
	}
	res.Unexplained = in.drift.MissingInLedger
	if len(res.Unexplained) > 0 {
		log.Warn().Strs("courses", res.Unexplained).Msg("reconcile: active grants without ledger backing left untouched")
	}

	if !in.drift.Repairable() {
		metrics.IncReconcileUser("unchanged")
		return res
	}
	if err := r.repair(ctx, in); err != nil {
		res.Error = err.Error()
		log.Error().Err(err).Msg("reconcile: projection write failed")
		metrics.IncReconcileUser("failed")
		return res
	}
	res.Updated = true
	res.CoursesAdded = len(in.drift.MissingInProjection)
	res.InconsistenciesFixed = len(in.drift.Inconsistent)
	log.Info().
		Int("courses_added", res.CoursesAdded).
		Int("inconsistencies_fixed", res.InconsistenciesFixed).
		Msg("reconcile: projection repaired")
	metrics.IncReconcileUser("updated")
	return res
}

func (r *Reconciler) ReconcileAll(ctx context.Context) (*SyncSummary, error) {
	defer logging.TraceDuration(r.log, "Reconciler.ReconcileAll")()
	start := time.Now()

	release, err := r.acquire(ctx, "sync")
	if err != nil {
		metrics.ObserveRun("sync", "skipped", time.Since(start))
		return nil, err
	}
	defer release()

	records, err := r.payments.Scan(ctx, model.PaymentFilter{Status: model.PaymentStatusSuccess})
	if err != nil {
		metrics.ObserveRun("sync", "fatal", time.Since(start))
		return nil, fmt.Errorf("enumerate candidate users: %w", err)
	}
	candidates := distinctUserIDs(records)
	r.log.Info().Int("candidates", len(candidates)).Int("concurrency", r.concurrency).Msg("reconcile: run started")

	results := fanOut(ctx, r.concurrency, candidates, r.ReconcileUser, func(id string, err error) UserResult {
		return UserResult{UserID: id, Error: fmt.Sprintf("not started: %v", err)}
	})

	sum := &SyncSummary{StartedAt: start.UTC(), TotalCandidates: len(candidates), Failures: []UserFailure{}, Results: results}
	for _, res := range results {
		switch {
		case res.Failed():
			sum.Failed++
			sum.Failures = append(sum.Failures, UserFailure{UserID: res.UserID, Error: res.Error})
		case res.Updated:
			sum.Updated++
			sum.CoursesAdded += res.CoursesAdded
			sum.Inconsistencies += res.InconsistenciesFixed
		default:
			sum.Unchanged++
		}
	}
	sum.FinishedAt = time.Now().UTC()

	metrics.ObserveRun("sync", "ok", time.Since(start))
	r.log.Info().
		Int("candidates", sum.TotalCandidates).
		Int("updated", sum.Updated).
		Int("unchanged", sum.Unchanged).
		Int("failed", sum.Failed).
		Dur("duration", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("reconcile: run finished")
	return sum, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/adapter"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/metrics"
)

// RunLockKey guards batch runs that may rewrite projections.
const RunLockKey = "paysync:reconcile:run"

// EngineOptions tunes the batch engine shared by the reconciler and the validator.
type EngineOptions struct {
	Concurrency int           // users processed in parallel, default 4
	LockTTL     time.Duration // run lock lifetime, default 30m
}

// engine holds what reconciliation and validation have in common: the two stores,
// the per-user inspection and repair, and bounded fan-out across users.
type engine struct {
	payments    repository.PaymentRepository
	users       repository.UserRepository
	locker      adapter.Locker
	concurrency int
	lockTTL     time.Duration
	log         *zerolog.Logger
}

func newEngine(payments repository.PaymentRepository, users repository.UserRepository, locker adapter.Locker, opts EngineOptions, logger *zerolog.Logger) engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return engine{
		payments:    payments,
		users:       users,
		locker:      locker,
		concurrency: opts.Concurrency,
		lockTTL:     opts.LockTTL,
		log:         logger,
	}
}

// inspection is one user's ledger and projection side by side.
type inspection struct {
	user   *model.UserProjection
	ledger []model.CourseGrant
	drift  Drift
}

// inspect compares the user's projection with grants derived from records, which
// must be that user's ledger records (any status; only successes count).
func (e *engine) inspect(ctx context.Context, userID string, records []*model.PaymentRecord) (*inspection, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load projection: %w", err)
	}
	ledger := LedgerGrants(records)
	return &inspection{
		user:   user,
		ledger: ledger,
		drift:  DiffGrants(ledger, user.PurchasedCourses),
	}, nil
}

// repair rewrites the whole grant list with ledger-derived grants winning.
func (e *engine) repair(ctx context.Context, in *inspection) error {
	merged := MergeGrantsLedgerWins(in.user.PurchasedCourses, in.ledger)
	err := e.users.UpdatePurchasedCourses(ctx, in.user.ID, merged, model.StoreTime(time.Now()))
	metrics.IncProjectionWrite("reconcile", err)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProjectionWrite, err)
	}
	in.user.PurchasedCourses = merged
	return nil
}

// fanOut runs fn for every user with bounded concurrency. Each call writes only
// its own slot; aggregation happens afterwards on the caller's goroutine.
// Once ctx is done no further users are started; in-flight users finish with a
// context that is no longer cancelled so their write is not cut in half.
func fanOut[T any](ctx context.Context, limit int, userIDs []string, fn func(context.Context, string) T, skipped func(string, error) T) []T {
	out := make([]T, len(userIDs))
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range userIDs {
		if err := ctx.Err(); err != nil {
			out[i] = skipped(id, err)
			continue
		}
		i, id := i, id // per-iteration copy; go directive lowered to 1.21 for the local toolchain
		g.Go(func() error {
			out[i] = fn(work, id)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// acquire takes the run lock when a locker is configured. Lock backend errors
// are logged and the run proceeds: overlapping runs converge, they only waste work.
func (e *engine) acquire(ctx context.Context, kind string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	token, err := e.locker.TryLock(ctx, RunLockKey, e.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			return nil, err
		}
		e.log.Warn().Err(err).Str("kind", kind).Msg("run lock unavailable; continuing without it")
		return func() {}, nil
	}
	return func() {
		if err := e.locker.Unlock(context.WithoutCancel(ctx), RunLockKey, token); err != nil {
			e.log.Warn().Err(err).Str("kind", kind).Msg("run lock release failed")
		}
	}, nil
}

func distinctUserIDs(records []*model.PaymentRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range records {
		if p == nil || p.UserID == "" {
			continue
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p.UserID)
	}
	sort.Strings(out)
	return out
}

func groupByUser(records []*model.PaymentRecord) map[string][]*model.PaymentRecord {
	out := make(map[string][]*model.PaymentRecord)
	for _, p := range records {
		if p == nil {
			continue
		}
		out[p.UserID] = append(out[p.UserID], p)
	}
	return out
}

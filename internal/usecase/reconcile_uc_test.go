//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/adapter"
	"course-payment-sync/internal/usecase"
)

func newReconciler(p *MockPaymentRepo, u *MockUserRepo, l adapter.Locker) *usecase.Reconciler {
	return usecase.NewReconciler(p, u, l, usecase.EngineOptions{Concurrency: 3}, newTestLogger())
}

func TestReconciler_ReconcileUser(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("adds missing grants and converges", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo("U1")
		require.NoError(t, payments.Save(ctx, paidRecord("p1", "U1", "course1", base)))
		require.NoError(t, payments.Save(ctx, paidRecord("p2", "U1", "course2", base)))
		r := newReconciler(payments, users, nil)

		res := r.ReconcileUser(ctx, "U1")
		require.Empty(t, res.Error)
		assert.True(t, res.Updated)
		assert.Equal(t, 2, res.CoursesAdded)
		assert.Len(t, users.Grants("U1"), 2)

		again := r.ReconcileUser(ctx, "U1")
		assert.False(t, again.Updated)
		assert.Equal(t, 1, users.Writes["U1"], "a clean user is not rewritten")
	})

	t.Run("repairs a drifted expiry", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo()
		rec := paidRecord("p1", "U2", "course7", base)
		require.NoError(t, payments.Save(ctx, rec))

		stale := model.GrantFromPayment(rec)
		stale.ExpiryDate = rec.ExpiryDate.Add(-10 * 24 * time.Hour)
		other := grant("course9", base, true)
		users.Put("U2", stale, other)

		res := newReconciler(payments, users, nil).ReconcileUser(ctx, "U2")
		require.Empty(t, res.Error)
		assert.True(t, res.Updated)
		assert.Equal(t, 1, res.InconsistenciesFixed)
		assert.Equal(t, 0, res.CoursesAdded)
		assert.Equal(t, []string{"course9"}, res.Unexplained)

		got := users.Grants("U2")
		require.Len(t, got, 2)
		assert.True(t, got[0].ExpiryDate.Equal(rec.ExpiryDate))
		assert.Equal(t, other, got[1], "unexplained grants are kept")
	})

	t.Run("unknown user is a per-user failure", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		require.NoError(t, payments.Save(ctx, paidRecord("p1", "ghost", "course1", base)))
		res := newReconciler(payments, NewMockUserRepo(), nil).ReconcileUser(ctx, "ghost")
		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, domain.ErrUserNotFound.Error())
	})

	t.Run("projection write failure is carried in the result", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo("U1")
		users.UpdatePurchasedCoursesFunc = func(context.Context, string, []model.CourseGrant, time.Time) error { return errStoreDown }
		require.NoError(t, payments.Save(ctx, paidRecord("p1", "U1", "course1", base)))

		res := newReconciler(payments, users, nil).ReconcileUser(ctx, "U1")
		assert.True(t, res.Failed())
		assert.False(t, res.Updated)
	})
}

func TestReconciler_ReconcileAll(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("one failing user does not abort the batch", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo()
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("U%02d", i)
			users.Put(id)
			require.NoError(t, payments.Save(ctx, paidRecord("p"+id, id, "course1", base)))
		}
		users.Put("U03", model.GrantFromPayment(paidRecord("pU03", "U03", "course1", base)))
		require.NoError(t, payments.Save(ctx, paidRecord("pghost", "ghost", "course1", base)))
		pending := paidRecord("ppend", "pendonly", "course1", base)
		pending.Status = model.PaymentStatusPending
		require.NoError(t, payments.Save(ctx, pending))

		locker := &MockLocker{}
		sum, err := newReconciler(payments, users, locker).ReconcileAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 11, sum.TotalCandidates, "pending-only users are not candidates")
		assert.Equal(t, 9, sum.Updated)
		assert.Equal(t, 1, sum.Unchanged)
		assert.Equal(t, 1, sum.Failed)
		require.Len(t, sum.Failures, 1)
		assert.Equal(t, "ghost", sum.Failures[0].UserID)
		assert.Equal(t, 1, locker.Unlocks)

		second, err := newReconciler(payments, users, locker).ReconcileAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, second.Updated)
		assert.Equal(t, 10, second.Unchanged)
	})

	t.Run("candidate scan failure is fatal", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		payments.ScanFunc = func(context.Context, model.PaymentFilter) ([]*model.PaymentRecord, error) { return nil, errStoreDown }
		_, err := newReconciler(payments, NewMockUserRepo(), nil).ReconcileAll(ctx)
		require.ErrorIs(t, err, errStoreDown)
	})

	t.Run("held lock skips the run", func(t *testing.T) {
		locker := &MockLocker{}
		_, err := locker.TryLock(ctx, usecase.RunLockKey, time.Minute)
		require.NoError(t, err)
		_, err = newReconciler(NewMockPaymentRepo(), NewMockUserRepo(), locker).ReconcileAll(ctx)
		require.ErrorIs(t, err, domain.ErrRunInProgress)
	})

	t.Run("lock backend failure does not block the run", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo("U1")
		require.NoError(t, payments.Save(ctx, paidRecord("p1", "U1", "course1", base)))
		locker := &MockLocker{TryLockErr: errStoreDown}
		sum, err := newReconciler(payments, users, locker).ReconcileAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Updated)
	})

	t.Run("cancelled context stops starting users", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo()
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("U%d", i)
			users.Put(id)
			require.NoError(t, payments.Save(ctx, paidRecord("p"+id, id, "course1", base)))
		}
		cctx, cancel := context.WithCancel(ctx)
		payments.ScanFunc = func(c context.Context, f model.PaymentFilter) ([]*model.PaymentRecord, error) {
			defer cancel()
			return payments.All(), nil
		}
		sum, err := newReconciler(payments, users, nil).ReconcileAll(cctx)
		require.NoError(t, err)
		assert.Equal(t, 5, sum.Failed)
		assert.Zero(t, users.TotalWrites())
	})
}

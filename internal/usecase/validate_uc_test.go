//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/infra/payment"
	"course-payment-sync/internal/usecase"
)

// driftFixture seeds one user per issue type plus a clean user and an orphan.
func driftFixture(t *testing.T) (*MockPaymentRepo, *MockUserRepo) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	payments := NewMockPaymentRepo()
	users := NewMockUserRepo()

	clean := paidRecord("p-clean", "clean", "course1", base)
	users.Put("clean", model.GrantFromPayment(clean))

	missing := paidRecord("p-missing", "missing", "course2", base)
	users.Put("missing")

	drift := paidRecord("p-drift", "U2", "course7", base)
	stale := model.GrantFromPayment(drift)
	stale.ExpiryDate = stale.ExpiryDate.Add(48 * time.Hour)
	users.Put("U2", stale)

	users.Put("unbacked", grant("course5", base, true), grant("course6", base, false))

	ghost := paidRecord("p-ghost", "ghost", "course3", base)

	for _, p := range []*model.PaymentRecord{clean, missing, drift, ghost} {
		require.NoError(t, payments.Save(ctx, p))
	}
	return payments, users
}

func issuesOf(rep *usecase.ValidationReport, typ usecase.IssueType) []usecase.Issue {
	var out []usecase.Issue
	for _, is := range rep.Issues {
		if is.Type == typ {
			out = append(out, is)
		}
	}
	return out
}

func TestValidator_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("reports every issue type without writing", func(t *testing.T) {
		payments, users := driftFixture(t)
		v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, usecase.Thresholds{}, newTestLogger())

		rep, err := v.Validate(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 4, rep.TotalPayments)
		assert.Equal(t, 4, rep.TotalUsers)

		orphans := issuesOf(rep, usecase.IssueOrphanedPayments)
		require.Len(t, orphans, 1)
		assert.Equal(t, "ghost", orphans[0].UserID)
		assert.Equal(t, "p-ghost", orphans[0].PaymentID)

		missing := issuesOf(rep, usecase.IssueMissingInPurchased)
		require.Len(t, missing, 1)
		assert.Equal(t, "missing", missing[0].UserID)

		inconsistent := issuesOf(rep, usecase.IssueInconsistentData)
		require.Len(t, inconsistent, 1)
		assert.Equal(t, "course7", inconsistent[0].CourseID)

		unbacked := issuesOf(rep, usecase.IssueMissingInPayments)
		require.Len(t, unbacked, 1, "inactive grants without payments are not reported")
		assert.Equal(t, "course5", unbacked[0].CourseID)

		assert.Equal(t, 1, rep.Summary.ByType[usecase.IssueOrphanedPayments])
		assert.Equal(t, 4, rep.Summary.UsersAffected)
		assert.Equal(t, 1, rep.Summary.CoursesMissing)
		assert.Equal(t, 1, rep.Summary.Inconsistencies)
		assert.Empty(t, rep.Fixed)
		assert.Zero(t, users.TotalWrites())
	})

	t.Run("fix mode repairs only fixable users", func(t *testing.T) {
		payments, users := driftFixture(t)
		locker := &MockLocker{}
		v := usecase.NewValidator(payments, users, locker, usecase.EngineOptions{Concurrency: 2}, usecase.Thresholds{}, newTestLogger())

		rep, err := v.Validate(ctx, true)
		require.NoError(t, err)
		assert.True(t, rep.FixMode)
		require.Len(t, rep.Fixed, 2)
		assert.Equal(t, 1, users.Writes["missing"])
		assert.Equal(t, 1, users.Writes["U2"])
		assert.Zero(t, users.Writes["unbacked"])
		assert.Zero(t, users.Writes["ghost"])
		assert.Nil(t, users.Grants("ghost"), "no projection is created for orphans")
		assert.Equal(t, 1, locker.Unlocks)

		for _, g := range users.Grants("U2") {
			if g.CourseID == "course7" {
				assert.Equal(t, model.AccessWindow, g.ExpiryDate.Sub(g.PurchaseDate))
			}
		}

		after, err := v.Validate(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, issuesOf(after, usecase.IssueMissingInPurchased))
		assert.Empty(t, issuesOf(after, usecase.IssueInconsistentData))
		assert.Len(t, issuesOf(after, usecase.IssueOrphanedPayments), 1)
		assert.Len(t, issuesOf(after, usecase.IssueMissingInPayments), 1)
	})

	t.Run("listing users failure is fatal", func(t *testing.T) {
		payments, users := driftFixture(t)
		users.ListIDsFunc = func(context.Context) ([]string, error) { return nil, errStoreDown }
		v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, usecase.Thresholds{}, newTestLogger())
		_, err := v.Validate(ctx, false)
		require.ErrorIs(t, err, errStoreDown)
	})

	t.Run("per-user read failure lands in failures", func(t *testing.T) {
		payments, users := driftFixture(t)
		users.FindByIDFunc = func(ctx context.Context, id string) (*model.UserProjection, error) {
			return nil, errStoreDown
		}
		v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, usecase.Thresholds{}, newTestLogger())
		rep, err := v.Validate(ctx, false)
		require.NoError(t, err)
		assert.Len(t, rep.Failures, 4)
	})
}

func TestValidator_Health(t *testing.T) {
	ctx := context.Background()

	t.Run("clean data is healthy", func(t *testing.T) {
		payments := NewMockPaymentRepo()
		users := NewMockUserRepo()
		rec := paidRecord("p1", "U1", "course1", time.Now().UTC())
		require.NoError(t, payments.Save(ctx, rec))
		users.Put("U1", model.GrantFromPayment(rec))

		v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, usecase.Thresholds{}, newTestLogger())
		h, err := v.Health(ctx)
		require.NoError(t, err)
		assert.True(t, h.Healthy())
		assert.Empty(t, h.Reasons)
	})

	t.Run("drift above thresholds degrades", func(t *testing.T) {
		payments, users := driftFixture(t)
		v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, usecase.Thresholds{MaxUsersAffected: 10}, newTestLogger())
		h, err := v.Health(ctx)
		require.NoError(t, err)
		assert.Equal(t, usecase.HealthDegraded, h.Status)
		assert.Len(t, h.Reasons, 3)
	})

	t.Run("generous thresholds stay healthy", func(t *testing.T) {
		payments, users := driftFixture(t)
		th := usecase.Thresholds{MaxMissingCourses: 5, MaxInconsistencies: 5, MaxOrphanedPayments: 5, MaxUsersAffected: 5}
		v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, th, newTestLogger())
		h, err := v.Health(ctx)
		require.NoError(t, err)
		assert.True(t, h.Healthy())
	})
}

func TestValidator_CleanAfterNotificationThroughStores(t *testing.T) {
	ctx := context.Background()
	payments := NewMockPaymentRepo()
	payments.Precision = time.Microsecond
	users := NewMockUserRepo("U1")
	users.EncodeJSON = true

	notif := usecase.NewNotificationUseCase(payments, users, payment.NewVerifier(testServerKey), nil, newTestLogger())
	for _, course := range []string{"course42", "course43"} {
		_, err := notif.Handle(ctx, signedNotification("C_U1_"+course+"_1000", "settlement", "150000"))
		require.NoError(t, err)
	}

	v := usecase.NewValidator(payments, users, nil, usecase.EngineOptions{}, usecase.Thresholds{}, newTestLogger())
	rep, err := v.Validate(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, rep.Issues)

	h, err := v.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy(), "reasons: %v", h.Reasons)

	rec := usecase.NewReconciler(payments, users, nil, usecase.EngineOptions{}, newTestLogger())
	sum, err := rec.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Updated, "a clean projection is not rewritten")
	assert.Equal(t, 2, users.TotalWrites())
}

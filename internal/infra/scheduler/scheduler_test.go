//go:build !integration

package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/infra/report"
	"course-payment-sync/internal/usecase"
)

type fakeReconciler struct {
	err  error
	runs int
}

func (f *fakeReconciler) ReconcileUser(_ context.Context, id string) usecase.UserResult {
	return usecase.UserResult{UserID: id}
}

func (f *fakeReconciler) ReconcileAll(context.Context) (*usecase.SyncSummary, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.SyncSummary{TotalCandidates: 1, Updated: 1}, nil
}

type fakeValidator struct{ fix []bool }

func (f *fakeValidator) Validate(_ context.Context, fix bool) (*usecase.ValidationReport, error) {
	f.fix = append(f.fix, fix)
	return &usecase.ValidationReport{}, nil
}

func (f *fakeValidator) Health(context.Context) (*usecase.HealthReport, error) {
	return &usecase.HealthReport{Status: usecase.HealthHealthy}, nil
}

type memReports struct{ kinds []string }

func (m *memReports) Write(kind string, _ any) (string, error) {
	m.kinds = append(m.kinds, kind)
	return "mem://" + kind, nil
}

func newTestScheduler(t *testing.T, opts Options, rec *fakeReconciler, val *fakeValidator, rep *memReports) *Scheduler {
	t.Helper()
	logger := zerolog.Nop()
	s, err := NewScheduler(opts, rec, val, rep, &logger)
	require.NoError(t, err)
	return s
}

func TestNewScheduler_RejectsBadCronExpression(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewScheduler(Options{Spec: "every tuesday"}, &fakeReconciler{}, nil, nil, &logger)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRunOnce_WritesReports(t *testing.T) {
	rec, val, rep := &fakeReconciler{}, &fakeValidator{}, &memReports{}
	s := newTestScheduler(t, Options{Validate: true}, rec, val, rep)

	s.RunOnce(context.Background())
	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, []bool{false}, val.fix, "scheduled validation never repairs")
	assert.Equal(t, []string{report.KindSync, report.KindValidation}, rep.kinds)
}

func TestRunOnce_SkipsWhenLocked(t *testing.T) {
	rec := &fakeReconciler{err: domain.ErrRunInProgress}
	val, rep := &fakeValidator{}, &memReports{}
	s := newTestScheduler(t, Options{Validate: true}, rec, val, rep)

	s.RunOnce(context.Background())
	assert.Empty(t, rep.kinds)
	assert.Empty(t, val.fix)
}

func TestRunOnce_FatalErrorWritesNothing(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("scan: connection refused")}
	rep := &memReports{}
	s := newTestScheduler(t, Options{}, rec, nil, rep)

	s.RunOnce(context.Background())
	assert.Empty(t, rep.kinds)
}

func TestStartStop_Idempotent(t *testing.T) {
	s := newTestScheduler(t, Options{Spec: "@every 1h"}, &fakeReconciler{}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/adapter"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/logging"
	"course-payment-sync/internal/infra/metrics"
)

// Compile-time check
var _ ValidateUseCase = (*Validator)(nil)

type ValidateUseCase interface {
	// Validate reports drift between ledger and projections. With fix set, users
	// with repairable drift are rewritten from the ledger; orphans and unexplained
	// grants are only reported.
	Validate(ctx context.Context, fix bool) (*ValidationReport, error)
	Health(ctx context.Context) (*HealthReport, error)
}

type IssueType string

const (
	IssueMissingInPurchased IssueType = "MISSING_IN_PURCHASED"
	IssueMissingInPayments  IssueType = "MISSING_IN_PAYMENTS"
	IssueInconsistentData   IssueType = "INCONSISTENT_DATA"
	IssueOrphanedPayments   IssueType = "ORPHANED_PAYMENTS"
)

// Fixable reports whether the engine may repair the issue on its own.
func (t IssueType) Fixable() bool {
	return t == IssueMissingInPurchased || t == IssueInconsistentData
}

// Issue is one finding. CourseID is empty for orphaned payments, which are
// reported per record.
type Issue struct {
	Type      IssueType `json:"type"`
	UserID    string    `json:"userId"`
	CourseID  string    `json:"courseId,omitempty"`
	PaymentID string    `json:"paymentId,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type ValidationSummary struct {
	ByType          map[IssueType]int `json:"byType"`
	UsersAffected   int               `json:"usersAffected"`
	CoursesMissing  int               `json:"coursesMissing"`
	Inconsistencies int               `json:"inconsistencies"`
	Orphaned        int               `json:"orphanedPayments"`
}

type ValidationReport struct {
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
	FixMode       bool              `json:"fixMode"`
	TotalPayments int               `json:"totalPayments"`
	TotalUsers    int               `json:"totalUsers"`
	UsersChecked  int               `json:"usersChecked"`
	Issues        []Issue           `json:"issues"`
	Summary       ValidationSummary `json:"summary"`
	Fixed         []UserResult      `json:"fixed,omitempty"`
	Failures      []UserFailure     `json:"failures"`
}

// Thresholds bound the drift tolerated before Health reports degraded.
// A zero value means any occurrence degrades.
type Thresholds struct {
	MaxMissingCourses   int
	MaxInconsistencies  int
	MaxOrphanedPayments int
	MaxUsersAffected    int
}

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

type HealthReport struct {
	Status    string            `json:"status"`
	CheckedAt time.Time         `json:"checkedAt"`
	Reasons   []string          `json:"reasons,omitempty"`
	Summary   ValidationSummary `json:"summary"`
	Failures  int               `json:"failures"`
}

func (h *HealthReport) Healthy() bool { return h.Status == HealthHealthy }

// Validator detects drift and optionally repairs it.
type Validator struct {
	engine
	thresholds Thresholds
}

func NewValidator(payments repository.PaymentRepository, users repository.UserRepository, locker adapter.Locker, opts EngineOptions, th Thresholds, logger *zerolog.Logger) *Validator {
	return &Validator{engine: newEngine(payments, users, locker, opts, logger), thresholds: th}
}

// userCheck is the outcome of inspecting one known user.
type userCheck struct {
	issues []Issue
	fixed  *UserResult
	err    string
}

func (v *Validator) Validate(ctx context.Context, fix bool) (*ValidationReport, error) {
	defer logging.TraceDuration(v.log, "Validator.Validate")()
	start := time.Now()
	kind := "validate"
	if fix {
		kind = "validate_fix"
		release, err := v.acquire(ctx, kind)
		if err != nil {
			metrics.ObserveRun(kind, "skipped", time.Since(start))
			return nil, err
		}
		defer release()
	}

	records, err := v.payments.Scan(ctx, model.PaymentFilter{})
	if err != nil {
		metrics.ObserveRun(kind, "fatal", time.Since(start))
		return nil, fmt.Errorf("scan payments: %w", err)
	}
	known, err := v.users.ListIDs(ctx)
	if err != nil {
		metrics.ObserveRun(kind, "fatal", time.Since(start))
		return nil, fmt.Errorf("list users: %w", err)
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}
	byUser := groupByUser(records)

	rep := &ValidationReport{
		StartedAt:     start.UTC(),
		FixMode:       fix,
		TotalPayments: len(records),
		TotalUsers:    len(known),
		Issues:        []Issue{},
		Failures:      []UserFailure{},
	}

	// Orphans come from the set difference alone, independent of per-user checks.
	for _, p := range records {
		if _, ok := knownSet[p.UserID]; ok {
			continue
		}
		rep.Issues = append(rep.Issues, Issue{
			Type:      IssueOrphanedPayments,
			UserID:    p.UserID,
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Detail:    fmt.Sprintf("payment %s references unknown user", p.Status),
		})
	}

	checkIDs := append([]string(nil), known...)
	sort.Strings(checkIDs)
	rep.UsersChecked = len(checkIDs)

	checks := fanOut(ctx, v.concurrency, checkIDs, func(ctx context.Context, id string) userCheck {
		return v.checkUser(ctx, id, byUser[id], fix)
	}, func(_ string, err error) userCheck {
		return userCheck{err: fmt.Sprintf("not started: %v", err)}
	})
	for i, c := range checks {
		rep.Issues = append(rep.Issues, c.issues...)
		if c.fixed != nil {
			rep.Fixed = append(rep.Fixed, *c.fixed)
		}
		if c.err != "" {
			rep.Failures = append(rep.Failures, UserFailure{UserID: checkIDs[i], Error: c.err})
		}
	}

	rep.Summary = summarize(rep.Issues)
	rep.FinishedAt = time.Now().UTC()

	metrics.SetDriftIssues(issueCounts(rep.Summary))
	metrics.ObserveRun(kind, "ok", time.Since(start))
	v.log.Info().
		Bool("fix", fix).
		Int("payments", rep.TotalPayments).
		Int("users", rep.TotalUsers).
		Int("issues", len(rep.Issues)).
		Int("fixed", len(rep.Fixed)).
		Int("failed", len(rep.Failures)).
		Msg("validate: run finished")
	return rep, nil
}

// checkUser diffs one known user. Users without ledger records are still checked
// so that active grants with no payment behind them are reported.
func (v *Validator) checkUser(ctx context.Context, userID string, records []*model.PaymentRecord, fix bool) userCheck {
	ctx = logging.WithUserID(ctx, userID)
	in, err := v.inspect(ctx, userID, records)
	if err != nil {
		logging.With(ctx, v.log).Warn().Err(err).Msg("validate: user skipped")
		return userCheck{err: err.Error()}
	}

	var c userCheck
	for _, id := range in.drift.MissingInProjection {
		c.issues = append(c.issues, Issue{Type: IssueMissingInPurchased, UserID: userID, CourseID: id})
	}
	for _, id := range in.drift.MissingInLedger {
		c.issues = append(c.issues, Issue{Type: IssueMissingInPayments, UserID: userID, CourseID: id, Detail: "active grant without a successful payment"})
	}
	ledger := make(map[string]model.CourseGrant, len(in.ledger))
	for _, g := range in.ledger {
		ledger[g.CourseID] = g
	}
	for _, id := range in.drift.Inconsistent {
		lg := ledger[id]
		pg, _ := in.user.Grant(id)
		c.issues = append(c.issues, Issue{
			Type:      IssueInconsistentData,
			UserID:    userID,
			CourseID:  id,
			PaymentID: lg.PaymentID,
			Detail: fmt.Sprintf("ledger expiry=%s active=%t, projection expiry=%s active=%t",
				lg.ExpiryDate.UTC().Format(time.RFC3339), lg.IsActive,
				pg.ExpiryDate.UTC().Format(time.RFC3339), pg.IsActive),
		})
	}

	if !fix || !in.drift.Repairable() {
		return c
	}
	if err := v.repair(ctx, in); err != nil {
		logging.With(ctx, v.log).Error().Err(err).Msg("validate: fix failed")
		c.err = err.Error()
		return c
	}
	c.fixed = &UserResult{
		UserID:               userID,
		Updated:              true,
		CoursesAdded:         len(in.drift.MissingInProjection),
		InconsistenciesFixed: len(in.drift.Inconsistent),
		Unexplained:          in.drift.MissingInLedger,
	}
	return c
}

func summarize(issues []Issue) ValidationSummary {
	s := ValidationSummary{ByType: map[IssueType]int{
		IssueMissingInPurchased: 0,
		IssueMissingInPayments:  0,
		IssueInconsistentData:   0,
		IssueOrphanedPayments:   0,
	}}
	users := make(map[string]struct{})
	for _, is := range issues {
		s.ByType[is.Type]++
		users[is.UserID] = struct{}{}
		switch is.Type {
		case IssueMissingInPurchased:
			s.CoursesMissing++
		case IssueInconsistentData:
			s.Inconsistencies++
		case IssueOrphanedPayments:
			s.Orphaned++
		}
	}
	s.UsersAffected = len(users)
	return s
}

func issueCounts(s ValidationSummary) map[string]int {
	out := make(map[string]int, len(s.ByType))
	for t, n := range s.ByType {
		out[string(t)] = n
	}
	return out
}

// Health runs a read-only validation and grades it against the thresholds.
func (v *Validator) Health(ctx context.Context) (*HealthReport, error) {
	rep, err := v.Validate(ctx, false)
	if err != nil {
		return nil, err
	}
	return Evaluate(rep, v.thresholds), nil
}

// Evaluate grades a validation report. Per-user failures also degrade health.
func Evaluate(rep *ValidationReport, th Thresholds) *HealthReport {
	h := &HealthReport{
		Status:    HealthHealthy,
		CheckedAt: rep.FinishedAt,
		Summary:   rep.Summary,
		Failures:  len(rep.Failures),
	}
	check := func(name string, got, limit int) {
		if got > limit {
			h.Reasons = append(h.Reasons, fmt.Sprintf("%s %d exceeds %d", name, got, limit))
		}
	}
	check("missing courses", rep.Summary.CoursesMissing, th.MaxMissingCourses)
	check("inconsistencies", rep.Summary.Inconsistencies, th.MaxInconsistencies)
	check("orphaned payments", rep.Summary.Orphaned, th.MaxOrphanedPayments)
	check("users affected", rep.Summary.UsersAffected, th.MaxUsersAffected)
	if len(rep.Failures) > 0 {
		h.Reasons = append(h.Reasons, fmt.Sprintf("%d users could not be checked", len(rep.Failures)))
	}
	if len(h.Reasons) > 0 {
		h.Status = HealthDegraded
	}
	return h
}

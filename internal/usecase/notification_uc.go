package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/adapter"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/logging"
	"course-payment-sync/internal/infra/metrics"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// Handle processes one verified-or-rejected gateway callback. Returned errors wrap
	// domain.ErrInvalidSignature, ErrMalformedOrderID, ErrMalformedPayload,
	// ErrUserNotFound, ErrLedgerWrite or ErrProjectionWrite.
	Handle(ctx context.Context, n *model.Notification) (*NotificationResult, error)
}

// NotificationResult describes what a notification changed.
type NotificationResult struct {
	Kind      model.NotificationKind `json:"kind"`
	Message   string                 `json:"message"`
	UserID    string                 `json:"userId,omitempty"`
	CourseID  string                 `json:"courseId,omitempty"`
	PaymentID string                 `json:"paymentId,omitempty"`
	Granted   bool                   `json:"granted"`
	Duplicate bool                   `json:"duplicate"`
}

type notificationUC struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	verifier adapter.SignatureVerifier
	prefixes []string
	log      *zerolog.Logger
}

// NewNotificationUseCase wires the notification handler. prefixes are the order id
// prefix tokens accepted (nil means model.DefaultOrderPrefixes).
func NewNotificationUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	verifier adapter.SignatureVerifier,
	prefixes []string,
	logger *zerolog.Logger,
) *notificationUC {
	return &notificationUC{payments: payments, users: users, verifier: verifier, prefixes: prefixes, log: logger}
}

func (u *notificationUC) Handle(ctx context.Context, n *model.Notification) (*NotificationResult, error) {
	if n == nil {
		return nil, domain.ErrMalformedPayload
	}
	ctx = logging.WithOrderID(ctx, n.OrderID)
	log := logging.With(ctx, u.log)
	kind := n.Kind()

	if !u.verifier.Verify(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		metrics.IncNotification(string(kind), "rejected")
		log.Warn().Str("transaction_status", n.TransactionStatus).Msg("notification signature mismatch")
		return nil, domain.ErrInvalidSignature
	}
	order, err := model.ParseOrderID(n.OrderID, u.prefixes)
	if err != nil {
		metrics.IncNotification(string(kind), "rejected")
		log.Warn().Err(err).Msg("notification rejected")
		return nil, err
	}
	ctx = logging.WithUserID(ctx, order.UserID)

	var res *NotificationResult
	switch kind {
	case model.NotificationPaid:
		res, err = u.handlePaid(ctx, n, order)
	case model.NotificationPending:
		res, err = u.handlePending(ctx, n, order)
	default:
		res, err = u.handleClosed(ctx, n, order)
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrMalformedPayload) {
			outcome = "rejected"
		}
		metrics.IncNotification(string(kind), outcome)
		return nil, err
	}
	return res, nil
}

// handlePaid performs the dual write: ledger first, then the projection. A projection
// failure after a successful ledger write is reported, never rolled back; the next
// reconciliation run repairs it.
func (u *notificationUC) handlePaid(ctx context.Context, n *model.Notification, order model.OrderID) (*NotificationResult, error) {
	log := logging.With(ctx, u.log)

	user, err := u.users.FindByID(ctx, order.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			log.Error().Msg("paid notification for unknown user; no payment recorded")
			return nil, err
		}
		return nil, fmt.Errorf("load user %s: %w", order.UserID, err)
	}
	amount, err := n.AmountMinor()
	if err != nil {
		return nil, err
	}

	existing, err := u.findExisting(ctx, n)
	if err != nil {
		return nil, err
	}

	now := model.StoreTime(time.Now())
	res := &NotificationResult{Kind: model.NotificationPaid, UserID: order.UserID, CourseID: order.CourseID}
	var record *model.PaymentRecord

	switch {
	case existing != nil && existing.Status == model.PaymentStatusSuccess:
		record = existing
		res.Duplicate = true
		log.Info().Str("payment_id", existing.ID).Msg("duplicate paid notification; ledger unchanged")

	case existing != nil:
		upd := model.PaymentUpdate{
			Status:       model.PaymentStatusSuccess,
			IsActive:     true,
			PurchaseDate: now,
			ExpiryDate:   now.Add(model.AccessWindow),
			Meta:         n.Raw,
		}
		err := u.payments.UpdateStatus(ctx, existing.ID, upd)
		metrics.IncLedgerWrite("update", err)
		if err != nil {
			return nil, fmt.Errorf("%w: promote payment %s: %v", domain.ErrLedgerWrite, existing.ID, err)
		}
		upd.Apply(existing, now)
		record = existing

	default:
		record = &model.PaymentRecord{
			ID:              uuid.NewString(),
			OrderID:         n.OrderID,
			TransactionID:   n.TxID(),
			UserID:          order.UserID,
			CourseID:        order.CourseID,
			Status:          model.PaymentStatusSuccess,
			Amount:          amount,
			Currency:        currencyOf(n),
			PaymentMethod:   n.PaymentType,
			PurchaseDate:    now,
			ExpiryDate:      now.Add(model.AccessWindow),
			IsActive:        true,
			GatewayMetadata: n.Raw,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err := u.payments.Save(ctx, record)
		metrics.IncLedgerWrite("insert", err)
		if err != nil {
			return nil, fmt.Errorf("%w: insert payment: %v", domain.ErrLedgerWrite, err)
		}
	}
	res.PaymentID = record.ID
	if !res.Duplicate {
		metrics.AddPaymentRevenue(record.Currency, record.Amount)
	}

	grant := model.GrantFromPayment(record)
	if cur, ok := user.Grant(order.CourseID); ok && res.Duplicate && cur.PurchaseDate.After(grant.PurchaseDate) {
		// A replay of an older purchase must not roll back a newer grant.
		res.Message = "duplicate notification, newer grant kept"
		metrics.IncNotification(string(model.NotificationPaid), "duplicate")
		return res, nil
	}

	merged := MergeGrantsLedgerWins(user.PurchasedCourses, []model.CourseGrant{grant})
	err = u.users.UpdatePurchasedCourses(ctx, user.ID, merged, now)
	metrics.IncProjectionWrite("notification", err)
	if err != nil {
		log.Error().Err(err).Str("payment_id", record.ID).Msg("projection write failed after ledger write; left for reconciliation")
		return nil, fmt.Errorf("%w: user %s: %v", domain.ErrProjectionWrite, user.ID, err)
	}

	res.Granted = true
	if res.Duplicate {
		res.Message = "duplicate notification, access confirmed"
		metrics.IncNotification(string(model.NotificationPaid), "duplicate")
	} else {
		res.Message = "payment processed, course access granted"
		metrics.IncNotification(string(model.NotificationPaid), "granted")
	}
	log.Info().Str("payment_id", record.ID).Str("course_id", order.CourseID).Time("expiry", grant.ExpiryDate).Msg("course access granted")
	return res, nil
}

// handlePending records the pending payment once per transaction and grants nothing.
// Unknown users are acknowledged without a ledger write.
func (u *notificationUC) handlePending(ctx context.Context, n *model.Notification, order model.OrderID) (*NotificationResult, error) {
	log := logging.With(ctx, u.log)
	res := &NotificationResult{Kind: model.NotificationPending, UserID: order.UserID, CourseID: order.CourseID}

	if _, err := u.users.FindByID(ctx, order.UserID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			log.Warn().Msg("pending notification for unknown user; acknowledged without record")
			res.Message = "pending payment acknowledged"
			metrics.IncNotification(string(model.NotificationPending), "ignored")
			return res, nil
		}
		return nil, fmt.Errorf("load user %s: %w", order.UserID, err)
	}

	existing, err := u.findExisting(ctx, n)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		res.PaymentID = existing.ID
		res.Duplicate = true
		res.Message = "pending payment already recorded"
		metrics.IncNotification(string(model.NotificationPending), "duplicate")
		return res, nil
	}

	amount, err := n.AmountMinor()
	if err != nil {
		return nil, err
	}
	now := model.StoreTime(time.Now())
	record := &model.PaymentRecord{
		ID:              uuid.NewString(),
		OrderID:         n.OrderID,
		TransactionID:   n.TxID(),
		UserID:          order.UserID,
		CourseID:        order.CourseID,
		Status:          model.PaymentStatusPending,
		Amount:          amount,
		Currency:        currencyOf(n),
		PaymentMethod:   n.PaymentType,
		PurchaseDate:    now,
		ExpiryDate:      now.Add(model.AccessWindow),
		IsActive:        false,
		GatewayMetadata: n.Raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = u.payments.Save(ctx, record)
	metrics.IncLedgerWrite("insert", err)
	if err != nil {
		return nil, fmt.Errorf("%w: insert pending payment: %v", domain.ErrLedgerWrite, err)
	}
	res.PaymentID = record.ID
	res.Message = "pending payment recorded"
	metrics.IncNotification(string(model.NotificationPending), "recorded")
	log.Info().Str("payment_id", record.ID).Msg("pending payment recorded")
	return res, nil
}

// handleClosed closes a pending record for the transaction, if one exists.
// Successful records are never downgraded by a late closing status.
func (u *notificationUC) handleClosed(ctx context.Context, n *model.Notification, order model.OrderID) (*NotificationResult, error) {
	log := logging.With(ctx, u.log)
	res := &NotificationResult{Kind: model.NotificationClosed, UserID: order.UserID, CourseID: order.CourseID}

	existing, err := u.findExisting(ctx, n)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.Status != model.PaymentStatusPending {
		if existing != nil && existing.Status == model.PaymentStatusSuccess {
			log.Warn().Str("payment_id", existing.ID).Str("transaction_status", n.TransactionStatus).
				Msg("closing status for a successful payment ignored")
		}
		res.Message = fmt.Sprintf("notification acknowledged (%s)", n.TransactionStatus)
		metrics.IncNotification(string(model.NotificationClosed), "ignored")
		return res, nil
	}

	now := model.StoreTime(time.Now())
	upd := model.PaymentUpdate{Status: n.Status(), IsActive: false, Meta: n.Raw}
	err = u.payments.UpdateStatus(ctx, existing.ID, upd)
	metrics.IncLedgerWrite("update", err)
	if err != nil {
		return nil, fmt.Errorf("%w: close payment %s: %v", domain.ErrLedgerWrite, existing.ID, err)
	}
	upd.Apply(existing, now)
	res.PaymentID = existing.ID
	res.Message = fmt.Sprintf("payment marked %s", existing.Status)
	metrics.IncNotification(string(model.NotificationClosed), "recorded")
	log.Info().Str("payment_id", existing.ID).Str("status", string(existing.Status)).Msg("pending payment closed")
	return res, nil
}

// findExisting returns the ledger row a notification refers to, or nil.
// A notification without a transaction id may still match a row recorded
// under the gateway's id for the same order, so the order id is consulted too.
func (u *notificationUC) findExisting(ctx context.Context, n *model.Notification) (*model.PaymentRecord, error) {
	txID := n.TxID()
	p, err := u.payments.FindByTransactionID(ctx, txID)
	switch {
	case err == nil:
		return p, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup transaction %s: %w", txID, err)
	case n.TransactionID != "":
		return nil, nil
	}

	rows, err := u.payments.ListByOrderID(ctx, n.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", n.OrderID, err)
	}
	var latest *model.PaymentRecord
	for _, r := range rows {
		if latest == nil || r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	return latest, nil
}

func currencyOf(n *model.Notification) string {
	if n.Currency != "" {
		return n.Currency
	}
	return "IDR"
}

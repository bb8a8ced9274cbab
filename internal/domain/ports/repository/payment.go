package repository

import (
	"context"

	"course-payment-sync/internal/domain/model"
)

// -----------------------------
// Payments ledger
// -----------------------------

// PaymentRepository is the ledger store. Records are appended once and afterwards
// only their status and metadata change; nothing here deletes a record.
type PaymentRepository interface {
	// Save inserts a new record (put). The id must be unique.
	Save(ctx context.Context, p *model.PaymentRecord) error
	// FindByID returns domain.ErrNotFound when no record has this id.
	FindByID(ctx context.Context, id string) (*model.PaymentRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*model.PaymentRecord, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*model.PaymentRecord, error)
	// FindByTransactionID returns the most recently updated record for the gateway
	// transaction, or domain.ErrNotFound.
	FindByTransactionID(ctx context.Context, transactionID string) (*model.PaymentRecord, error)
	// Scan returns every record matching the filter.
	Scan(ctx context.Context, filter model.PaymentFilter) ([]*model.PaymentRecord, error)
	// UpdateStatus applies upd to the record (update). Returns domain.ErrNotFound for unknown ids.
	UpdateStatus(ctx context.Context, id string, upd model.PaymentUpdate) error
}

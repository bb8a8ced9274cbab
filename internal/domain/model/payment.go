package model

import "time"

// AccessWindow is how long a paid course stays accessible after purchase.
const AccessWindow = 30 * 24 * time.Hour

// StorePrecision is the resolution Postgres timestamptz keeps. Timestamps are
// truncated to it before they reach either store so ledger and projection agree.
const StorePrecision = time.Microsecond

// StoreTime normalizes t to UTC at StorePrecision.
func StoreTime(t time.Time) time.Time {
	return t.UTC().Truncate(StorePrecision)
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // gateway reported the payment as awaiting settlement
	PaymentStatusSuccess   PaymentStatus = "success"   // settled or captured; grants access
	PaymentStatusFailed    PaymentStatus = "failed"    // denied, expired or failed at the gateway
	PaymentStatusCancelled PaymentStatus = "cancelled" // cancelled by the customer or merchant
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// PaymentRecord is one row of the payments ledger. The ledger is authoritative:
// course grants in the user projection are derived from successful records.
type PaymentRecord struct {
	ID              string         `json:"id"`            // UUID, immutable
	OrderID         string         `json:"orderId"`       // {prefix}_{userId}_{courseId}_{timestamp}
	TransactionID   string         `json:"transactionId"` // gateway id, falls back to OrderID
	UserID          string         `json:"userId"`        // not enforced, may reference a deleted user
	CourseID        string         `json:"courseId"`
	Status          PaymentStatus  `json:"status"`
	Amount          int64          `json:"amount"` // minor currency units
	Currency        string         `json:"currency"`
	PaymentMethod   string         `json:"paymentMethod"`
	PurchaseDate    time.Time      `json:"purchaseDate"`
	ExpiryDate      time.Time      `json:"expiryDate"`
	IsActive        bool           `json:"isActive"`
	GatewayMetadata map[string]any `json:"gatewayMetadata,omitempty"` // raw gateway fields, never interpreted
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// PaymentFilter narrows a ledger scan. Zero values match everything.
type PaymentFilter struct {
	Status PaymentStatus
	UserID string
}

func (f PaymentFilter) Match(p *PaymentRecord) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	return true
}

// PaymentUpdate is the mutable part of a ledger record. Zero dates and a nil Meta
// leave the stored values unchanged; Meta keys are merged into GatewayMetadata.
type PaymentUpdate struct {
	Status       PaymentStatus
	IsActive     bool
	PurchaseDate time.Time
	ExpiryDate   time.Time
	Meta         map[string]any
}

// Apply mutates p the same way a store applies u.
func (u PaymentUpdate) Apply(p *PaymentRecord, at time.Time) {
	p.Status = u.Status
	p.IsActive = u.IsActive
	if !u.PurchaseDate.IsZero() {
		p.PurchaseDate = u.PurchaseDate
	}
	if !u.ExpiryDate.IsZero() {
		p.ExpiryDate = u.ExpiryDate
	}
	if len(u.Meta) > 0 {
		if p.GatewayMetadata == nil {
			p.GatewayMetadata = make(map[string]any, len(u.Meta))
		}
		for k, v := range u.Meta {
			p.GatewayMetadata[k] = v
		}
	}
	p.UpdatedAt = at
}

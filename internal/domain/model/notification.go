package model

import (
	"fmt"
	"strconv"
	"strings"

	"course-payment-sync/internal/domain"
)

// NotificationKind is the normalized meaning of a gateway transaction_status.
type NotificationKind string

const (
	NotificationPaid    NotificationKind = "paid"    // settlement | capture
	NotificationPending NotificationKind = "pending" // pending
	NotificationClosed  NotificationKind = "closed"  // deny | expire | cancel | failure | anything else
)

// Notification is a gateway callback that passed the required-field contract.
// Everything not named here is kept in Raw and stored as gateway metadata.
type Notification struct {
	OrderID           string
	StatusCode        string
	GrossAmount       string
	SignatureKey      string
	TransactionStatus string

	TransactionID   string
	PaymentType     string
	FraudStatus     string
	Currency        string
	TransactionTime string

	Raw map[string]any
}

func (n *Notification) Kind() NotificationKind {
	switch strings.ToLower(n.TransactionStatus) {
	case "settlement", "capture":
		return NotificationPaid
	case "pending":
		return NotificationPending
	default:
		return NotificationClosed
	}
}

// Status maps the gateway status onto the ledger status set.
func (n *Notification) Status() PaymentStatus {
	switch n.Kind() {
	case NotificationPaid:
		return PaymentStatusSuccess
	case NotificationPending:
		return PaymentStatusPending
	}
	if strings.EqualFold(n.TransactionStatus, "cancel") {
		return PaymentStatusCancelled
	}
	return PaymentStatusFailed
}

// TxID is the gateway transaction id, or the order id when the gateway omitted one.
func (n *Notification) TxID() string {
	if n.TransactionID != "" {
		return n.TransactionID
	}
	return n.OrderID
}

// AmountMinor parses gross_amount ("150000" or "150000.00") into integer units.
// A non-zero fractional part is rejected.
func (n *Notification) AmountMinor() (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(n.GrossAmount), ".")
	if strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("%w: fractional gross_amount %q", domain.ErrMalformedPayload, n.GrossAmount)
	}
	v, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: gross_amount %q", domain.ErrMalformedPayload, n.GrossAmount)
	}
	return v, nil
}

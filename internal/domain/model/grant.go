package model

import "time"

// CourseGrant is one element of a user's purchasedCourses list.
// PaymentID links the grant back to the ledger record it was derived from.
type CourseGrant struct {
	CourseID      string    `json:"courseId"`
	PurchaseDate  time.Time `json:"purchaseDate"`
	ExpiryDate    time.Time `json:"expiryDate"`
	IsActive      bool      `json:"isActive"`
	TransactionID string    `json:"transactionId,omitempty"`
	PaymentID     string    `json:"paymentId,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
}

// GrantFromPayment derives the ledger-side grant for a payment record.
func GrantFromPayment(p *PaymentRecord) CourseGrant {
	return CourseGrant{
		CourseID:      p.CourseID,
		PurchaseDate:  StoreTime(p.PurchaseDate),
		ExpiryDate:    StoreTime(p.ExpiryDate),
		IsActive:      p.IsActive,
		TransactionID: p.TransactionID,
		PaymentID:     p.ID,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
	}
}

// Live reports whether the grant still gives access at t.
func (g CourseGrant) Live(t time.Time) bool {
	return g.IsActive && t.Before(g.ExpiryDate)
}

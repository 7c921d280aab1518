package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypePayment PaymentType = "PAYMENT"
	PaymentTypeFine    PaymentType = "FINE"
)

func (t PaymentType) Valid() bool {
	return t == PaymentTypePayment || t == PaymentTypeFine
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusExpired},
	PaymentStatusExpired: {PaymentStatusPending, PaymentStatusPaid},
}

type Payment struct {
	ID          int64           `json:"id"`
	RentalID    int64           `json:"rental_id"`
	Type        PaymentType     `json:"type"`
	Status      PaymentStatus   `json:"status"`
	SessionID   string          `json:"session_id"`
	SessionURL  string          `json:"session_url"`
	AmountToPay decimal.Decimal `json:"amount_to_pay"`
	CreatedOn   time.Time       `json:"created_on"`
	UpdatedOn   time.Time       `json:"updated_on"`
}

// CanTransitionTo reports whether the payment may move to status. PAID is
// terminal.
func (p *Payment) CanTransitionTo(status PaymentStatus) bool {
	for _, s := range allowedPaymentTransitions[p.Status] {
		if s == status {
			return true
		}
	}
	return false
}

// SessionRequest is what the payment manager asks the gateway to open.
type SessionRequest struct {
	Amount      decimal.Decimal
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    SessionMetadata
}

// Session is the gateway's view of a checkout session.
type Session struct {
	ID       string
	URL      string
	Amount   decimal.Decimal
	Paid     bool
	Expired  bool
	Metadata SessionMetadata
}

// SessionMetadata travels with a session through the gateway and comes back
// on the success callback and the webhook.
type SessionMetadata struct {
	SessionID string          `json:"session_id"`
	RentalID  int64           `json:"rental_id"`
	Type      PaymentType     `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
}

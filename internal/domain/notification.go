package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotificationRentalCreated     NotificationType = "RENTAL_CREATED"
	NotificationOverdueRental     NotificationType = "OVERDUE_RENTAL"
	NotificationPaymentSuccessful NotificationType = "PAYMENT_SUCCESSFUL"
)

type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	UserID      int64            `json:"user_id"`
	RentalID    int64            `json:"rental_id"`
	CarID       int64            `json:"car_id,omitempty"`
	PaymentType PaymentType      `json:"payment_type,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	ReturnDate  *time.Time       `json:"return_date,omitempty"`
	DaysOverdue int              `json:"days_overdue,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

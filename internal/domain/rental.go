package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RentalStatus string

const (
	RentalStatusActive   RentalStatus = "ACTIVE"
	RentalStatusReturned RentalStatus = "RETURNED"
)

type Rental struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	CarID            int64      `json:"car_id"`
	RentalDate       time.Time  `json:"rental_date"`
	ReturnDate       time.Time  `json:"return_date"`
	ActualReturnDate *time.Time `json:"actual_return_date,omitempty"`
	CreatedOn        time.Time  `json:"created_on"`
	UpdatedOn        time.Time  `json:"updated_on"`
}

func (r *Rental) Status() RentalStatus {
	if r.ActualReturnDate != nil {
		return RentalStatusReturned
	}
	return RentalStatusActive
}

func (r *Rental) IsReturned() bool {
	return r.ActualReturnDate != nil
}

// MarkReturned sets the actual return date once; a returned rental is never
// reopened.
func (r *Rental) MarkReturned(on time.Time) error {
	if r.ActualReturnDate != nil {
		return ErrAlreadyReturned
	}
	r.ActualReturnDate = &on
	return nil
}

// RentalReturn is the cost breakdown handed back when a car is returned.
type RentalReturn struct {
	Rental     *Rental         `json:"rental"`
	BaseCost   decimal.Decimal `json:"base_cost"`
	Penalty    decimal.Decimal `json:"penalty"`
	Total      decimal.Decimal `json:"total"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	AmountDue  decimal.Decimal `json:"amount_due"`
}

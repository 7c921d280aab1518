package utils

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"carrental-backend/internal/domain"
)

// PenaltyMultiplier scales the daily fee for every day past the expected
// return date.
var PenaltyMultiplier = decimal.NewFromFloat(1.5)

const hoursPerDay = 24

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from start to end. The result is negative
// when end precedes start.
func DaysBetween(start, end time.Time) int {
	return int(DateOnly(end).Sub(DateOnly(start)).Hours() / hoursPerDay)
}

// DaysOverdue returns how many days today is past the expected return date,
// never less than zero.
func DaysOverdue(expectedReturn, today time.Time) int {
	days := DaysBetween(expectedReturn, today)
	if days < 0 {
		return 0
	}
	return days
}

// BaseCost is the booked price: daily fee times the days between the rental
// date and the expected return date.
func BaseCost(dailyFee decimal.Decimal, rental *domain.Rental) (decimal.Decimal, error) {
	if !dailyFee.IsPositive() {
		return decimal.Zero, domain.ErrInvalidDailyFee
	}
	if rental == nil || rental.RentalDate.IsZero() || rental.ReturnDate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: rental dates are missing", domain.ErrInvalidInput)
	}

	days := DaysBetween(rental.RentalDate, rental.ReturnDate)
	if days <= 0 {
		return decimal.Zero, fmt.Errorf("%w: return date must be after rental date", domain.ErrInvalidInput)
	}
	return roundMoney(dailyFee.Mul(decimal.NewFromInt(int64(days)))), nil
}

// Penalty charges late days at PenaltyMultiplier times the daily fee. It fails
// for rentals that are not returned or were returned on time.
func Penalty(dailyFee decimal.Decimal, rental *domain.Rental) (decimal.Decimal, error) {
	if !dailyFee.IsPositive() {
		return decimal.Zero, domain.ErrInvalidDailyFee
	}
	if rental == nil {
		return decimal.Zero, fmt.Errorf("%w: rental is missing", domain.ErrInvalidInput)
	}
	if rental.ActualReturnDate == nil {
		return decimal.Zero, domain.ErrRentalNotReturned
	}

	late := DaysBetween(rental.ReturnDate, *rental.ActualReturnDate)
	if late <= 0 {
		return decimal.Zero, domain.ErrRentalNotOverdue
	}
	return roundMoney(dailyFee.Mul(decimal.NewFromInt(int64(late))).Mul(PenaltyMultiplier)), nil
}

// AmountForType dispatches to BaseCost for PAYMENT and Penalty for FINE.
func AmountForType(dailyFee decimal.Decimal, rental *domain.Rental, paymentType domain.PaymentType) (decimal.Decimal, error) {
	switch paymentType {
	case domain.PaymentTypePayment:
		return BaseCost(dailyFee, rental)
	case domain.PaymentTypeFine:
		return Penalty(dailyFee, rental)
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown payment type %q", domain.ErrInvalidInput, paymentType)
	}
}

// TotalPaid sums the amounts of the PAID payments belonging to rentalID.
func TotalPaid(rentalID int64, payments []domain.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.RentalID == rentalID && p.Status == domain.PaymentStatusPaid {
			total = total.Add(p.AmountToPay)
		}
	}
	return total
}

// ReturnBreakdown computes what a returned rental costs and what is still
// owed. The penalty is zero when the car came back on time.
func ReturnBreakdown(dailyFee decimal.Decimal, rental *domain.Rental, payments []domain.Payment) (*domain.RentalReturn, error) {
	base, err := BaseCost(dailyFee, rental)
	if err != nil {
		return nil, err
	}
	if rental.ActualReturnDate == nil {
		return nil, domain.ErrRentalNotReturned
	}

	penalty := decimal.Zero
	if DaysOverdue(rental.ReturnDate, *rental.ActualReturnDate) > 0 {
		penalty, err = Penalty(dailyFee, rental)
		if err != nil {
			return nil, err
		}
	}

	total := base.Add(penalty)
	paid := TotalPaid(rental.ID, payments)
	due := total.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}

	return &domain.RentalReturn{
		Rental:     rental,
		BaseCost:   base,
		Penalty:    penalty,
		Total:      total,
		AmountPaid: paid,
		AmountDue:  due,
	}, nil
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

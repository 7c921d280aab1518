package service

import (
	"context"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/repository"
)

type InventoryService interface {
	// Adjust changes a car's counter in its own transaction.
	Adjust(ctx context.Context, carID int64, quantity int, op domain.InventoryOperation) (*domain.Car, error)
	// AdjustInTx changes the counter inside a caller's transaction.
	AdjustInTx(ctx context.Context, tx repository.Store, carID int64, quantity int, op domain.InventoryOperation) (*domain.Car, error)
	GetAvailability(ctx context.Context, carID int64) (*domain.Car, error)
}

type RentalService interface {
	CreateRental(ctx context.Context, userID, carID int64, returnDate time.Time) (*domain.Rental, error)
	ReturnRental(ctx context.Context, userID, rentalID int64) (*domain.RentalReturn, error)
	GetRental(ctx context.Context, userID, rentalID int64) (*domain.Rental, error)
	ListRentals(ctx context.Context, userID int64, activeOnly bool) ([]domain.Rental, error)
	NotifyOverdueRentals(ctx context.Context, limit int) (int, error)
}

type PaymentService interface {
	CreatePaymentSession(ctx context.Context, userID, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error)
	RenewPaymentSession(ctx context.Context, userID, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error)
	HandlePaymentSuccess(ctx context.Context, meta domain.SessionMetadata) (*domain.Payment, error)
	// ConfirmSession asks the gateway about a session the customer was
	// redirected back from and records it as paid when it is.
	ConfirmSession(ctx context.Context, sessionID string) (*domain.Payment, error)
	ExpireSession(ctx context.Context, sessionID string) (bool, error)
	ExpireStaleSessions(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	GetPayment(ctx context.Context, userID, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error)
}

// PaymentGateway is the hosted checkout provider.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	IsSessionExpired(ctx context.Context, sessionID string) (bool, error)
}

// Notifier delivers events to the notification pipeline. Callers never fail
// on its errors.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

// AccessChecker looks the caller up through users, which must belong to the
// same store or transaction the rental was read from.
type AccessChecker interface {
	CanAccessRental(ctx context.Context, users repository.UserRepository, userID int64, rental *domain.Rental) (bool, error)
}

type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

type RentalPolicy struct {
	MinDays int
	MaxDays int
}

func DefaultRentalPolicy() RentalPolicy {
	return RentalPolicy{MinDays: 2, MaxDays: 30}
}

type PaymentURLs struct {
	SuccessURL string
	CancelURL  string
}

package repository

import (
	"context"
	"time"

	"carrental-backend/internal/domain"
)

// Lookups return the matching domain NotFound error when nothing resolves.

type CarRepository interface {
	Create(ctx context.Context, car *domain.Car) error
	GetByID(ctx context.Context, id int64) (*domain.Car, error)
	// GetByIDForUpdate holds an exclusive row lock until the enclosing
	// transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Car, error)
	UpdateInventory(ctx context.Context, id int64, inventory int) error
}

type RentalRepository interface {
	Create(ctx context.Context, rental *domain.Rental) error
	GetByID(ctx context.Context, id int64) (*domain.Rental, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Rental, error)
	// MarkReturned sets the actual return date only while it is still null.
	// It fails with domain.ErrAlreadyReturned otherwise.
	MarkReturned(ctx context.Context, id int64, actual time.Time) error
	ListByUser(ctx context.Context, userID int64, activeOnly bool) ([]domain.Rental, error)
	ListOverdue(ctx context.Context, today time.Time, limit int) ([]domain.Rental, error)
}

type PaymentRepository interface {
	GetByRentalAndType(ctx context.Context, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error)
	GetBySessionIDForUpdate(ctx context.Context, sessionID string) (*domain.Payment, error)
	ListByRental(ctx context.Context, rentalID int64) ([]domain.Payment, error)
	ExistsPendingForUser(ctx context.Context, userID int64) (bool, error)

	// UpsertPending inserts a PENDING payment for (rental, type) or replaces an
	// EXPIRED one. It reports false when a PENDING or PAID payment holds the key.
	UpsertPending(ctx context.Context, payment *domain.Payment) (bool, error)
	// UpsertPaid records a PAID payment for (rental, type) unless one is
	// already PAID.
	UpsertPaid(ctx context.Context, payment *domain.Payment) (bool, error)
	// MarkPaid and MarkExpired are compare-and-set writes. They report false
	// when the current status no longer allows the transition.
	MarkPaid(ctx context.Context, id int64) (bool, error)
	MarkExpired(ctx context.Context, id int64) (bool, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// Store groups the repositories over one connection or transaction.
type Store interface {
	Cars() CarRepository
	Rentals() RentalRepository
	Payments() PaymentRepository
	Users() UserRepository

	// WithTx runs fn in a transaction and commits when fn returns nil. Calls
	// on a transactional Store join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

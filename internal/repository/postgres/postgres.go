package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

type Store struct {
	db          *sql.DB
	inTx        bool
	lockTimeout time.Duration

	cars     repository.CarRepository
	rentals  repository.RentalRepository
	payments repository.PaymentRepository
	users    repository.UserRepository
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := newStore(db)
	for _, opt := range opts {
		opt(s)
	}
	s.db = db
	return s
}

func newStore(q DBTX) *Store {
	return &Store{
		cars:     NewCarRepository(q),
		rentals:  NewRentalRepository(q),
		payments: NewPaymentRepository(q),
		users:    NewUserRepository(q),
	}
}

func (s *Store) Cars() repository.CarRepository         { return s.cars }
func (s *Store) Rentals() repository.RentalRepository   { return s.rentals }
func (s *Store) Payments() repository.PaymentRepository { return s.payments }
func (s *Store) Users() repository.UserRepository       { return s.users }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Error("Failed to roll back transaction", "error", rbErr)
		}
	}()

	if s.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	txStore := newStore(tx)
	txStore.inTx = true
	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// Postgres error codes the services react to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// mapError turns lock and constraint failures into retryable domain errors
// and leaves everything else untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pqErr.Message)
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrConcurrentUpdate, pqErr.Message)
	}
	return err
}

// notFound maps sql.ErrNoRows onto the given domain error.
func notFound(err error, target error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return target
	}
	return mapError(err)
}

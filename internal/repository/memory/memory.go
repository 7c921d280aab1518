// Package memory is a process-local Store used for development and tests.
// Transactions are serialized by a single mutex and work on a copy of the
// data that replaces the live copy on commit.
package memory

import (
	"context"
	"sync"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/repository"
)

type dataset struct {
	cars     map[int64]domain.Car
	rentals  map[int64]domain.Rental
	payments map[int64]domain.Payment
	users    map[int64]domain.User

	nextCarID     int64
	nextRentalID  int64
	nextPaymentID int64
}

func newDataset() *dataset {
	return &dataset{
		cars:     make(map[int64]domain.Car),
		rentals:  make(map[int64]domain.Rental),
		payments: make(map[int64]domain.Payment),
		users:    make(map[int64]domain.User),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		cars:          make(map[int64]domain.Car, len(d.cars)),
		rentals:       make(map[int64]domain.Rental, len(d.rentals)),
		payments:      make(map[int64]domain.Payment, len(d.payments)),
		users:         make(map[int64]domain.User, len(d.users)),
		nextCarID:     d.nextCarID,
		nextRentalID:  d.nextRentalID,
		nextPaymentID: d.nextPaymentID,
	}
	for k, v := range d.cars {
		c.cars[k] = v
	}
	for k, v := range d.rentals {
		c.rentals[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	return c
}

type Store struct {
	mu   *sync.Mutex
	data *dataset
	inTx bool
	now  func() time.Time
}

type Option func(*Store)

// WithClock sets the time source for created_on and updated_on.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		mu:   &sync.Mutex{},
		data: newDataset(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// do runs fn against the live data, taking the lock unless a transaction
// already holds it.
func (s *Store) do(fn func(d *dataset) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: s.mu, data: s.data.clone(), inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *Store) Cars() repository.CarRepository         { return carRepository{s} }
func (s *Store) Rentals() repository.RentalRepository   { return rentalRepository{s} }
func (s *Store) Payments() repository.PaymentRepository { return paymentRepository{s} }
func (s *Store) Users() repository.UserRepository       { return userRepository{s} }

// AddCar seeds a car and returns it with its assigned id.
func (s *Store) AddCar(car domain.Car) domain.Car {
	_ = s.Cars().Create(context.Background(), &car)
	return car
}

// AddUser seeds a user. A zero id is assigned from the user count.
func (s *Store) AddUser(user domain.User) domain.User {
	_ = s.do(func(d *dataset) error {
		if user.ID == 0 {
			user.ID = int64(len(d.users) + 1)
		}
		d.users[user.ID] = user
		return nil
	})
	return user
}

// Car returns a snapshot of the committed car row.
func (s *Store) Car(id int64) (domain.Car, bool) {
	var car domain.Car
	var ok bool
	_ = s.do(func(d *dataset) error {
		car, ok = d.cars[id]
		return nil
	})
	return car, ok
}

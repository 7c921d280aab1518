package memory

import (
	"context"
	"sort"
	"time"

	"carrental-backend/internal/domain"
)

type carRepository struct{ s *Store }

func (r carRepository) Create(_ context.Context, car *domain.Car) error {
	return r.s.do(func(d *dataset) error {
		d.nextCarID++
		car.ID = d.nextCarID
		now := r.s.now()
		car.CreatedOn, car.UpdatedOn = now, now
		d.cars[car.ID] = *car
		return nil
	})
}

func (r carRepository) GetByID(_ context.Context, id int64) (*domain.Car, error) {
	var car domain.Car
	err := r.s.do(func(d *dataset) error {
		c, ok := d.cars[id]
		if !ok {
			return domain.ErrCarNotFound
		}
		car = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &car, nil
}

// GetByIDForUpdate needs no extra locking: a transaction already holds the
// store mutex.
func (r carRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Car, error) {
	return r.GetByID(ctx, id)
}

func (r carRepository) UpdateInventory(_ context.Context, id int64, inventory int) error {
	return r.s.do(func(d *dataset) error {
		c, ok := d.cars[id]
		if !ok {
			return domain.ErrCarNotFound
		}
		if inventory < 0 {
			return domain.ErrInsufficientInventory
		}
		c.Inventory = inventory
		c.UpdatedOn = r.s.now()
		d.cars[id] = c
		return nil
	})
}

type rentalRepository struct{ s *Store }

func (r rentalRepository) Create(_ context.Context, rt *domain.Rental) error {
	return r.s.do(func(d *dataset) error {
		if _, ok := d.cars[rt.CarID]; !ok {
			return domain.ErrCarNotFound
		}
		d.nextRentalID++
		rt.ID = d.nextRentalID
		now := r.s.now()
		rt.CreatedOn, rt.UpdatedOn = now, now
		d.rentals[rt.ID] = *rt
		return nil
	})
}

func (r rentalRepository) GetByID(_ context.Context, id int64) (*domain.Rental, error) {
	var rt domain.Rental
	err := r.s.do(func(d *dataset) error {
		v, ok := d.rentals[id]
		if !ok {
			return domain.ErrRentalNotFound
		}
		rt = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r rentalRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Rental, error) {
	return r.GetByID(ctx, id)
}

func (r rentalRepository) MarkReturned(_ context.Context, id int64, actual time.Time) error {
	return r.s.do(func(d *dataset) error {
		rt, ok := d.rentals[id]
		if !ok {
			return domain.ErrRentalNotFound
		}
		if err := rt.MarkReturned(actual); err != nil {
			return err
		}
		rt.UpdatedOn = r.s.now()
		d.rentals[id] = rt
		return nil
	})
}

func (r rentalRepository) ListByUser(_ context.Context, userID int64, activeOnly bool) ([]domain.Rental, error) {
	var out []domain.Rental
	err := r.s.do(func(d *dataset) error {
		for _, rt := range d.rentals {
			if rt.UserID != userID || (activeOnly && rt.IsReturned()) {
				continue
			}
			out = append(out, rt)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

func (r rentalRepository) ListOverdue(_ context.Context, today time.Time, limit int) ([]domain.Rental, error) {
	var out []domain.Rental
	err := r.s.do(func(d *dataset) error {
		for _, rt := range d.rentals {
			if !rt.IsReturned() && rt.ReturnDate.Before(today) {
				out = append(out, rt)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReturnDate.Equal(out[j].ReturnDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReturnDate.Before(out[j].ReturnDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type paymentRepository struct{ s *Store }

func (r paymentRepository) find(d *dataset, match func(domain.Payment) bool) (domain.Payment, bool) {
	for _, p := range d.payments {
		if match(p) {
			return p, true
		}
	}
	return domain.Payment{}, false
}

func (r paymentRepository) GetByRentalAndType(_ context.Context, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error) {
	return r.get(func(p domain.Payment) bool { return p.RentalID == rentalID && p.Type == paymentType })
}

func (r paymentRepository) GetBySessionID(_ context.Context, sessionID string) (*domain.Payment, error) {
	return r.get(func(p domain.Payment) bool { return p.SessionID == sessionID })
}

func (r paymentRepository) GetBySessionIDForUpdate(ctx context.Context, sessionID string) (*domain.Payment, error) {
	return r.GetBySessionID(ctx, sessionID)
}

func (r paymentRepository) get(match func(domain.Payment) bool) (*domain.Payment, error) {
	var found domain.Payment
	err := r.s.do(func(d *dataset) error {
		p, ok := r.find(d, match)
		if !ok {
			return domain.ErrPaymentNotFound
		}
		found = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r paymentRepository) ListByRental(_ context.Context, rentalID int64) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.s.do(func(d *dataset) error {
		for _, p := range d.payments {
			if p.RentalID == rentalID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r paymentRepository) ExistsPendingForUser(_ context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.s.do(func(d *dataset) error {
		for _, p := range d.payments {
			if p.Status == domain.PaymentStatusPending && d.rentals[p.RentalID].UserID == userID {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (r paymentRepository) UpsertPending(_ context.Context, p *domain.Payment) (bool, error) {
	return r.upsert(p, domain.PaymentStatusPending)
}

func (r paymentRepository) UpsertPaid(_ context.Context, p *domain.Payment) (bool, error) {
	return r.upsert(p, domain.PaymentStatusPaid)
}

// upsert mirrors INSERT ... ON CONFLICT (rental_id, type) DO UPDATE WHERE;
// an existing row is replaced only if it may move to status.
func (r paymentRepository) upsert(p *domain.Payment, status domain.PaymentStatus) (bool, error) {
	written := false
	err := r.s.do(func(d *dataset) error {
		if _, ok := d.rentals[p.RentalID]; !ok {
			return domain.ErrRentalNotFound
		}
		now := r.s.now()
		existing, ok := r.find(d, func(e domain.Payment) bool { return e.RentalID == p.RentalID && e.Type == p.Type })
		if other, taken := r.find(d, func(e domain.Payment) bool { return e.SessionID == p.SessionID }); taken && (!ok || other.ID != existing.ID) {
			return domain.ErrConcurrentUpdate
		}

		if ok {
			if !existing.CanTransitionTo(status) {
				return nil
			}
			p.ID, p.CreatedOn = existing.ID, existing.CreatedOn
		} else {
			d.nextPaymentID++
			p.ID, p.CreatedOn = d.nextPaymentID, now
		}
		p.Status, p.UpdatedOn = status, now
		d.payments[p.ID] = *p
		written = true
		return nil
	})
	return written, err
}

func (r paymentRepository) MarkPaid(_ context.Context, id int64) (bool, error) {
	return r.compareAndSet(id, domain.PaymentStatusPaid)
}

func (r paymentRepository) MarkExpired(_ context.Context, id int64) (bool, error) {
	return r.compareAndSet(id, domain.PaymentStatusExpired)
}

func (r paymentRepository) compareAndSet(id int64, status domain.PaymentStatus) (bool, error) {
	written := false
	err := r.s.do(func(d *dataset) error {
		p, ok := d.payments[id]
		if !ok || !p.CanTransitionTo(status) {
			return nil
		}
		p.Status, p.UpdatedOn = status, r.s.now()
		d.payments[id] = p
		written = true
		return nil
	})
	return written, err
}

func (r paymentRepository) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.s.do(func(d *dataset) error {
		for _, p := range d.payments {
			if p.Status == domain.PaymentStatusPending && p.UpdatedOn.Before(cutoff) {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedOn.Before(out[j].UpdatedOn) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type userRepository struct{ s *Store }

func (r userRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.s.do(func(d *dataset) error {
		v, ok := d.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		u = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

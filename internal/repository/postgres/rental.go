package postgres

import (
	"context"
	"database/sql"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

const rentalColumns = `id, user_id, car_id, rental_date, return_date, actual_return_date, created_on, updated_on`

type rentalRepository struct {
	db DBTX
}

func NewRentalRepository(db DBTX) repository.RentalRepository {
	return &rentalRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRental(row rowScanner) (*domain.Rental, error) {
	rt := &domain.Rental{}
	var actual sql.NullTime
	if err := row.Scan(&rt.ID, &rt.UserID, &rt.CarID, &rt.RentalDate, &rt.ReturnDate, &actual, &rt.CreatedOn, &rt.UpdatedOn); err != nil {
		return nil, err
	}
	if actual.Valid {
		t := actual.Time
		rt.ActualReturnDate = &t
	}
	return rt, nil
}

func (r *rentalRepository) Create(ctx context.Context, rt *domain.Rental) error {
	query := `INSERT INTO rentals (user_id, car_id, rental_date, return_date, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	now := time.Now().UTC()
	logger.DatabaseCall("rentals.create", query, "user_id", rt.UserID, "car_id", rt.CarID)
	if err := r.db.QueryRowContext(ctx, query, rt.UserID, rt.CarID, rt.RentalDate, rt.ReturnDate, now, now).Scan(&rt.ID); err != nil {
		logger.DatabaseResult("rentals.create", 0, err)
		return mapError(err)
	}
	rt.CreatedOn, rt.UpdatedOn = now, now
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int64) (*domain.Rental, error) {
	return r.get(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = $1`, id)
}

func (r *rentalRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Rental, error) {
	return r.get(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = $1 FOR UPDATE`, id)
}

func (r *rentalRepository) get(ctx context.Context, query string, id int64) (*domain.Rental, error) {
	logger.DatabaseCall("rentals.get", query, "rental_id", id)
	rt, err := scanRental(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, domain.ErrRentalNotFound)
	}
	return rt, nil
}

func (r *rentalRepository) MarkReturned(ctx context.Context, id int64, actual time.Time) error {
	query := `UPDATE rentals SET actual_return_date = $1, updated_on = $2 WHERE id = $3 AND actual_return_date IS NULL`
	logger.DatabaseCall("rentals.mark_returned", query, "rental_id", id)
	res, err := r.db.ExecContext(ctx, query, actual, time.Now().UTC(), id)
	if err != nil {
		logger.DatabaseResult("rentals.mark_returned", 0, err)
		return mapError(err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("rentals.mark_returned", n, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyReturned
	}
	return nil
}

func (r *rentalRepository) ListByUser(ctx context.Context, userID int64, activeOnly bool) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE user_id = $1`
	if activeOnly {
		query += ` AND actual_return_date IS NULL`
	}
	query += ` ORDER BY created_on DESC`
	return r.list(ctx, "rentals.list_by_user", query, userID)
}

func (r *rentalRepository) ListOverdue(ctx context.Context, today time.Time, limit int) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals
	          WHERE actual_return_date IS NULL AND return_date < $1
	          ORDER BY return_date, id LIMIT $2`
	return r.list(ctx, "rentals.list_overdue", query, today, limit)
}

func (r *rentalRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Rental, error) {
	logger.DatabaseCall(op, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult(op, 0, err)
		return nil, mapError(err)
	}
	defer rows.Close()

	var rentals []domain.Rental
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, *rt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.DatabaseResult(op, int64(len(rentals)), nil)
	return rentals, nil
}

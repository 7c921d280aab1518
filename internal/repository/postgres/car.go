package postgres

import (
	"context"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

const carColumns = `id, brand, model, inventory, daily_fee, deleted, created_on, updated_on`

type carRepository struct {
	db DBTX
}

func NewCarRepository(db DBTX) repository.CarRepository {
	return &carRepository{db: db}
}

func (r *carRepository) Create(ctx context.Context, car *domain.Car) error {
	query := `INSERT INTO cars (brand, model, inventory, daily_fee, deleted, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query, car.Brand, car.Model, car.Inventory, car.DailyFee, car.Deleted, now, now).Scan(&car.ID)
	if err != nil {
		return mapError(err)
	}
	car.CreatedOn, car.UpdatedOn = now, now
	return nil
}

func (r *carRepository) GetByID(ctx context.Context, id int64) (*domain.Car, error) {
	return r.get(ctx, `SELECT `+carColumns+` FROM cars WHERE id = $1`, id)
}

func (r *carRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Car, error) {
	return r.get(ctx, `SELECT `+carColumns+` FROM cars WHERE id = $1 FOR UPDATE`, id)
}

func (r *carRepository) get(ctx context.Context, query string, id int64) (*domain.Car, error) {
	logger.DatabaseCall("cars.get", query, "car_id", id)
	car := &domain.Car{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&car.ID, &car.Brand, &car.Model, &car.Inventory, &car.DailyFee, &car.Deleted, &car.CreatedOn, &car.UpdatedOn)
	if err != nil {
		return nil, notFound(err, domain.ErrCarNotFound)
	}
	return car, nil
}

func (r *carRepository) UpdateInventory(ctx context.Context, id int64, inventory int) error {
	query := `UPDATE cars SET inventory = $1, updated_on = $2 WHERE id = $3`
	logger.DatabaseCall("cars.update_inventory", query, "car_id", id, "inventory", inventory)
	res, err := r.db.ExecContext(ctx, query, inventory, time.Now().UTC(), id)
	if err != nil {
		logger.DatabaseResult("cars.update_inventory", 0, err)
		return mapError(err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("cars.update_inventory", n, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCarNotFound
	}
	return nil
}

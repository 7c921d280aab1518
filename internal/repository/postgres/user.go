package postgres

import (
	"context"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/repository"
)

type userRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u := &domain.User{}
	var createdOn time.Time
	query := `SELECT id, email, name, role, created_on FROM users WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &createdOn)
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	u.CreatedOn = createdOn.Format("2006-01-02")
	return u, nil
}

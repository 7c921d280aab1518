package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

const paymentColumns = `id, rental_id, type, status, session_id, session_url, amount_to_pay, created_on, updated_on`

type paymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := row.Scan(&p.ID, &p.RentalID, &p.Type, &p.Status, &p.SessionID, &p.SessionURL, &p.AmountToPay, &p.CreatedOn, &p.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *paymentRepository) GetByRentalAndType(ctx context.Context, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE rental_id = $1 AND type = $2`
	logger.DatabaseCall("payments.get_by_rental_and_type", query, "rental_id", rentalID, "type", paymentType)
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, rentalID, paymentType))
	if err != nil {
		return nil, notFound(err, domain.ErrPaymentNotFound)
	}
	return p, nil
}

func (r *paymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	return r.getBySession(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID)
}

func (r *paymentRepository) GetBySessionIDForUpdate(ctx context.Context, sessionID string) (*domain.Payment, error) {
	return r.getBySession(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1 FOR UPDATE`, sessionID)
}

func (r *paymentRepository) getBySession(ctx context.Context, query, sessionID string) (*domain.Payment, error) {
	logger.DatabaseCall("payments.get_by_session", query, "session_id", sessionID)
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return nil, notFound(err, domain.ErrPaymentNotFound)
	}
	return p, nil
}

func (r *paymentRepository) ListByRental(ctx context.Context, rentalID int64) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE rental_id = $1 ORDER BY id`
	return r.list(ctx, "payments.list_by_rental", query, rentalID)
}

func (r *paymentRepository) ExistsPendingForUser(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT EXISTS (
	              SELECT 1 FROM payments p JOIN rentals r ON r.id = p.rental_id
	              WHERE r.user_id = $1 AND p.status = $2)`
	logger.DatabaseCall("payments.exists_pending_for_user", query, "user_id", userID)
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, domain.PaymentStatusPending).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (r *paymentRepository) UpsertPending(ctx context.Context, p *domain.Payment) (bool, error) {
	query := `INSERT INTO payments (rental_id, type, status, session_id, session_url, amount_to_pay, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	          ON CONFLICT (rental_id, type) DO UPDATE
	          SET status = EXCLUDED.status, session_id = EXCLUDED.session_id, session_url = EXCLUDED.session_url,
	              amount_to_pay = EXCLUDED.amount_to_pay, updated_on = EXCLUDED.updated_on
	          WHERE payments.status = 'EXPIRED'
	          RETURNING id, created_on`
	return r.upsert(ctx, "payments.upsert_pending", query, p, domain.PaymentStatusPending)
}

func (r *paymentRepository) UpsertPaid(ctx context.Context, p *domain.Payment) (bool, error) {
	query := `INSERT INTO payments (rental_id, type, status, session_id, session_url, amount_to_pay, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	          ON CONFLICT (rental_id, type) DO UPDATE
	          SET status = EXCLUDED.status, session_id = EXCLUDED.session_id, session_url = EXCLUDED.session_url,
	              amount_to_pay = EXCLUDED.amount_to_pay, updated_on = EXCLUDED.updated_on
	          WHERE payments.status <> 'PAID'
	          RETURNING id, created_on`
	return r.upsert(ctx, "payments.upsert_paid", query, p, domain.PaymentStatusPaid)
}

// upsert reports false when the conflict guard suppressed the write.
func (r *paymentRepository) upsert(ctx context.Context, op, query string, p *domain.Payment, status domain.PaymentStatus) (bool, error) {
	now := time.Now().UTC()
	logger.DatabaseCall(op, query, "rental_id", p.RentalID, "type", p.Type, "session_id", p.SessionID)
	err := r.db.QueryRowContext(ctx, query, p.RentalID, p.Type, status, p.SessionID, p.SessionURL, p.AmountToPay, now).Scan(&p.ID, &p.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		logger.DatabaseResult(op, 0, nil)
		return false, nil
	}
	if err != nil {
		logger.DatabaseResult(op, 0, err)
		return false, mapError(err)
	}
	p.Status = status
	p.UpdatedOn = now
	logger.DatabaseResult(op, 1, nil)
	return true, nil
}

func (r *paymentRepository) MarkPaid(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE payments SET status = $1, updated_on = $2 WHERE id = $3 AND status <> $1`
	return r.compareAndSet(ctx, "payments.mark_paid", query, domain.PaymentStatusPaid, id)
}

func (r *paymentRepository) MarkExpired(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE payments SET status = $1, updated_on = $2 WHERE id = $3 AND status = $4`
	return r.compareAndSet(ctx, "payments.mark_expired", query, domain.PaymentStatusExpired, id, domain.PaymentStatusPending)
}

func (r *paymentRepository) compareAndSet(ctx context.Context, op, query string, status domain.PaymentStatus, id int64, extra ...any) (bool, error) {
	args := append([]any{status, time.Now().UTC(), id}, extra...)
	logger.DatabaseCall(op, query, "payment_id", id)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult(op, 0, err)
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult(op, n, err)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *paymentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE status = $1 AND updated_on < $2
	          ORDER BY updated_on, id LIMIT $3`
	return r.list(ctx, "payments.list_pending_older_than", query, domain.PaymentStatusPending, cutoff, limit)
}

func (r *paymentRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Payment, error) {
	logger.DatabaseCall(op, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult(op, 0, err)
		return nil, mapError(err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.DatabaseResult(op, int64(len(payments)), nil)
	return payments, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

const paymentColumns = `id, enrollment_id, tenant_id, due_date, amount, status, paid_at, payment_method_id, notes, created_at, updated_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PaymentRepository handles persistence of billing-cycle payments.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	var payment models.Payment
	if err := conn(ctx, r.db).GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByIDForUpdate loads a payment and locks its row for the surrounding transaction.
func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	var payment models.Payment
	if err := conn(ctx, r.db).GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByCycle returns the payment for an (enrollment, due date) cycle.
func (r *PaymentRepository) FindByCycle(ctx context.Context, enrollmentID string, dueDate calendar.Date) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE enrollment_id = $1 AND due_date = $2`
	var payment models.Payment
	if err := conn(ctx, r.db).GetContext(ctx, &payment, query, enrollmentID, dueDate); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreateIfAbsent inserts the payment unless one already exists for its cycle.
// It reports false, without error, when the (enrollment_id, due_date) key is taken,
// including when a concurrent transaction won the insert.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	const query = `INSERT INTO payments (id, enrollment_id, tenant_id, due_date, amount, status, paid_at, payment_method_id, notes, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (enrollment_id, due_date) DO NOTHING`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		payment.ID, payment.EnrollmentID, payment.TenantID, payment.DueDate, payment.Amount, payment.Status,
		payment.PaidAt, payment.PaymentMethodID, payment.Notes, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create payment: %w", err)
	}
	return affected > 0, nil
}

// Confirm marks a payment as confirmed.
func (r *PaymentRepository) Confirm(ctx context.Context, params models.ConfirmPaymentParams) error {
	const query = `UPDATE payments
        SET status = $2, paid_at = $3, payment_method_id = $4, notes = COALESCE($5, notes), updated_at = NOW()
        WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query,
		params.PaymentID, models.PaymentStatusConfirmed, params.PaidAt, params.PaymentMethodID, params.Notes); err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	return nil
}

// MarkOverdue flags PENDING payments due before today as LATE and returns them.
func (r *PaymentRepository) MarkOverdue(ctx context.Context, today calendar.Date, tenantID string, limit int) ([]models.Payment, error) {
	query := `UPDATE payments SET status = $1, updated_at = NOW()
        WHERE id IN (
            SELECT id FROM payments WHERE status = $2 AND due_date < $3`
	args := []interface{}{models.PaymentStatusLate, models.PaymentStatusPending, today}
	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args)+1)
		args = append(args, tenantID)
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	query += " FOR UPDATE SKIP LOCKED)\n        RETURNING " + paymentColumns

	var payments []models.Payment
	if err := conn(ctx, r.db).SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("mark overdue payments: %w", err)
	}
	return payments, nil
}

// ListByEnrollment returns payments of an enrollment, newest cycle first.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE enrollment_id = $1 ORDER BY due_date DESC`
	var payments []models.Payment
	if err := conn(ctx, r.db).SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

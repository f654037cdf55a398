package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academia-billing-api/internal/models"
)

// BillingEventRepository stores the billing audit trail.
type BillingEventRepository struct {
	db *sqlx.DB
}

// NewBillingEventRepository constructs the repository.
func NewBillingEventRepository(db *sqlx.DB) *BillingEventRepository {
	return &BillingEventRepository{db: db}
}

// Create stores a billing event, joining the transaction bound to ctx if any.
func (r *BillingEventRepository) Create(ctx context.Context, event *models.BillingEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = []byte("{}")
	}
	// details goes over the wire as text; lib/pq would send []byte as bytea.
	const query = `INSERT INTO billing_events (id, tenant_id, enrollment_id, payment_id, event, details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query,
		event.ID, event.TenantID, event.EnrollmentID, event.PaymentID, event.Event, string(event.Details), event.CreatedAt); err != nil {
		return fmt.Errorf("create billing event: %w", err)
	}
	return nil
}

// ListByEnrollment returns the newest events of an enrollment first.
func (r *BillingEventRepository) ListByEnrollment(ctx context.Context, enrollmentID string, limit int) ([]models.BillingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id, tenant_id, enrollment_id, payment_id, event, details, created_at
        FROM billing_events WHERE enrollment_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var events []models.BillingEvent
	if err := conn(ctx, r.db).SelectContext(ctx, &events, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	return events, nil
}

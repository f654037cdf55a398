package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academia-billing-api/internal/models"
)

const planColumns = `id, tenant_id, name, amount, duration_days, is_trial, is_default_paid, active`

// PlanRepository reads the tenant plan catalog.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindByID returns a plan by its ID.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	var plan models.Plan
	if err := conn(ctx, r.db).GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindDefaultPaid returns the tenant's active paid plan used as migration target.
func (r *PlanRepository) FindDefaultPaid(ctx context.Context, tenantID string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans
        WHERE tenant_id = $1 AND is_default_paid = TRUE AND is_trial = FALSE AND active = TRUE
        ORDER BY id LIMIT 1`
	var plan models.Plan
	if err := conn(ctx, r.db).GetContext(ctx, &plan, query, tenantID); err != nil {
		return nil, err
	}
	return &plan, nil
}

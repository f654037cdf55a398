package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/models"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

// PlanCatalog resolves plans for migration and payment confirmation.
type PlanCatalog interface {
	PaidPlanFor(ctx context.Context, tenantID string) (*models.Plan, error)
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type planRepository interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	FindDefaultPaid(ctx context.Context, tenantID string) (*models.Plan, error)
}

// CachedPlanCatalog reads plans from the database through the Redis cache.
type CachedPlanCatalog struct {
	repo   planRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedPlanCatalog constructs the catalog. A nil cache reads straight through.
func NewCachedPlanCatalog(repo planRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CachedPlanCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedPlanCatalog{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// PaidPlanFor returns the tenant's default paid plan, the migration target for lapsed trials.
func (c *CachedPlanCatalog) PaidPlanFor(ctx context.Context, tenantID string) (*models.Plan, error) {
	if tenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant is required to resolve a paid plan")
	}
	key := defaultPaidPlanCacheKey(tenantID)
	var cached models.Plan
	if c.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	plan, err := c.repo.FindDefaultPaid(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "tenant has no default paid plan")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load paid plan")
	}
	if err := validatePaidPlan(plan); err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, plan, c.ttl)
	return plan, nil
}

// FindByID returns a plan by id. Unknown plans are a validation failure.
func (c *CachedPlanCatalog) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	key := planCacheKey(id)
	var cached models.Plan
	if c.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	plan, err := c.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown plan "+id)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load plan")
	}
	c.cache.Set(ctx, key, plan, c.ttl)
	return plan, nil
}

func validatePaidPlan(plan *models.Plan) error {
	if plan.IsTrial || !plan.Active {
		return appErrors.Clone(appErrors.ErrValidation, "default paid plan "+plan.ID+" is not an active paid plan")
	}
	if plan.DurationDays <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "plan "+plan.ID+" has no duration")
	}
	return nil
}

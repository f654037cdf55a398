package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

type migrationRepository interface {
	ApplyMigration(ctx context.Context, params models.MigrationParams) (bool, error)
}

// MigrationResult is the outcome of a trial expiry check.
type MigrationResult struct {
	Migrated        bool
	Enrollment      *models.Enrollment
	FromPlanID      string
	ToPlanID        string
	PreviousDueDate calendar.Date
}

// PlanMigrator moves lapsed trial enrollments to the tenant's paid plan.
type PlanMigrator struct {
	enrollments migrationRepository
	catalog     PlanCatalog
	events      billingEventWriter
	logger      *zap.Logger
}

// NewPlanMigrator constructs PlanMigrator.
func NewPlanMigrator(enrollments migrationRepository, catalog PlanCatalog, events billingEventWriter, logger *zap.Logger) *PlanMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanMigrator{enrollments: enrollments, catalog: catalog, events: events, logger: logger}
}

// MigrateIfExpired switches a trial whose access lapsed on today to the paid
// plan. Plan, amount, trial flag and next due date (old due + paid duration)
// change together. Non-trial or still-covered enrollments are returned as is.
func (m *PlanMigrator) MigrateIfExpired(ctx context.Context, enrollment *models.Enrollment, today calendar.Date) (*MigrationResult, error) {
	if !ShouldMigrate(enrollment, today) {
		return &MigrationResult{Enrollment: enrollment}, nil
	}

	plan, err := m.catalog.PaidPlanFor(ctx, enrollment.TenantID)
	if err != nil {
		return nil, err
	}
	if plan.DurationDays <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan "+plan.ID+" has no duration")
	}

	params := models.MigrationParams{
		EnrollmentID: enrollment.ID,
		PlanID:       plan.ID,
		Amount:       plan.Amount,
		NextDueDate:  enrollment.NextDueDate.AddDays(plan.DurationDays),
	}
	applied, err := m.enrollments.ApplyMigration(ctx, params)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to migrate enrollment")
	}
	if !applied {
		m.logger.Debug("enrollment no longer a trial", zap.String("enrollment_id", enrollment.ID))
		return &MigrationResult{Enrollment: enrollment}, nil
	}

	migrated := *enrollment
	migrated.PlanID = plan.ID
	migrated.Amount = plan.Amount
	migrated.IsTrial = false
	migrated.NextDueDate = params.NextDueDate

	if err := recordEvent(ctx, m.events, &migrated, nil, models.BillingEventPlanMigrated, map[string]interface{}{
		"from_plan_id":      enrollment.PlanID,
		"to_plan_id":        plan.ID,
		"amount":            plan.Amount.StringFixed(2),
		"previous_due_date": enrollment.NextDueDate.String(),
		"next_due_date":     params.NextDueDate.String(),
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record migration event")
	}

	return &MigrationResult{
		Migrated:        true,
		Enrollment:      &migrated,
		FromPlanID:      enrollment.PlanID,
		ToPlanID:        plan.ID,
		PreviousDueDate: enrollment.NextDueDate,
	}, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

type chargeRepository interface {
	FindByCycle(ctx context.Context, enrollmentID string, dueDate calendar.Date) (*models.Payment, error)
	CreateIfAbsent(ctx context.Context, payment *models.Payment) (bool, error)
}

// ChargeResult is the outcome of one charge generation attempt.
type ChargeResult struct {
	Payment *models.Payment
	Created bool
}

// ChargeGenerator ensures exactly one payment exists per (enrollment, next due date).
type ChargeGenerator struct {
	payments chargeRepository
	events   billingEventWriter
	logger   *zap.Logger
}

// NewChargeGenerator constructs ChargeGenerator.
func NewChargeGenerator(payments chargeRepository, events billingEventWriter, logger *zap.Logger) *ChargeGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChargeGenerator{payments: payments, events: events, logger: logger}
}

// Generate creates the PENDING payment for the enrollment's current next due
// date unless it already exists. The enrollment is never modified. Losing an
// insert race to a concurrent run is reported as Created=false.
func (g *ChargeGenerator) Generate(ctx context.Context, enrollment *models.Enrollment, today calendar.Date) (*ChargeResult, error) {
	if !BillingStarted(enrollment, today) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "billing not started")
	}
	if enrollment.NextDueDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment has no next due date")
	}

	existing, err := g.payments.FindByCycle(ctx, enrollment.ID, enrollment.NextDueDate)
	if err == nil {
		return &ChargeResult{Payment: existing}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to look up cycle payment")
	}

	payment := &models.Payment{
		EnrollmentID: enrollment.ID,
		TenantID:     enrollment.TenantID,
		DueDate:      enrollment.NextDueDate,
		Amount:       enrollment.Amount,
		Status:       models.PaymentStatusPending,
	}
	created, err := g.payments.CreateIfAbsent(ctx, payment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create cycle payment")
	}
	if !created {
		g.logger.Debug("cycle payment already created concurrently",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("due_date", enrollment.NextDueDate.String()))
		return &ChargeResult{}, nil
	}

	if err := recordEvent(ctx, g.events, enrollment, &payment.ID, models.BillingEventChargeGenerated, map[string]interface{}{
		"due_date": payment.DueDate.String(),
		"amount":   payment.Amount.StringFixed(2),
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record charge event")
	}
	return &ChargeResult{Payment: payment, Created: true}, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

type confirmPaymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.Payment, error)
	Confirm(ctx context.Context, params models.ConfirmPaymentParams) error
}

type confirmEnrollmentRepository interface {
	FindByIDForUpdate(ctx context.Context, id string) (*models.Enrollment, error)
	UpdateNextDueDate(ctx context.Context, id string, due calendar.Date) error
}

// PaymentService confirms payments and renews the access window they pay for.
type PaymentService struct {
	tx          txRunner
	payments    confirmPaymentRepository
	enrollments confirmEnrollmentRepository
	catalog     PlanCatalog
	charges     *ChargeGenerator
	events      billingEventWriter
	cache       *CacheService
	metrics     *MetricsService
	clock       calendar.Clock
	loc         *time.Location
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(
	tx txRunner,
	payments confirmPaymentRepository,
	enrollments confirmEnrollmentRepository,
	catalog PlanCatalog,
	charges *ChargeGenerator,
	events billingEventWriter,
	cacheSvc *CacheService,
	metrics *MetricsService,
	clock calendar.Clock,
	loc *time.Location,
	validate *validator.Validate,
	logger *zap.Logger,
) *PaymentService {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		tx:          tx,
		payments:    payments,
		enrollments: enrollments,
		catalog:     catalog,
		charges:     charges,
		events:      events,
		cache:       cacheSvc,
		metrics:     metrics,
		clock:       clock,
		loc:         loc,
		validator:   validate,
		logger:      logger,
	}
}

// ConfirmPayment marks a PENDING or LATE payment as paid, moves the enrollment's
// next due date to the payment's due date plus the plan duration and generates
// the charge for the new cycle, all in one transaction. The next due date never
// moves backward.
func (s *PaymentService) ConfirmPayment(ctx context.Context, req dto.ConfirmPaymentRequest) (*dto.ConfirmationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment confirmation payload")
	}
	paidAt, err := calendar.Parse(req.PaidAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid paid_at")
	}
	today := calendar.Today(s.clock, s.loc)

	var result *dto.ConfirmationResult
	err = s.tx.RunInTx(ctx, repository.TxOptions{}, func(ctx context.Context) error {
		// Unlocked read to find the enrollment, then lock the enrollment and then the
		// payment, the same order the billing run takes.
		unlocked, err := s.payments.FindByID(ctx, req.PaymentID)
		if err != nil {
			return paymentLookupError(err)
		}
		if req.TenantID != "" && unlocked.TenantID != req.TenantID {
			return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		enrollment, err := s.enrollments.FindByIDForUpdate(ctx, unlocked.EnrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to lock enrollment")
		}
		payment, err := s.payments.FindByIDForUpdate(ctx, req.PaymentID)
		if err != nil {
			return paymentLookupError(err)
		}
		if !payment.Status.Outstanding() {
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("payment is already %s", payment.Status))
		}

		params := models.ConfirmPaymentParams{
			PaymentID:       payment.ID,
			PaidAt:          paidAt,
			PaymentMethodID: req.PaymentMethodID,
			Notes:           req.Notes,
		}
		if err := s.payments.Confirm(ctx, params); err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to confirm payment")
		}
		payment.Status = models.PaymentStatusConfirmed
		payment.PaidAt = &paidAt
		payment.PaymentMethodID = req.PaymentMethodID
		if req.Notes != nil {
			payment.Notes = *req.Notes
		}

		plan, err := s.catalog.FindByID(ctx, enrollment.PlanID)
		if err != nil {
			return err
		}
		previousDue := enrollment.NextDueDate
		nextDue := NextCycleDue(payment.DueDate, plan.DurationDays)
		if nextDue.After(enrollment.NextDueDate) {
			if err := s.enrollments.UpdateNextDueDate(ctx, enrollment.ID, nextDue); err != nil {
				return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to renew enrollment")
			}
			enrollment.NextDueDate = nextDue
		}

		result = &dto.ConfirmationResult{Payment: *payment, Enrollment: *enrollment}
		if BillingStarted(enrollment, today) {
			charge, err := s.charges.Generate(ctx, enrollment, today)
			if err != nil {
				return err
			}
			result.NextCharge = charge.Payment
		}

		if err := recordEvent(ctx, s.events, enrollment, &payment.ID, models.BillingEventPaymentConfirmed, map[string]interface{}{
			"paid_at":           paidAt.String(),
			"due_date":          payment.DueDate.String(),
			"previous_due_date": previousDue.String(),
			"next_due_date":     enrollment.NextDueDate.String(),
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record confirmation event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPaymentConfirmed()
	s.cache.InvalidateUpcoming(ctx)
	s.logger.Info("payment confirmed",
		zap.String("payment_id", result.Payment.ID),
		zap.String("enrollment_id", result.Enrollment.ID),
		zap.String("next_due_date", result.Enrollment.NextDueDate.String()))
	return result, nil
}

func paymentLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
	}
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load payment")
}

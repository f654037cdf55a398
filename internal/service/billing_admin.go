package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

// MaxUpcomingDays bounds the upcoming-billing horizon.
const MaxUpcomingDays = 365

// ListUpcomingBilling returns enrollments of the tenant whose next due date
// falls within the next days days, today included, soonest first. An empty
// tenant lists every tenant.
func (s *BillingService) ListUpcomingBilling(ctx context.Context, tenantID string, days int) ([]models.EnrollmentDetail, error) {
	if days < 1 || days > MaxUpcomingDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("days must be between 1 and %d", MaxUpcomingDays))
	}

	today := s.Today()
	key := upcomingCacheKey(tenantID, today, days)
	var cached []models.EnrollmentDetail
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	details, err := s.enrollments.ListUpcoming(ctx, models.UpcomingFilter{TenantID: tenantID, From: today, To: today.AddDays(days)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list upcoming billing")
	}
	if details == nil {
		details = []models.EnrollmentDetail{}
	}
	for i := range details {
		details[i].HasAccess = HasAccess(&details[i].Enrollment, today)
		details[i].DaysUntilDue = details[i].NextDueDate.DaysSince(today)
	}

	s.cache.Set(ctx, key, details, s.opts.UpcomingCacheTTL)
	return details, nil
}

// CheckAccess answers whether the enrollment may check in today.
func (s *BillingService) CheckAccess(ctx context.Context, tenantID, enrollmentID string) (*dto.AccessCheck, error) {
	enrollment, err := s.loadEnrollment(ctx, tenantID, enrollmentID, false)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	return &dto.AccessCheck{
		EnrollmentID: enrollment.ID,
		HasAccess:    HasAccess(enrollment, today),
		NextDueDate:  enrollment.NextDueDate,
		Today:        today,
	}, nil
}

// SetNextDueDate overrides the access boundary of an enrollment.
func (s *BillingService) SetNextDueDate(ctx context.Context, tenantID, enrollmentID string, req dto.SetNextDueDateRequest) (*models.Enrollment, error) {
	due, err := calendar.Parse(req.NextDueDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid next due date")
	}

	var updated *models.Enrollment
	err = s.tx.RunInTx(ctx, repository.TxOptions{}, func(ctx context.Context) error {
		enrollment, err := s.loadEnrollment(ctx, tenantID, enrollmentID, true)
		if err != nil {
			return err
		}
		previous := enrollment.NextDueDate
		if err := s.enrollments.UpdateNextDueDate(ctx, enrollment.ID, due); err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update next due date")
		}
		enrollment.NextDueDate = due
		if err := recordEvent(ctx, s.events, enrollment, nil, models.BillingEventDueDateOverridden, map[string]interface{}{
			"previous_due_date": previous.String(),
			"next_due_date":     due.String(),
			"reason":            req.Reason,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record override event")
		}
		updated = enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateUpcoming(ctx)
	s.logger.Info("next due date overridden",
		zap.String("enrollment_id", updated.ID),
		zap.String("next_due_date", due.String()))
	return updated, nil
}

// ListEnrollmentEvents returns the billing history of an enrollment, newest first.
func (s *BillingService) ListEnrollmentEvents(ctx context.Context, tenantID, enrollmentID string, limit int) ([]models.BillingEvent, error) {
	if _, err := s.loadEnrollment(ctx, tenantID, enrollmentID, false); err != nil {
		return nil, err
	}
	events, err := s.history.ListByEnrollment(ctx, enrollmentID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list billing events")
	}
	if events == nil {
		events = []models.BillingEvent{}
	}
	return events, nil
}

// loadEnrollment reads an enrollment visible to tenantID. An empty tenant
// (superadmin) sees every tenant.
func (s *BillingService) loadEnrollment(ctx context.Context, tenantID, id string, forUpdate bool) (*models.Enrollment, error) {
	var (
		enrollment *models.Enrollment
		err        error
	)
	if forUpdate {
		enrollment, err = s.enrollments.FindByIDForUpdate(ctx, id)
	} else {
		enrollment, err = s.enrollments.FindByID(ctx, id)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load enrollment")
	}
	if tenantID != "" && enrollment.TenantID != tenantID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return enrollment, nil
}

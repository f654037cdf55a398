package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

type reconcileEnrollmentRepository interface {
	FindByIDForUpdate(ctx context.Context, id string) (*models.Enrollment, error)
	ListReconcileCandidateIDs(ctx context.Context, filter models.ReconcileFilter) ([]string, error)
	UpdateStatus(ctx context.Context, id string, from, to models.EnrollmentStatus) (bool, error)
}

type overduePaymentRepository interface {
	MarkOverdue(ctx context.Context, today calendar.Date, tenantID string, limit int) ([]models.Payment, error)
}

// ReconcileOptions scopes one reconciliation run.
type ReconcileOptions struct {
	Today    calendar.Date
	TenantID string
	Limit    int
}

// ReconciliationService realigns enrollment status labels with their access
// windows and flags overdue payments.
type ReconciliationService struct {
	tx          txRunner
	enrollments reconcileEnrollmentRepository
	payments    overduePaymentRepository
	events      billingEventWriter
	cache       *CacheService
	metrics     *MetricsService
	clock       calendar.Clock
	loc         *time.Location
	logger      *zap.Logger
}

// NewReconciliationService constructs ReconciliationService.
func NewReconciliationService(
	tx txRunner,
	enrollments reconcileEnrollmentRepository,
	payments overduePaymentRepository,
	events billingEventWriter,
	cacheSvc *CacheService,
	metrics *MetricsService,
	clock calendar.Clock,
	loc *time.Location,
	logger *zap.Logger,
) *ReconciliationService {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		tx:          tx,
		enrollments: enrollments,
		payments:    payments,
		events:      events,
		cache:       cacheSvc,
		metrics:     metrics,
		clock:       clock,
		loc:         loc,
		logger:      logger,
	}
}

// ReconcileStatuses flips ACTIVE/EXPIRED labels that disagree with today.
func (s *ReconciliationService) ReconcileStatuses(ctx context.Context, today calendar.Date) (*dto.ReconcileReport, error) {
	return s.ReconcileStatusesWithOptions(ctx, ReconcileOptions{Today: today})
}

// ReconcileStatusesWithOptions flips each mismatched enrollment in its own
// transaction, re-evaluated under the row lock, then marks PENDING payments
// past their due date as LATE. Running it twice on the same day is a no-op.
func (s *ReconciliationService) ReconcileStatusesWithOptions(ctx context.Context, opts ReconcileOptions) (report *dto.ReconcileReport, err error) {
	started := time.Now()
	if opts.Today.IsZero() {
		opts.Today = calendar.Today(s.clock, s.loc)
	}
	defer func() {
		s.metrics.ObserveJobRun(JobReconcileStatuses, false, time.Since(started), err)
	}()

	ids, err := s.enrollments.ListReconcileCandidateIDs(ctx, models.ReconcileFilter{Today: opts.Today, TenantID: opts.TenantID, Limit: opts.Limit})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list reconcile candidates")
	}

	report = &dto.ReconcileReport{
		Today:     opts.Today,
		Activated: []dto.StatusFlip{},
		Expired:   []dto.StatusFlip{},
		Overdue:   []dto.OverduePayment{},
		Errors:    []dto.BillingItemError{},
		StartedAt: started.UTC(),
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		report.Scanned++
		flip, err := s.reconcileEnrollment(ctx, id, opts.Today)
		if err != nil {
			report.Errors = append(report.Errors, itemError(id, err))
			s.logger.Warn("status reconciliation failed", zap.String("enrollment_id", id), zap.Error(err))
			continue
		}
		if flip == nil {
			continue
		}
		if flip.To == models.EnrollmentStatusActive {
			report.Activated = append(report.Activated, *flip)
		} else {
			report.Expired = append(report.Expired, *flip)
		}
	}

	if !report.Interrupted {
		overdue, err := s.markOverdue(ctx, opts)
		if err != nil {
			report.Errors = append(report.Errors, itemError("", err))
			s.logger.Warn("marking overdue payments failed", zap.Error(err))
		}
		report.Overdue = append(report.Overdue, overdue...)
	}
	report.FinishedAt = time.Now().UTC()

	s.metrics.AddJobItems(JobReconcileStatuses, false, "activated", len(report.Activated))
	s.metrics.AddJobItems(JobReconcileStatuses, false, "expired", len(report.Expired))
	s.metrics.AddJobItems(JobReconcileStatuses, false, "overdue", len(report.Overdue))
	s.metrics.AddJobItems(JobReconcileStatuses, false, "failed", len(report.Errors))

	if len(report.Activated)+len(report.Expired)+len(report.Overdue) > 0 {
		s.cache.InvalidateUpcoming(context.WithoutCancel(ctx))
	}

	s.logger.Info("status reconciliation finished",
		zap.String("today", opts.Today.String()),
		zap.Int("scanned", report.Scanned),
		zap.Int("activated", len(report.Activated)),
		zap.Int("expired", len(report.Expired)),
		zap.Int("overdue", len(report.Overdue)),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(started)))
	return report, nil
}

func (s *ReconciliationService) reconcileEnrollment(ctx context.Context, id string, today calendar.Date) (*dto.StatusFlip, error) {
	var flip *dto.StatusFlip
	err := s.tx.RunInTx(ctx, repository.TxOptions{}, func(ctx context.Context) error {
		enrollment, err := s.enrollments.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to lock enrollment")
		}
		target, changed := ReconciledStatus(enrollment, today)
		if !changed {
			return nil
		}
		updated, err := s.enrollments.UpdateStatus(ctx, id, enrollment.Status, target)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update enrollment status")
		}
		if !updated {
			return nil
		}
		if err := recordEvent(ctx, s.events, enrollment, nil, models.BillingEventStatusReconciled, map[string]interface{}{
			"from":          enrollment.Status,
			"to":            target,
			"next_due_date": enrollment.NextDueDate.String(),
			"today":         today.String(),
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record reconcile event")
		}
		flip = &dto.StatusFlip{EnrollmentID: id, From: enrollment.Status, To: target, NextDueDate: enrollment.NextDueDate}
		return nil
	})
	return flip, err
}

func (s *ReconciliationService) markOverdue(ctx context.Context, opts ReconcileOptions) ([]dto.OverduePayment, error) {
	var overdue []dto.OverduePayment
	err := s.tx.RunInTx(ctx, repository.TxOptions{}, func(ctx context.Context) error {
		payments, err := s.payments.MarkOverdue(ctx, opts.Today, opts.TenantID, opts.Limit)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to mark overdue payments")
		}
		overdue = make([]dto.OverduePayment, 0, len(payments))
		for i := range payments {
			p := payments[i]
			enrollment := &models.Enrollment{ID: p.EnrollmentID, TenantID: p.TenantID}
			if err := recordEvent(ctx, s.events, enrollment, &p.ID, models.BillingEventPaymentMarkedLate, map[string]interface{}{
				"due_date": p.DueDate.String(),
				"today":    opts.Today.String(),
			}); err != nil {
				return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record overdue event")
			}
			overdue = append(overdue, dto.OverduePayment{PaymentID: p.ID, EnrollmentID: p.EnrollmentID, DueDate: p.DueDate})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return overdue, nil
}

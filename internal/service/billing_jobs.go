package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
	"github.com/noah-isme/academia-billing-api/pkg/jobs"
)

type billingRunner interface {
	ProcessDueBillingWithOptions(ctx context.Context, opts BillingRunOptions) (*dto.BillingReport, error)
}

type reconcileRunner interface {
	ReconcileStatusesWithOptions(ctx context.Context, opts ReconcileOptions) (*dto.ReconcileReport, error)
}

// BillingJobPayload carries the business date of a queued run.
type BillingJobPayload struct {
	Today    calendar.Date
	TenantID string
}

// BillingScheduleConfig sets how often the batch jobs are queued.
type BillingScheduleConfig struct {
	ProcessInterval   time.Duration
	ReconcileInterval time.Duration
	Location          *time.Location
}

// NewBillingJobHandler dispatches queued billing jobs to the batch services.
// Runs that report per-enrollment errors are returned as failures so the queue retries them.
func NewBillingJobHandler(billing billingRunner, reconciler reconcileRunner, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		payload, _ := job.Payload.(BillingJobPayload)
		switch job.Type {
		case JobProcessBilling:
			report, err := billing.ProcessDueBillingWithOptions(ctx, BillingRunOptions{Today: payload.Today, TenantID: payload.TenantID})
			if err != nil {
				if appErrors.Is(err, appErrors.ErrConflict) {
					logger.Info("billing run skipped, another run holds the lock", zap.String("job_id", job.ID))
					return nil
				}
				return err
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("billing run %s: %d enrollments failed", report.Today, len(report.Errors))
			}
			return nil
		case JobReconcileStatuses:
			report, err := reconciler.ReconcileStatusesWithOptions(ctx, ReconcileOptions{Today: payload.Today, TenantID: payload.TenantID})
			if err != nil {
				return err
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("reconcile run %s: %d enrollments failed", report.Today, len(report.Errors))
			}
			return nil
		default:
			return fmt.Errorf("unknown billing job type %q", job.Type)
		}
	}
}

// BillingSchedules returns the periodic schedules for both batch jobs. Each job is keyed by
// its business date so a day's run is never queued twice while pending.
func BillingSchedules(cfg BillingScheduleConfig) []jobs.Schedule {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	build := func(jobType string) func(time.Time) jobs.Job {
		return func(now time.Time) jobs.Job {
			today := calendar.Of(now.In(loc))
			return jobs.Job{
				Type:    jobType,
				Key:     jobType + ":" + today.String(),
				Payload: BillingJobPayload{Today: today},
			}
		}
	}
	return []jobs.Schedule{
		{Name: JobProcessBilling, Interval: cfg.ProcessInterval, Build: build(JobProcessBilling)},
		{Name: JobReconcileStatuses, Interval: cfg.ReconcileInterval, Build: build(JobReconcileStatuses)},
	}
}

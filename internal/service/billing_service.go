package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/pkg/cache"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

const processLockName = "process"

type billingEnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.Enrollment, error)
	ListBillableIDs(ctx context.Context, filter models.BillableFilter) ([]string, error)
	ListUpcoming(ctx context.Context, filter models.UpcomingFilter) ([]models.EnrollmentDetail, error)
	UpdateNextDueDate(ctx context.Context, id string, due calendar.Date) error
}

type billingEventReader interface {
	ListByEnrollment(ctx context.Context, enrollmentID string, limit int) ([]models.BillingEvent, error)
}

type batchLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*cache.Lease, error)
}

// BillingOptions holds the defaults applied to billing runs and queries.
type BillingOptions struct {
	Location         *time.Location
	Concurrency      int
	BatchLimit       int
	LockTTL          time.Duration
	UpcomingCacheTTL time.Duration
}

// BillingRunOptions scopes one processar-cobranca run.
type BillingRunOptions struct {
	Today       calendar.Date
	DryRun      bool
	TenantID    string
	Limit       int
	Concurrency int
}

// BillingService runs the billing cycle and answers billing queries.
type BillingService struct {
	tx          txRunner
	enrollments billingEnrollmentRepository
	events      billingEventWriter
	history     billingEventReader
	charges     *ChargeGenerator
	migrator    *PlanMigrator
	locker      batchLocker
	cache       *CacheService
	metrics     *MetricsService
	clock       calendar.Clock
	opts        BillingOptions
	logger      *zap.Logger
}

// NewBillingService constructs BillingService.
func NewBillingService(
	tx txRunner,
	enrollments billingEnrollmentRepository,
	events billingEventWriter,
	history billingEventReader,
	charges *ChargeGenerator,
	migrator *PlanMigrator,
	locker batchLocker,
	cacheSvc *CacheService,
	metrics *MetricsService,
	clock calendar.Clock,
	opts BillingOptions,
	logger *zap.Logger,
) *BillingService {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingService{
		tx:          tx,
		enrollments: enrollments,
		events:      events,
		history:     history,
		charges:     charges,
		migrator:    migrator,
		locker:      locker,
		cache:       cacheSvc,
		metrics:     metrics,
		clock:       clock,
		opts:        opts,
		logger:      logger,
	}
}

// Today returns the current business day.
func (s *BillingService) Today() calendar.Date {
	return calendar.Today(s.clock, s.opts.Location)
}

// ProcessDueBilling runs processar-cobranca for every billable enrollment.
func (s *BillingService) ProcessDueBilling(ctx context.Context, today calendar.Date, dryRun bool) (*dto.BillingReport, error) {
	return s.ProcessDueBillingWithOptions(ctx, BillingRunOptions{Today: today, DryRun: dryRun})
}

// ProcessDueBillingWithOptions charges the current cycle of each billable
// enrollment and migrates lapsed trials. Every enrollment is handled in its
// own transaction; a failure is reported and the run continues. Dry runs roll
// every transaction back. Cancelling ctx stops the scan between enrollments
// and leaves finished enrollments committed.
func (s *BillingService) ProcessDueBillingWithOptions(ctx context.Context, opts BillingRunOptions) (report *dto.BillingReport, err error) {
	started := time.Now()
	if opts.Today.IsZero() {
		opts.Today = s.Today()
	}
	if opts.Limit <= 0 {
		opts.Limit = s.opts.BatchLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.opts.Concurrency
	}
	defer func() {
		s.metrics.ObserveJobRun(JobProcessBilling, opts.DryRun, time.Since(started), err)
	}()

	if !opts.DryRun && s.locker != nil {
		lease, lockErr := s.locker.Acquire(ctx, processLockName, s.opts.LockTTL)
		if lockErr != nil {
			if appErrors.Is(lockErr, appErrors.ErrLockNotAcquired) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "billing run already in progress")
			}
			return nil, appErrors.Wrap(lockErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire billing lock")
		}
		defer func() {
			if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
				s.logger.Warn("failed to release billing lock", zap.Error(relErr))
			}
		}()
	}

	ids, err := s.enrollments.ListBillableIDs(ctx, models.BillableFilter{Today: opts.Today, TenantID: opts.TenantID, Limit: opts.Limit})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list billable enrollments")
	}

	report = &dto.BillingReport{
		Today:     opts.Today,
		DryRun:    opts.DryRun,
		Charged:   []dto.ChargeEntry{},
		Migrated:  []dto.MigrationEntry{},
		Errors:    []dto.BillingItemError{},
		StartedAt: started.UTC(),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome, unitErr := s.processEnrollment(ctx, id, opts.Today, opts.DryRun)
			mu.Lock()
			defer mu.Unlock()
			report.Scanned++
			if unitErr != nil {
				report.Errors = append(report.Errors, itemError(id, unitErr))
				s.logger.Warn("billing enrollment failed", zap.String("enrollment_id", id), zap.Error(unitErr))
				return nil
			}
			report.Charged = append(report.Charged, outcome.charged...)
			if outcome.migrated != nil {
				report.Migrated = append(report.Migrated, *outcome.migrated)
			}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		report.Interrupted = true
	}
	sortBillingReport(report)
	report.FinishedAt = time.Now().UTC()

	s.metrics.AddJobItems(JobProcessBilling, opts.DryRun, "charged", len(report.Charged))
	s.metrics.AddJobItems(JobProcessBilling, opts.DryRun, "migrated", len(report.Migrated))
	s.metrics.AddJobItems(JobProcessBilling, opts.DryRun, "failed", len(report.Errors))

	if !opts.DryRun && (len(report.Charged) > 0 || len(report.Migrated) > 0) {
		s.cache.InvalidateUpcoming(context.WithoutCancel(ctx))
	}

	s.logger.Info("billing run finished",
		zap.String("today", opts.Today.String()),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("charged", len(report.Charged)),
		zap.Int("migrated", len(report.Migrated)),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("took", time.Since(started)))
	return report, nil
}

type enrollmentOutcome struct {
	charged  []dto.ChargeEntry
	migrated *dto.MigrationEntry
}

// processEnrollment charges, migrates, and charges again after a migration so
// that a repeated run on the same day finds nothing left to do.
func (s *BillingService) processEnrollment(ctx context.Context, id string, today calendar.Date, dryRun bool) (*enrollmentOutcome, error) {
	outcome := &enrollmentOutcome{}
	err := s.tx.RunInTx(ctx, repository.TxOptions{RollbackOnly: dryRun}, func(ctx context.Context) error {
		enrollment, err := s.enrollments.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to lock enrollment")
		}
		if !enrollment.Status.Billable() || !BillingStarted(enrollment, today) {
			return nil
		}

		charge, err := s.charges.Generate(ctx, enrollment, today)
		if err != nil {
			return err
		}
		outcome.addCharge(charge)

		migration, err := s.migrator.MigrateIfExpired(ctx, enrollment, today)
		if err != nil {
			return err
		}
		if !migration.Migrated {
			return nil
		}
		outcome.migrated = &dto.MigrationEntry{
			EnrollmentID:    id,
			FromPlanID:      migration.FromPlanID,
			ToPlanID:        migration.ToPlanID,
			Amount:          migration.Enrollment.Amount,
			PreviousDueDate: migration.PreviousDueDate,
			NextDueDate:     migration.Enrollment.NextDueDate,
		}

		next, err := s.charges.Generate(ctx, migration.Enrollment, today)
		if err != nil {
			return err
		}
		outcome.addCharge(next)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (o *enrollmentOutcome) addCharge(result *ChargeResult) {
	if result == nil || !result.Created {
		return
	}
	o.charged = append(o.charged, dto.ChargeEntry{
		EnrollmentID: result.Payment.EnrollmentID,
		PaymentID:    result.Payment.ID,
		DueDate:      result.Payment.DueDate,
		Amount:       result.Payment.Amount,
	})
}

func itemError(enrollmentID string, err error) dto.BillingItemError {
	appErr := appErrors.FromError(err)
	return dto.BillingItemError{EnrollmentID: enrollmentID, Code: appErr.Code, Message: appErr.Error()}
}

func sortBillingReport(report *dto.BillingReport) {
	sort.SliceStable(report.Charged, func(i, j int) bool {
		a, b := report.Charged[i], report.Charged[j]
		if a.EnrollmentID != b.EnrollmentID {
			return a.EnrollmentID < b.EnrollmentID
		}
		return a.DueDate.Before(b.DueDate)
	})
	sort.SliceStable(report.Migrated, func(i, j int) bool {
		return report.Migrated[i].EnrollmentID < report.Migrated[j].EnrollmentID
	})
	sort.SliceStable(report.Errors, func(i, j int) bool {
		return report.Errors[i].EnrollmentID < report.Errors[j].EnrollmentID
	})
}

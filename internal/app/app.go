// Package app wires the billing engine with fx. Both binaries build on Core; the
// api-gateway adds HTTP and, when enabled, the in-process scheduler.
package app

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/internal/service"
	"github.com/noah-isme/academia-billing-api/pkg/cache"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	"github.com/noah-isme/academia-billing-api/pkg/config"
	"github.com/noah-isme/academia-billing-api/pkg/database"
	"github.com/noah-isme/academia-billing-api/pkg/jobs"
	"github.com/noah-isme/academia-billing-api/pkg/logger"
)

const (
	cachePrefix = "academia"
	lockPrefix  = "billing:lock"
)

// Core provides configuration, infrastructure, repositories and billing services.
func Core(component string) fx.Option {
	return fx.Options(
		fx.Provide(
			config.Load,
			func(cfg *config.Config) (*zap.Logger, error) { return logger.New(cfg, component) },
			func(cfg *config.Config) *time.Location { return calendar.LoadLocation(cfg.Billing.Timezone) },
			func() calendar.Clock { return calendar.SystemClock{} },
			func() *validator.Validate { return validator.New() },
			service.NewMetricsService,
			func(lc fx.Lifecycle, cfg *config.Config) (*sqlx.DB, error) { return provideDB(lc, cfg, component) },
			provideRedis,
		),
		Repositories,
		Services,
	)
}

// Logging routes fx lifecycle events through the application logger.
var Logging = fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
})

// Repositories provides the sqlx and Redis backed stores.
var Repositories = fx.Provide(
	repository.NewTxManager,
	repository.NewEnrollmentRepository,
	repository.NewPaymentRepository,
	repository.NewPlanRepository,
	repository.NewBillingEventRepository,
	func(client *redis.Client) *repository.CacheRepository {
		return repository.NewCacheRepository(client, cachePrefix)
	},
	func(client *redis.Client) *cache.Locker {
		return cache.NewLocker(client, lockPrefix)
	},
)

// Services provides the billing engine.
var Services = fx.Provide(
	provideCacheService,
	provideCatalog,
	provideChargeGenerator,
	providePlanMigrator,
	provideBillingService,
	provideReconciliationService,
	providePaymentService,
	func(cfg *config.Config) *service.AuthService {
		return service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})
	},
)

// Jobs runs both batch jobs on a worker queue driven by the scheduler. It is a no-op
// unless BILLING_SCHEDULER_ENABLED is set.
var Jobs = fx.Options(
	fx.Provide(provideQueue, provideScheduler),
	fx.Invoke(registerJobs),
)

func provideDB(lc fx.Lifecycle, cfg *config.Config, component string) (*sqlx.DB, error) {
	db, err := database.NewPostgres(context.Background(), cfg.Database, component)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return db.Close() }})
	return db, nil
}

func provideRedis(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*redis.Client, error) {
	client, err := cache.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Warn("redis disabled, running without cache and batch lock")
		return nil, nil
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client, nil
}

func provideCacheService(repo *repository.CacheRepository, metrics *service.MetricsService, cfg *config.Config, client *redis.Client, log *zap.Logger) *service.CacheService {
	return service.NewCacheService(repo, metrics, cfg.Billing.UpcomingCacheTTL, log, client != nil)
}

func provideCatalog(plans *repository.PlanRepository, cacheSvc *service.CacheService, cfg *config.Config, log *zap.Logger) *service.CachedPlanCatalog {
	return service.NewCachedPlanCatalog(plans, cacheSvc, cfg.Billing.PlanCacheTTL, log)
}

func provideChargeGenerator(payments *repository.PaymentRepository, events *repository.BillingEventRepository, log *zap.Logger) *service.ChargeGenerator {
	return service.NewChargeGenerator(payments, events, log)
}

func providePlanMigrator(enrollments *repository.EnrollmentRepository, catalog *service.CachedPlanCatalog, events *repository.BillingEventRepository, log *zap.Logger) *service.PlanMigrator {
	return service.NewPlanMigrator(enrollments, catalog, events, log)
}

type billingParams struct {
	fx.In

	Config      *config.Config
	Tx          *repository.TxManager
	Enrollments *repository.EnrollmentRepository
	Events      *repository.BillingEventRepository
	Charges     *service.ChargeGenerator
	Migrator    *service.PlanMigrator
	Locker      *cache.Locker
	Cache       *service.CacheService
	Metrics     *service.MetricsService
	Clock       calendar.Clock
	Location    *time.Location
	Logger      *zap.Logger
}

func provideBillingService(p billingParams) *service.BillingService {
	opts := service.BillingOptions{
		Location:         p.Location,
		Concurrency:      p.Config.Billing.Concurrency,
		BatchLimit:       p.Config.Billing.BatchLimit,
		LockTTL:          p.Config.Billing.LockTTL,
		UpcomingCacheTTL: p.Config.Billing.UpcomingCacheTTL,
	}
	return service.NewBillingService(p.Tx, p.Enrollments, p.Events, p.Events, p.Charges, p.Migrator,
		p.Locker, p.Cache, p.Metrics, p.Clock, opts, p.Logger)
}

func provideReconciliationService(p billingParams, payments *repository.PaymentRepository) *service.ReconciliationService {
	return service.NewReconciliationService(p.Tx, p.Enrollments, payments, p.Events, p.Cache, p.Metrics,
		p.Clock, p.Location, p.Logger)
}

func providePaymentService(p billingParams, payments *repository.PaymentRepository, catalog *service.CachedPlanCatalog, validate *validator.Validate) *service.PaymentService {
	return service.NewPaymentService(p.Tx, payments, p.Enrollments, catalog, p.Charges, p.Events, p.Cache,
		p.Metrics, p.Clock, p.Location, validate, p.Logger)
}

func provideQueue(cfg *config.Config, billing *service.BillingService, reconciler *service.ReconciliationService, log *zap.Logger) *jobs.Queue {
	handler := service.NewBillingJobHandler(billing, reconciler, log)
	return jobs.NewQueue("billing", handler, jobs.QueueConfig{
		Workers:    cfg.Billing.Workers,
		MaxRetries: cfg.Billing.JobRetries,
		RetryDelay: 30 * time.Second,
		Logger:     log,
	})
}

func provideScheduler(cfg *config.Config, queue *jobs.Queue, loc *time.Location, log *zap.Logger) *jobs.Scheduler {
	schedules := service.BillingSchedules(service.BillingScheduleConfig{
		ProcessInterval:   cfg.Billing.ProcessInterval,
		ReconcileInterval: cfg.Billing.ReconcileInterval,
		Location:          loc,
	})
	return jobs.NewScheduler(queue, log, schedules, jobs.WithRunOnStart())
}

func registerJobs(lc fx.Lifecycle, cfg *config.Config, queue *jobs.Queue, scheduler *jobs.Scheduler, log *zap.Logger) {
	if !cfg.Billing.SchedulerEnabled {
		log.Info("billing scheduler disabled")
		return
	}
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			queue.Start(ctx)
			scheduler.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			scheduler.Stop()
			queue.Stop()
			cancel()
			return nil
		},
	})
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/noah-isme/academia-billing-api/internal/handler"
	"github.com/noah-isme/academia-billing-api/internal/middleware"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/service"
	"github.com/noah-isme/academia-billing-api/pkg/config"
	"github.com/noah-isme/academia-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academia-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academia-billing-api/pkg/middleware/requestid"
)

// HTTP provides the gin router and runs it for the lifetime of the app.
var HTTP = fx.Options(
	fx.Provide(
		func(b *service.BillingService, r *service.ReconciliationService) *handler.BillingHandler {
			return handler.NewBillingHandler(b, r)
		},
		func(b *service.BillingService) *handler.EnrollmentBillingHandler {
			return handler.NewEnrollmentBillingHandler(b)
		},
		func(p *service.PaymentService) *handler.PaymentHandler {
			return handler.NewPaymentHandler(p)
		},
		func(m *service.MetricsService, db *sqlx.DB) *handler.MetricsHandler {
			return handler.NewMetricsHandler(m, db)
		},
		NewRouter,
	),
	fx.Invoke(registerServer),
)

type routerParams struct {
	fx.In

	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *service.MetricsService
	Auth        *service.AuthService
	Billing     *handler.BillingHandler
	Enrollments *handler.EnrollmentBillingHandler
	Payments    *handler.PaymentHandler
	Probes      *handler.MetricsHandler
}

// NewRouter builds the gin engine with the admin billing routes.
func NewRouter(p routerParams) *gin.Engine {
	if p.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(p.Logger, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(p.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(p.Metrics))

	r.GET("/health", p.Probes.Health)
	r.GET("/ready", p.Probes.Ready)
	r.GET("/metrics", p.Probes.Prometheus)
	if p.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(p.Config.APIPrefix)
	api.Use(middleware.JWT(p.Auth), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))

	billing := api.Group("/billing")
	billing.GET("/upcoming", p.Billing.Upcoming)
	billing.POST("/process", p.Billing.Process)
	billing.POST("/reconcile", p.Billing.Reconcile)

	api.POST("/payments/:id/confirm", p.Payments.Confirm)

	enrollments := api.Group("/enrollments/:id")
	enrollments.GET("/access", p.Enrollments.Access)
	enrollments.PUT("/next-due-date", p.Enrollments.SetNextDueDate)
	enrollments.GET("/billing-events", p.Enrollments.Events)

	return r
}

func registerServer(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine, log *zap.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("server stopping")
			return server.Shutdown(ctx)
		},
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/noah-isme/academia-billing-api/internal/app"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/internal/service"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	"github.com/noah-isme/academia-billing-api/pkg/config"
)

type billingRuntime struct {
	Billing    *service.BillingService
	Reconciler *service.ReconciliationService
}

// withRuntime starts the billing services for the duration of fn. SIGINT and SIGTERM
// cancel ctx so batch runs stop between enrollments.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *billingRuntime) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rt billingRuntime
	application := fx.New(
		app.Core("billing-jobs"),
		app.Logging,
		fx.Populate(&rt.Billing, &rt.Reconciler),
	)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()

	return fn(ctx, &rt)
}

func newProcessCmd() *cobra.Command {
	var (
		date        string
		dryRun      bool
		limit       int
		concurrency int
		tenant      string
	)
	cmd := &cobra.Command{
		Use:     "processar-cobranca",
		Aliases: []string{"process-billing"},
		Short:   "Charge due cycles and migrate lapsed trials",
		Example: `  # Preview today's run without writing
  billing-jobs processar-cobranca --dry-run

  # Re-run a past business day for one tenant
  billing-jobs processar-cobranca --date 2026-02-06 --tenant gym-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			today, err := parseDateFlag(date)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *billingRuntime) error {
				report, err := rt.Billing.ProcessDueBillingWithOptions(ctx, service.BillingRunOptions{
					Today:       today,
					DryRun:      dryRun,
					TenantID:    tenant,
					Limit:       limit,
					Concurrency: concurrency,
				})
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if len(report.Errors) > 0 {
					return fmt.Errorf("%d enrollments failed", len(report.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "business date YYYY-MM-DD (default: today in BILLING_TIMEZONE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the run and roll every transaction back")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum enrollments to scan (0 = no limit)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "enrollments processed in parallel (default: BILLING_CONCURRENCY)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict the run to one tenant")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var (
		date   string
		limit  int
		tenant string
	)
	cmd := &cobra.Command{
		Use:   "reconcile-statuses",
		Short: "Align enrollment status labels with next due dates and flag late payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			today, err := parseDateFlag(date)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *billingRuntime) error {
				report, err := rt.Reconciler.ReconcileStatusesWithOptions(ctx, service.ReconcileOptions{
					Today:    today,
					TenantID: tenant,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if len(report.Errors) > 0 {
					return fmt.Errorf("%d enrollments failed", len(report.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "business date YYYY-MM-DD (default: today in BILLING_TIMEZONE)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum enrollments to scan (0 = no limit)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict the run to one tenant")
	return cmd
}

func newUpcomingCmd() *cobra.Command {
	var (
		days   int
		tenant string
	)
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List enrollments due within the next N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *billingRuntime) error {
				items, err := rt.Billing.ListUpcomingBilling(ctx, tenant, days)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "horizon in days (1-365)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict the listing to one tenant")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the embedded schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(repository.MigrateUp), string(repository.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			version, err := repository.Migrate(cfg.Database.URL(), repository.MigrationDirection(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func newIssueTokenCmd() *cobra.Command {
	var (
		user   string
		tenant string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an admin access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, AccessTokenExpiry: ttl})
			token, expires, err := auth.IssueToken(user, tenant, models.UserRole(role))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"token":     token,
				"expiresAt": expires,
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "billing-operator", "subject of the token")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant the token is scoped to")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "ADMIN or SUPERADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func parseDateFlag(raw string) (calendar.Date, error) {
	if raw == "" {
		return calendar.Date{}, nil
	}
	date, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return date, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

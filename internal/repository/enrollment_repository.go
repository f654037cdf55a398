package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

const enrollmentColumns = `id, tenant_id, student_id, plan_id, enrolled_at, period_start, period_end, amount, status,
        origin_reason, billing_day, is_trial, billing_start_date, next_due_date, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := conn(ctx, r.db).GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByIDForUpdate loads an enrollment and locks its row until the surrounding
// transaction ends. Must be called inside TxManager.RunInTx.
func (r *EnrollmentRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := conn(ctx, r.db).GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListBillableIDs returns enrollments with billing work left on filter.Today:
// status ACTIVE or EXPIRED, billing started, and either no payment for the
// current next due date or a trial whose window has lapsed. Finished
// enrollments drop out, so a limited run resumes where the previous one ended.
func (r *EnrollmentRepository) ListBillableIDs(ctx context.Context, filter models.BillableFilter) ([]string, error) {
	conditions := []string{
		"e.status IN ($1, $2)",
		"e.billing_start_date IS NOT NULL",
		"e.billing_start_date <= $3",
		"(NOT EXISTS (SELECT 1 FROM payments p WHERE p.enrollment_id = e.id AND p.due_date = e.next_due_date)" +
			" OR (e.is_trial AND e.next_due_date < $3))",
	}
	args := []interface{}{models.EnrollmentStatusActive, models.EnrollmentStatusExpired, filter.Today}
	if filter.TenantID != "" {
		conditions = append(conditions, fmt.Sprintf("e.tenant_id = $%d", len(args)+1))
		args = append(args, filter.TenantID)
	}
	query := "SELECT e.id FROM enrollments e WHERE " + strings.Join(conditions, " AND ") + " ORDER BY e.id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var ids []string
	if err := conn(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list billable enrollments: %w", err)
	}
	return ids, nil
}

// ListReconcileCandidateIDs returns enrollments whose status label disagrees
// with their access window on filter.Today.
func (r *EnrollmentRepository) ListReconcileCandidateIDs(ctx context.Context, filter models.ReconcileFilter) ([]string, error) {
	query := `SELECT id FROM enrollments
        WHERE ((status = $1 AND next_due_date < $3) OR (status = $2 AND next_due_date >= $3))`
	args := []interface{}{models.EnrollmentStatusActive, models.EnrollmentStatusExpired, filter.Today}
	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args)+1)
		args = append(args, filter.TenantID)
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var ids []string
	if err := conn(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list reconcile candidates: %w", err)
	}
	return ids, nil
}

// ListUpcoming returns ACTIVE and EXPIRED enrollments whose next due date
// falls within [From, To]. An empty TenantID lists every tenant.
func (r *EnrollmentRepository) ListUpcoming(ctx context.Context, filter models.UpcomingFilter) ([]models.EnrollmentDetail, error) {
	query := `SELECT e.id, e.tenant_id, e.student_id, e.plan_id, e.enrolled_at, e.period_start, e.period_end, e.amount,
        e.status, e.origin_reason, e.billing_day, e.is_trial, e.billing_start_date, e.next_due_date, e.created_at, e.updated_at,
        COALESCE(s.full_name, '') AS student_name, COALESCE(p.name, '') AS plan_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN plans p ON p.id = e.plan_id
        WHERE e.status IN ($1, $2) AND e.next_due_date BETWEEN $3 AND $4`
	args := []interface{}{models.EnrollmentStatusActive, models.EnrollmentStatusExpired, filter.From, filter.To}
	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND e.tenant_id = $%d", len(args)+1)
		args = append(args, filter.TenantID)
	}
	query += " ORDER BY e.next_due_date ASC, e.id ASC"

	var details []models.EnrollmentDetail
	if err := conn(ctx, r.db).SelectContext(ctx, &details, query, args...); err != nil {
		return nil, fmt.Errorf("list upcoming billing: %w", err)
	}
	return details, nil
}

// ApplyMigration switches a trial enrollment to a paid plan. The plan, amount,
// trial flag and next due date change in one statement. It reports false when
// the enrollment is no longer a trial.
func (r *EnrollmentRepository) ApplyMigration(ctx context.Context, params models.MigrationParams) (bool, error) {
	const query = `UPDATE enrollments
        SET plan_id = $2, amount = $3, is_trial = FALSE, next_due_date = $4, updated_at = NOW()
        WHERE id = $1 AND is_trial = TRUE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, params.EnrollmentID, params.PlanID, params.Amount, params.NextDueDate)
	if err != nil {
		return false, fmt.Errorf("migrate enrollment plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("migrate enrollment plan: %w", err)
	}
	return affected > 0, nil
}

// UpdateNextDueDate moves the access boundary of an enrollment.
func (r *EnrollmentRepository) UpdateNextDueDate(ctx context.Context, id string, due calendar.Date) error {
	const query = `UPDATE enrollments SET next_due_date = $2, updated_at = NOW() WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, due); err != nil {
		return fmt.Errorf("update enrollment next due date: %w", err)
	}
	return nil
}

// UpdateStatus flips the status label when it still equals from. It reports
// whether a row changed.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, from, to models.EnrollmentStatus) (bool, error) {
	const query = `UPDATE enrollments SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update enrollment status: %w", err)
	}
	return affected > 0, nil
}

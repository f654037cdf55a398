package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

var enrollmentRowColumns = []string{"id", "tenant_id", "student_id", "plan_id", "enrolled_at", "period_start", "period_end",
	"amount", "status", "origin_reason", "billing_day", "is_trial", "billing_start_date", "next_due_date", "created_at", "updated_at"}

func mustDate(s string) calendar.Date {
	return calendar.MustParse(s)
}

func day(s string) time.Time {
	t, err := time.Parse(calendar.Layout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEnrollmentRepositoryFindByIDForUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "gym-1", "stu-1", "plan-trial", now, day("2026-01-20"), nil, "0.00", "ACTIVE", "first enrollment",
			nil, true, day("2026-01-20"), day("2026-02-05"), now, now)
	mock.ExpectQuery(`SELECT id, tenant_id, .* FROM enrollments WHERE id = \$1 FOR UPDATE`).
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByIDForUpdate(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-05", enrollment.NextDueDate.String())
	require.NotNil(t, enrollment.BillingStartDate)
	assert.Equal(t, "2026-01-20", enrollment.BillingStartDate.String())
	assert.Nil(t, enrollment.PeriodEnd)
	assert.True(t, enrollment.IsTrial)
	assert.True(t, enrollment.Amount.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`FROM enrollments WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListBillableIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT e.id FROM enrollments e WHERE e.status IN ($1, $2) AND e.billing_start_date IS NOT NULL AND e.billing_start_date <= $3" +
		" AND (NOT EXISTS (SELECT 1 FROM payments p WHERE p.enrollment_id = e.id AND p.due_date = e.next_due_date) OR (e.is_trial AND e.next_due_date < $3))" +
		" AND e.tenant_id = $4 ORDER BY e.id LIMIT 50")).
		WithArgs(models.EnrollmentStatusActive, models.EnrollmentStatusExpired, "2026-02-06", "gym-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("enr-1").AddRow("enr-2"))

	ids, err := repo.ListBillableIDs(context.Background(), models.BillableFilter{Today: mustDate("2026-02-06"), TenantID: "gym-1", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"enr-1", "enr-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListReconcileCandidateIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`SELECT id FROM enrollments\s+WHERE \(\(status = \$1 AND next_due_date < \$3\) OR \(status = \$2 AND next_due_date >= \$3\)\) ORDER BY id`).
		WithArgs(models.EnrollmentStatusActive, models.EnrollmentStatusExpired, "2026-02-06").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("enr-9"))

	ids, err := repo.ListReconcileCandidateIDs(context.Background(), models.ReconcileFilter{Today: mustDate("2026-02-06")})
	require.NoError(t, err)
	assert.Equal(t, []string{"enr-9"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListUpcomingAllTenants(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`WHERE e.status IN \(\$1, \$2\) AND e.next_due_date BETWEEN \$3 AND \$4 ORDER BY e.next_due_date ASC, e.id ASC`).
		WithArgs(models.EnrollmentStatusActive, models.EnrollmentStatusExpired, "2026-02-06", "2026-02-13").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, enrollmentRowColumns...), "student_name", "plan_name")))

	details, err := repo.ListUpcoming(context.Background(), models.UpcomingFilter{From: mustDate("2026-02-06"), To: mustDate("2026-02-13")})
	require.NoError(t, err)
	assert.Empty(t, details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListUpcoming(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	columns := append(append([]string{}, enrollmentRowColumns...), "student_name", "plan_name")
	rows := sqlmock.NewRows(columns).
		AddRow("enr-1", "gym-1", "stu-1", "plan-monthly", now, day("2026-01-11"), nil, "70.00", "ACTIVE", "renewal",
			10, false, day("2026-02-01"), day("2026-02-11"), now, now, "Ana Souza", "Mensal")
	mock.ExpectQuery(`FROM enrollments e\s+LEFT JOIN students s ON s.id = e.student_id\s+LEFT JOIN plans p ON p.id = e.plan_id`).
		WithArgs(models.EnrollmentStatusActive, models.EnrollmentStatusExpired, "2026-02-06", "2026-02-13", "gym-1").
		WillReturnRows(rows)

	details, err := repo.ListUpcoming(context.Background(), models.UpcomingFilter{TenantID: "gym-1", From: mustDate("2026-02-06"), To: mustDate("2026-02-13")})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Ana Souza", details[0].StudentName)
	assert.Equal(t, "Mensal", details[0].PlanName)
	require.NotNil(t, details[0].BillingDay)
	assert.Equal(t, 10, *details[0].BillingDay)
	assert.True(t, decimal.RequireFromString("70").Equal(details[0].Amount))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApplyMigration(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(`UPDATE enrollments\s+SET plan_id = \$2, amount = \$3, is_trial = FALSE, next_due_date = \$4, updated_at = NOW\(\)\s+WHERE id = \$1 AND is_trial = TRUE`).
		WithArgs("enr-1", "plan-monthly", "70", "2026-03-07").
		WillReturnResult(sqlmock.NewResult(0, 1))

	migrated, err := repo.ApplyMigration(context.Background(), models.MigrationParams{
		EnrollmentID: "enr-1",
		PlanID:       "plan-monthly",
		Amount:       decimal.RequireFromString("70.00"),
		NextDueDate:  mustDate("2026-03-07"),
	})
	require.NoError(t, err)
	assert.True(t, migrated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApplyMigrationAlreadyPaid(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(`UPDATE enrollments`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	migrated, err := repo.ApplyMigration(context.Background(), models.MigrationParams{EnrollmentID: "enr-1", PlanID: "p", NextDueDate: mustDate("2026-03-07")})
	require.NoError(t, err)
	assert.False(t, migrated)
	require.NoError(t, mock.ExpectationsWereMet())
}

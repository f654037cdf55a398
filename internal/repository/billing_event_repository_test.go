package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academia-billing-api/internal/models"
)

func TestBillingEventRepositoryCreateDefaultsDetails(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillingEventRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing_events")).
		WithArgs(sqlmock.AnyArg(), "gym-1", "enr-1", nil, models.BillingEventChargeGenerated, "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.BillingEvent{TenantID: "gym-1", EnrollmentID: "enr-1", Event: models.BillingEventChargeGenerated}
	require.NoError(t, repo.Create(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingEventRepositoryListByEnrollmentCapsLimit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillingEventRepository(db)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "enrollment_id", "payment_id", "event", "details", "created_at"}).
		AddRow("evt-1", "gym-1", "enr-1", "pay-1", "PAYMENT_CONFIRMED", []byte(`{"paid_at":"2026-02-06"}`), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 100")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	events, err := repo.ListByEnrollment(context.Background(), "enr-1", 10000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PaymentID)
	var details map[string]string
	require.NoError(t, json.Unmarshal(events[0].Details, &details))
	assert.Equal(t, "2026-02-06", details["paid_at"])
	require.NoError(t, mock.ExpectationsWereMet())
}

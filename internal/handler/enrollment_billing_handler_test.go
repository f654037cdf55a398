package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

type enrollmentBillingMock struct {
	tenant string
	limit  int
	req    dto.SetNextDueDateRequest
}

func (m *enrollmentBillingMock) CheckAccess(ctx context.Context, tenantID, enrollmentID string) (*dto.AccessCheck, error) {
	m.tenant = tenantID
	if enrollmentID == "missing" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return &dto.AccessCheck{EnrollmentID: enrollmentID, HasAccess: true, NextDueDate: calendar.MustParse("2026-02-06")}, nil
}

func (m *enrollmentBillingMock) SetNextDueDate(ctx context.Context, tenantID, enrollmentID string, req dto.SetNextDueDateRequest) (*models.Enrollment, error) {
	m.tenant = tenantID
	m.req = req
	due, err := calendar.Parse(req.NextDueDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid next due date")
	}
	return &models.Enrollment{ID: enrollmentID, NextDueDate: due}, nil
}

func (m *enrollmentBillingMock) ListEnrollmentEvents(ctx context.Context, tenantID, enrollmentID string, limit int) ([]models.BillingEvent, error) {
	m.tenant = tenantID
	m.limit = limit
	return []models.BillingEvent{{ID: "evt-1", EnrollmentID: enrollmentID, Event: models.BillingEventPaymentConfirmed}}, nil
}

func TestEnrollmentBillingHandlerAccess(t *testing.T) {
	svc := &enrollmentBillingMock{}
	handler := NewEnrollmentBillingHandler(svc)

	c, w := newTestContext(http.MethodGet, "/enrollments/enr-1/access", nil, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	handler.Access(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hasAccess":true`)
	assert.Equal(t, "gym-1", svc.tenant)

	c, w = newTestContext(http.MethodGet, "/enrollments/missing/access", nil, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	handler.Access(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollmentBillingHandlerSetNextDueDate(t *testing.T) {
	svc := &enrollmentBillingMock{}
	handler := NewEnrollmentBillingHandler(svc)

	c, w := newTestContext(http.MethodPut, "/enrollments/enr-1/next-due-date", []byte(`{"nextDueDate":"2026-03-01","reason":"courtesy"}`), adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	handler.SetNextDueDate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "courtesy", svc.req.Reason)

	c, w = newTestContext(http.MethodPut, "/enrollments/enr-1/next-due-date", []byte(`{"nextDueDate":"2026-13-01"}`), adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	handler.SetNextDueDate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentBillingHandlerEvents(t *testing.T) {
	svc := &enrollmentBillingMock{}
	handler := NewEnrollmentBillingHandler(svc)

	c, w := newTestContext(http.MethodGet, "/enrollments/enr-1/billing-events?limit=5", nil, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	handler.Events(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, svc.limit)
	assert.Contains(t, w.Body.String(), "PAYMENT_CONFIRMED")
}

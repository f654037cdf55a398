package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/middleware"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/service"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

type billingServiceMock struct {
	runOpts      service.BillingRunOptions
	reconOpts    service.ReconcileOptions
	upcomingDays int
	tenant       string
	runErr       error
}

func (m *billingServiceMock) ProcessDueBillingWithOptions(ctx context.Context, opts service.BillingRunOptions) (*dto.BillingReport, error) {
	m.runOpts = opts
	if m.runErr != nil {
		return nil, m.runErr
	}
	return &dto.BillingReport{Today: opts.Today, DryRun: opts.DryRun, Charged: []dto.ChargeEntry{{EnrollmentID: "enr-1"}}}, nil
}

func (m *billingServiceMock) ListUpcomingBilling(ctx context.Context, tenantID string, days int) ([]models.EnrollmentDetail, error) {
	m.tenant = tenantID
	m.upcomingDays = days
	if days > 365 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "days must be between 1 and 365")
	}
	return []models.EnrollmentDetail{{Enrollment: models.Enrollment{ID: "enr-1"}, HasAccess: true}}, nil
}

func (m *billingServiceMock) ReconcileStatusesWithOptions(ctx context.Context, opts service.ReconcileOptions) (*dto.ReconcileReport, error) {
	m.reconOpts = opts
	return &dto.ReconcileReport{Today: opts.Today}, nil
}

func newTestContext(method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin", TenantID: "gym-1", Role: models.RoleAdmin}
}

func TestBillingHandlerProcessParsesOptions(t *testing.T) {
	svc := &billingServiceMock{}
	handler := NewBillingHandler(svc, svc)
	body, _ := json.Marshal(dto.ProcessBillingRequest{Date: "2026-02-06", DryRun: true, Limit: 10})
	c, w := newTestContext(http.MethodPost, "/billing/process", body, adminClaims())

	handler.Process(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-02-06", svc.runOpts.Today.String())
	assert.True(t, svc.runOpts.DryRun)
	assert.Equal(t, 10, svc.runOpts.Limit)
	assert.Equal(t, "gym-1", svc.runOpts.TenantID)

	var envelope struct {
		Data dto.BillingReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.DryRun)
	assert.Len(t, envelope.Data.Charged, 1)
}

func TestBillingHandlerProcessWithoutBodyUsesDefaults(t *testing.T) {
	svc := &billingServiceMock{}
	handler := NewBillingHandler(svc, svc)
	c, w := newTestContext(http.MethodPost, "/billing/process", nil, adminClaims())

	handler.Process(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.runOpts.Today.IsZero())
	assert.False(t, svc.runOpts.DryRun)
}

func TestBillingHandlerProcessRejectsBadDate(t *testing.T) {
	svc := &billingServiceMock{}
	handler := NewBillingHandler(svc, svc)
	c, w := newTestContext(http.MethodPost, "/billing/process", []byte(`{"date":"06/02/2026"}`), adminClaims())

	handler.Process(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandlerProcessConflict(t *testing.T) {
	svc := &billingServiceMock{runErr: appErrors.Clone(appErrors.ErrConflict, "billing run already in progress")}
	handler := NewBillingHandler(svc, svc)
	c, w := newTestContext(http.MethodPost, "/billing/process", []byte(`{}`), adminClaims())

	handler.Process(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBillingHandlerProcessInternalError(t *testing.T) {
	svc := &billingServiceMock{runErr: errors.New("db down")}
	handler := NewBillingHandler(svc, svc)
	c, w := newTestContext(http.MethodPost, "/billing/process", []byte(`{}`), adminClaims())

	handler.Process(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBillingHandlerUpcoming(t *testing.T) {
	svc := &billingServiceMock{}
	handler := NewBillingHandler(svc, svc)

	c, w := newTestContext(http.MethodGet, "/billing/upcoming?days=30", nil, adminClaims())
	handler.Upcoming(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, svc.upcomingDays)
	assert.Equal(t, "gym-1", svc.tenant)

	c, w = newTestContext(http.MethodGet, "/billing/upcoming?days=abc", nil, adminClaims())
	handler.Upcoming(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodGet, "/billing/upcoming?days=400", nil, adminClaims())
	handler.Upcoming(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandlerUpcomingSuperadminPicksTenant(t *testing.T) {
	svc := &billingServiceMock{}
	handler := NewBillingHandler(svc, svc)
	root := &models.JWTClaims{UserID: "root", Role: models.RoleSuperAdmin}

	c, w := newTestContext(http.MethodGet, "/billing/upcoming?tenantId=gym-7", nil, root)
	handler.Upcoming(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gym-7", svc.tenant)
	assert.Equal(t, 7, svc.upcomingDays)

	c, _ = newTestContext(http.MethodGet, "/billing/upcoming?tenantId=gym-7", nil, adminClaims())
	handler.Upcoming(c)
	assert.Equal(t, "gym-1", svc.tenant, "admins cannot leave their tenant")
}

func TestBillingHandlerReconcile(t *testing.T) {
	svc := &billingServiceMock{}
	handler := NewBillingHandler(svc, svc)
	c, w := newTestContext(http.MethodPost, "/billing/reconcile", []byte(`{"date":"2026-02-06"}`), adminClaims())

	handler.Reconcile(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calendar.MustParse("2026-02-06"), svc.reconOpts.Today)
	assert.Equal(t, "gym-1", svc.reconOpts.TenantID)
}

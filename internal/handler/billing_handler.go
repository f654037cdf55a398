package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/service"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
	"github.com/noah-isme/academia-billing-api/pkg/response"
)

type billingAPI interface {
	ProcessDueBillingWithOptions(ctx context.Context, opts service.BillingRunOptions) (*dto.BillingReport, error)
	ListUpcomingBilling(ctx context.Context, tenantID string, days int) ([]models.EnrollmentDetail, error)
}

type reconcileAPI interface {
	ReconcileStatusesWithOptions(ctx context.Context, opts service.ReconcileOptions) (*dto.ReconcileReport, error)
}

// BillingHandler exposes the billing cycle endpoints.
type BillingHandler struct {
	billing    billingAPI
	reconciler reconcileAPI
	validator  *validator.Validate
}

// NewBillingHandler constructs BillingHandler.
func NewBillingHandler(billing billingAPI, reconciler reconcileAPI) *BillingHandler {
	return &BillingHandler{billing: billing, reconciler: reconciler, validator: validator.New()}
}

// Upcoming godoc
// @Summary List upcoming billing
// @Description Enrollments whose next due date falls between today and today + days.
// @Tags Billing
// @Produce json
// @Param days query int false "Horizon in days (1-365)" default(7)
// @Param tenantId query string false "Tenant (superadmin only)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /billing/upcoming [get]
func (h *BillingHandler) Upcoming(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "days must be an integer"))
		return
	}
	items, err := h.billing.ListUpcomingBilling(c.Request.Context(), tenantScope(c), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"days": days, "count": len(items)})
}

// Process godoc
// @Summary Run processar-cobranca
// @Description Charges the current cycle of every billable enrollment and migrates lapsed trials.
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body dto.ProcessBillingRequest false "Run options"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /billing/process [post]
func (h *BillingHandler) Process(c *gin.Context) {
	var req dto.ProcessBillingRequest
	if !h.bindOptional(c, &req) {
		return
	}
	today, ok := parseOptionalDate(c, req.Date)
	if !ok {
		return
	}
	report, err := h.billing.ProcessDueBillingWithOptions(c.Request.Context(), service.BillingRunOptions{
		Today:    today,
		DryRun:   req.DryRun,
		TenantID: tenantScope(c),
		Limit:    req.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// Reconcile godoc
// @Summary Reconcile enrollment statuses
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body dto.ReconcileRequest false "Run options"
// @Success 200 {object} response.Envelope
// @Router /billing/reconcile [post]
func (h *BillingHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if !h.bindOptional(c, &req) {
		return
	}
	today, ok := parseOptionalDate(c, req.Date)
	if !ok {
		return
	}
	report, err := h.reconciler.ReconcileStatusesWithOptions(c.Request.Context(), service.ReconcileOptions{
		Today:    today,
		TenantID: tenantScope(c),
		Limit:    req.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// bindOptional binds a JSON body that may be absent and validates it.
func (h *BillingHandler) bindOptional(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func parseOptionalDate(c *gin.Context, raw string) (calendar.Date, bool) {
	if raw == "" {
		return calendar.Date{}, true
	}
	date, err := calendar.Parse(raw)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "date must be YYYY-MM-DD"))
		return calendar.Date{}, false
	}
	return date, true
}

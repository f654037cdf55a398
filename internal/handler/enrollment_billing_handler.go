package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	"github.com/noah-isme/academia-billing-api/internal/models"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
	"github.com/noah-isme/academia-billing-api/pkg/response"
)

type enrollmentBillingAPI interface {
	CheckAccess(ctx context.Context, tenantID, enrollmentID string) (*dto.AccessCheck, error)
	SetNextDueDate(ctx context.Context, tenantID, enrollmentID string, req dto.SetNextDueDateRequest) (*models.Enrollment, error)
	ListEnrollmentEvents(ctx context.Context, tenantID, enrollmentID string, limit int) ([]models.BillingEvent, error)
}

// EnrollmentBillingHandler exposes per-enrollment access and billing endpoints.
type EnrollmentBillingHandler struct {
	billing enrollmentBillingAPI
}

// NewEnrollmentBillingHandler constructs EnrollmentBillingHandler.
func NewEnrollmentBillingHandler(billing enrollmentBillingAPI) *EnrollmentBillingHandler {
	return &EnrollmentBillingHandler{billing: billing}
}

// Access godoc
// @Summary Check gym access
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/access [get]
func (h *EnrollmentBillingHandler) Access(c *gin.Context) {
	check, err := h.billing.CheckAccess(c.Request.Context(), tenantScope(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, check)
}

// SetNextDueDate godoc
// @Summary Override next due date
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.SetNextDueDateRequest true "New due date"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments/{id}/next-due-date [put]
func (h *EnrollmentBillingHandler) SetNextDueDate(c *gin.Context) {
	var req dto.SetNextDueDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.billing.SetNextDueDate(c.Request.Context(), tenantScope(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment)
}

// Events godoc
// @Summary List billing events
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param limit query int false "Max events" default(100)
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/billing-events [get]
func (h *EnrollmentBillingHandler) Events(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.billing.ListEnrollmentEvents(c.Request.Context(), tenantScope(c), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events)
}

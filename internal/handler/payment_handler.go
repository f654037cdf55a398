package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academia-billing-api/internal/dto"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
	"github.com/noah-isme/academia-billing-api/pkg/response"
)

type paymentAPI interface {
	ConfirmPayment(ctx context.Context, req dto.ConfirmPaymentRequest) (*dto.ConfirmationResult, error)
}

// PaymentHandler exposes payment endpoints.
type PaymentHandler struct {
	payments paymentAPI
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentAPI) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Confirm godoc
// @Summary Confirm payment
// @Description Marks a pending or late payment as paid and renews the enrollment.
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body dto.ConfirmPaymentRequest true "Confirmation"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id}/confirm [post]
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.PaymentID = c.Param("id")
	req.TenantID = tenantScope(c)

	result, err := h.payments.ConfirmPayment(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

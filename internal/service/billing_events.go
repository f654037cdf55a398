package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
)

type txRunner interface {
	RunInTx(ctx context.Context, opts repository.TxOptions, fn func(ctx context.Context) error) error
}

type billingEventWriter interface {
	Create(ctx context.Context, event *models.BillingEvent) error
}

// recordEvent appends an audit entry inside the caller's transaction.
func recordEvent(ctx context.Context, events billingEventWriter, enrollment *models.Enrollment, paymentID *string,
	kind models.BillingEventType, details map[string]interface{}) error {
	if events == nil {
		return nil
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal %s details: %w", kind, err)
	}
	return events.Create(ctx, &models.BillingEvent{
		TenantID:     enrollment.TenantID,
		EnrollmentID: enrollment.ID,
		PaymentID:    paymentID,
		Event:        kind,
		Details:      payload,
	})
}

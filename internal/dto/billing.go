package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

// ProcessBillingRequest is the admin payload for a processar-cobranca run.
type ProcessBillingRequest struct {
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DryRun bool   `json:"dryRun"`
	Limit  int    `json:"limit" validate:"omitempty,min=1"`
}

// ReconcileRequest is the admin payload for a status reconciliation run.
type ReconcileRequest struct {
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `json:"limit" validate:"omitempty,min=1"`
}

// ChargeEntry describes a payment generated, or that would be generated, by a run.
type ChargeEntry struct {
	EnrollmentID string          `json:"enrollmentId"`
	PaymentID    string          `json:"paymentId"`
	DueDate      calendar.Date   `json:"dueDate"`
	Amount       decimal.Decimal `json:"amount"`
}

// MigrationEntry describes a trial converted, or that would be converted, to a paid plan.
type MigrationEntry struct {
	EnrollmentID    string          `json:"enrollmentId"`
	FromPlanID      string          `json:"fromPlanId"`
	ToPlanID        string          `json:"toPlanId"`
	Amount          decimal.Decimal `json:"amount"`
	PreviousDueDate calendar.Date   `json:"previousDueDate"`
	NextDueDate     calendar.Date   `json:"nextDueDate"`
}

// BillingItemError reports a per-enrollment failure inside a batch.
type BillingItemError struct {
	EnrollmentID string `json:"enrollmentId"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// BillingReport summarises a processar-cobranca run.
type BillingReport struct {
	Today       calendar.Date      `json:"today"`
	DryRun      bool               `json:"dryRun"`
	Scanned     int                `json:"scanned"`
	Charged     []ChargeEntry      `json:"charged"`
	Migrated    []MigrationEntry   `json:"migrated"`
	Errors      []BillingItemError `json:"errors"`
	Interrupted bool               `json:"interrupted"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

// StatusFlip records one reconciled enrollment.
type StatusFlip struct {
	EnrollmentID string                  `json:"enrollmentId"`
	From         models.EnrollmentStatus `json:"from"`
	To           models.EnrollmentStatus `json:"to"`
	NextDueDate  calendar.Date           `json:"nextDueDate"`
}

// OverduePayment records a pending payment flagged late.
type OverduePayment struct {
	PaymentID    string        `json:"paymentId"`
	EnrollmentID string        `json:"enrollmentId"`
	DueDate      calendar.Date `json:"dueDate"`
}

// ReconcileReport summarises a status reconciliation run.
type ReconcileReport struct {
	Today       calendar.Date      `json:"today"`
	Scanned     int                `json:"scanned"`
	Activated   []StatusFlip       `json:"activated"`
	Expired     []StatusFlip       `json:"expired"`
	Overdue     []OverduePayment   `json:"overdue"`
	Errors      []BillingItemError `json:"errors"`
	Interrupted bool               `json:"interrupted"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

// ConfirmPaymentRequest is the admin payload for confirming a payment.
type ConfirmPaymentRequest struct {
	TenantID        string  `json:"-"`
	PaymentID       string  `json:"-" validate:"required"`
	PaidAt          string  `json:"paidAt" validate:"required,datetime=2006-01-02"`
	PaymentMethodID *string `json:"paymentMethodId" validate:"omitempty,min=1"`
	Notes           *string `json:"notes" validate:"omitempty,max=500"`
}

// ConfirmationResult is returned after a payment is confirmed.
type ConfirmationResult struct {
	Payment    models.Payment    `json:"payment"`
	Enrollment models.Enrollment `json:"enrollment"`
	NextCharge *models.Payment   `json:"nextCharge,omitempty"`
}

// SetNextDueDateRequest is the admin override payload.
type SetNextDueDateRequest struct {
	NextDueDate string `json:"nextDueDate" validate:"required,datetime=2006-01-02"`
	Reason      string `json:"reason" validate:"omitempty,max=255"`
}

// AccessCheck answers the check-in gate for one enrollment.
type AccessCheck struct {
	EnrollmentID string        `json:"enrollmentId"`
	HasAccess    bool          `json:"hasAccess"`
	NextDueDate  calendar.Date `json:"nextDueDate"`
	Today        calendar.Date `json:"today"`
}

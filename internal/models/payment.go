package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

// PaymentStatus tracks the lifecycle of one billing-cycle charge.
type PaymentStatus string

// Possible payment statuses.
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusLate      PaymentStatus = "LATE"
)

// Outstanding reports whether the charge still awaits payment.
func (s PaymentStatus) Outstanding() bool {
	return s == PaymentStatusPending || s == PaymentStatusLate
}

// Payment is the amount due for one (enrollment, due date) cycle.
type Payment struct {
	ID              string          `db:"id" json:"id"`
	EnrollmentID    string          `db:"enrollment_id" json:"enrollment_id"`
	TenantID        string          `db:"tenant_id" json:"tenant_id"`
	DueDate         calendar.Date   `db:"due_date" json:"due_date"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Status          PaymentStatus   `db:"status" json:"status"`
	PaidAt          *calendar.Date  `db:"paid_at" json:"paid_at,omitempty"`
	PaymentMethodID *string         `db:"payment_method_id" json:"payment_method_id,omitempty"`
	Notes           string          `db:"notes" json:"notes"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// ConfirmPaymentParams holds the values written when a payment is confirmed.
type ConfirmPaymentParams struct {
	PaymentID       string
	PaidAt          calendar.Date
	PaymentMethodID *string
	Notes           *string
}

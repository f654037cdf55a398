package models

import (
	"encoding/json"
	"time"
)

// BillingEventType names a transition of the billing state machine.
type BillingEventType string

// Billing state machine events.
const (
	BillingEventChargeGenerated   BillingEventType = "CHARGE_GENERATED"
	BillingEventPlanMigrated      BillingEventType = "PLAN_MIGRATED"
	BillingEventPaymentConfirmed  BillingEventType = "PAYMENT_CONFIRMED"
	BillingEventStatusReconciled  BillingEventType = "STATUS_RECONCILED"
	BillingEventDueDateOverridden BillingEventType = "DUE_DATE_OVERRIDDEN"
	BillingEventPaymentMarkedLate BillingEventType = "PAYMENT_MARKED_LATE"
)

// BillingEvent is the audit record written alongside each billing mutation.
type BillingEvent struct {
	ID           string           `db:"id" json:"id"`
	TenantID     string           `db:"tenant_id" json:"tenant_id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	PaymentID    *string          `db:"payment_id" json:"payment_id,omitempty"`
	Event        BillingEventType `db:"event" json:"event"`
	Details      json.RawMessage  `db:"details" json:"details,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

// EnrollmentStatus is the coarse, eventually-consistent label of an enrollment.
// Access is never decided from it; see NextDueDate.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusExpired   EnrollmentStatus = "EXPIRED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
)

// Billable reports whether the billing cycle processor scans enrollments in this status.
func (s EnrollmentStatus) Billable() bool {
	return s == EnrollmentStatusActive || s == EnrollmentStatusExpired
}

// Enrollment is a student's subscription period to a plan at one tenant (matrícula).
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	TenantID     string           `db:"tenant_id" json:"tenant_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	PlanID       string           `db:"plan_id" json:"plan_id"`
	EnrolledAt   time.Time        `db:"enrolled_at" json:"enrolled_at"`
	PeriodStart  calendar.Date    `db:"period_start" json:"period_start"`
	PeriodEnd    *calendar.Date   `db:"period_end" json:"period_end,omitempty"`
	Amount       decimal.Decimal  `db:"amount" json:"amount"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	OriginReason string           `db:"origin_reason" json:"origin_reason"`
	BillingDay   *int             `db:"billing_day" json:"billing_day,omitempty"`
	IsTrial      bool             `db:"is_trial" json:"is_trial"`
	// BillingStartDate is the first day charges may be generated; nil while untracked.
	BillingStartDate *calendar.Date `db:"billing_start_date" json:"billing_start_date,omitempty"`
	// NextDueDate is both the access boundary (inclusive) and the next billing trigger.
	NextDueDate calendar.Date `db:"next_due_date" json:"next_due_date"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and plan info for listings.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string `db:"student_name" json:"student_name"`
	PlanName     string `db:"plan_name" json:"plan_name"`
	HasAccess    bool   `db:"-" json:"has_access"`
	DaysUntilDue int    `db:"-" json:"days_until_due"`
}

// BillableFilter selects enrollments for a billing cycle run.
type BillableFilter struct {
	Today    calendar.Date
	TenantID string
	Limit    int
}

// ReconcileFilter selects enrollments whose status label disagrees with their window.
type ReconcileFilter struct {
	Today    calendar.Date
	TenantID string
	Limit    int
}

// UpcomingFilter selects enrollments due within [From, To].
type UpcomingFilter struct {
	TenantID string
	From     calendar.Date
	To       calendar.Date
}

// MigrationParams carries the fields changed together when a trial becomes paid.
type MigrationParams struct {
	EnrollmentID string
	PlanID       string
	Amount       decimal.Decimal
	NextDueDate  calendar.Date
}

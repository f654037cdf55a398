package service

import (
	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

// HasAccess reports whether the enrollment grants access on today. The due
// date itself is still covered.
func HasAccess(enrollment *models.Enrollment, today calendar.Date) bool {
	if enrollment == nil || enrollment.NextDueDate.IsZero() {
		return false
	}
	return today.OnOrBefore(enrollment.NextDueDate)
}

// BillingStarted reports whether charges may be generated for the enrollment on today.
func BillingStarted(enrollment *models.Enrollment, today calendar.Date) bool {
	if enrollment == nil || enrollment.BillingStartDate == nil || enrollment.BillingStartDate.IsZero() {
		return false
	}
	return !today.Before(*enrollment.BillingStartDate)
}

// ShouldMigrate reports whether a trial enrollment has lapsed and must move to
// the tenant's paid plan. Paid enrollments never migrate.
func ShouldMigrate(enrollment *models.Enrollment, today calendar.Date) bool {
	return enrollment != nil && enrollment.IsTrial && !HasAccess(enrollment, today)
}

// ReconciledStatus returns the status label the enrollment should carry on
// today, and whether it differs from the current one. Only ACTIVE and EXPIRED
// are ever flipped.
func ReconciledStatus(enrollment *models.Enrollment, today calendar.Date) (models.EnrollmentStatus, bool) {
	if enrollment == nil {
		return "", false
	}
	switch enrollment.Status {
	case models.EnrollmentStatusActive:
		if !HasAccess(enrollment, today) {
			return models.EnrollmentStatusExpired, true
		}
	case models.EnrollmentStatusExpired:
		if HasAccess(enrollment, today) {
			return models.EnrollmentStatusActive, true
		}
	}
	return enrollment.Status, false
}

// NextCycleDue is the due date that follows a paid cycle.
func NextCycleDue(paidDue calendar.Date, durationDays int) calendar.Date {
	return paidDue.AddDays(durationDays)
}

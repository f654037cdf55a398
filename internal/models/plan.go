package models

import "github.com/shopspring/decimal"

// Plan is a tenant's catalog entry. The engine only reads plans.
type Plan struct {
	ID            string          `db:"id" json:"id"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	Name          string          `db:"name" json:"name"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	DurationDays  int             `db:"duration_days" json:"duration_days"`
	IsTrial       bool            `db:"is_trial" json:"is_trial"`
	IsDefaultPaid bool            `db:"is_default_paid" json:"is_default_paid"`
	Active        bool            `db:"active" json:"active"`
}

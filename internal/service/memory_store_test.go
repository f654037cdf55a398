package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/academia-billing-api/internal/models"
	"github.com/noah-isme/academia-billing-api/internal/repository"
	"github.com/noah-isme/academia-billing-api/pkg/calendar"
)

type memTxKey struct{}

// memDB is an in-memory stand-in for the Postgres store. Transactions are
// serialised and snapshot-based, so a rollback restores every table.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	enrollments map[string]models.Enrollment
	payments    map[string]models.Payment
	plans       map[string]models.Plan
	events      []models.BillingEvent

	// fail injects an error for "<op>:<id>" keys.
	fail    map[string]error
	commits int
}

func newMemDB() *memDB {
	return &memDB{
		enrollments: map[string]models.Enrollment{},
		payments:    map[string]models.Payment{},
		plans:       map[string]models.Plan{},
		fail:        map[string]error{},
	}
}

type memSnapshot struct {
	enrollments map[string]models.Enrollment
	payments    map[string]models.Payment
	events      []models.BillingEvent
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := memSnapshot{
		enrollments: make(map[string]models.Enrollment, len(db.enrollments)),
		payments:    make(map[string]models.Payment, len(db.payments)),
		events:      append([]models.BillingEvent(nil), db.events...),
	}
	for k, v := range db.enrollments {
		snap.enrollments[k] = v
	}
	for k, v := range db.payments {
		snap.payments[k] = v
	}
	return snap
}

func (db *memDB) restore(snap memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.enrollments = snap.enrollments
	db.payments = snap.payments
	db.events = snap.events
}

func (db *memDB) RunInTx(ctx context.Context, opts repository.TxOptions, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.restore(snap)
		return err
	}
	if opts.RollbackOnly {
		db.restore(snap)
		return nil
	}
	db.mu.Lock()
	db.commits++
	db.mu.Unlock()
	return nil
}

func (db *memDB) injected(op, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.fail[op+":"+id]
}

func (db *memDB) putEnrollment(e models.Enrollment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.enrollments[e.ID] = e
}

func (db *memDB) putPlan(p models.Plan) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.plans[p.ID] = p
}

func (db *memDB) putPayment(p models.Payment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.payments[p.ID] = p
}

func (db *memDB) enrollment(id string) models.Enrollment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.enrollments[id]
}

func (db *memDB) paymentsOf(enrollmentID string) []models.Payment {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Payment
	for _, p := range db.payments {
		if p.EnrollmentID == enrollmentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

func (db *memDB) eventsOf(kind models.BillingEventType) []models.BillingEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.BillingEvent
	for _, e := range db.events {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

// hasCycleLocked reports whether a payment exists for the cycle. Callers hold db.mu.
func (db *memDB) hasCycleLocked(enrollmentID string, due calendar.Date) bool {
	for _, p := range db.payments {
		if p.EnrollmentID == enrollmentID && p.DueDate.Equal(due) {
			return true
		}
	}
	return false
}

func (db *memDB) paymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.payments)
}

type memEnrollments struct{ db *memDB }

func (r memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if err := r.db.injected("FindEnrollment", id); err != nil {
		return nil, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (r memEnrollments) FindByIDForUpdate(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.FindByID(ctx, id)
}

func (r memEnrollments) ListBillableIDs(ctx context.Context, filter models.BillableFilter) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var ids []string
	for id, e := range r.db.enrollments {
		if !e.Status.Billable() || e.BillingStartDate == nil || e.BillingStartDate.After(filter.Today) {
			continue
		}
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		lapsedTrial := e.IsTrial && e.NextDueDate.Before(filter.Today)
		if r.db.hasCycleLocked(id, e.NextDueDate) && !lapsedTrial {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	return ids, nil
}

func (r memEnrollments) ListReconcileCandidateIDs(ctx context.Context, filter models.ReconcileFilter) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var ids []string
	for id, e := range r.db.enrollments {
		lapsed := e.NextDueDate.Before(filter.Today)
		if (e.Status == models.EnrollmentStatusActive && lapsed) || (e.Status == models.EnrollmentStatusExpired && !lapsed) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memEnrollments) ListUpcoming(ctx context.Context, filter models.UpcomingFilter) ([]models.EnrollmentDetail, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range r.db.enrollments {
		if (filter.TenantID != "" && e.TenantID != filter.TenantID) || !e.Status.Billable() {
			continue
		}
		if e.NextDueDate.Before(filter.From) || e.NextDueDate.After(filter.To) {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e, PlanName: r.db.plans[e.PlanID].Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDueDate.Equal(out[j].NextDueDate) {
			return out[i].NextDueDate.Before(out[j].NextDueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memEnrollments) ApplyMigration(ctx context.Context, params models.MigrationParams) (bool, error) {
	if err := r.db.injected("ApplyMigration", params.EnrollmentID); err != nil {
		return false, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[params.EnrollmentID]
	if !ok || !e.IsTrial {
		return false, nil
	}
	e.PlanID = params.PlanID
	e.Amount = params.Amount
	e.IsTrial = false
	e.NextDueDate = params.NextDueDate
	r.db.enrollments[e.ID] = e
	return true, nil
}

func (r memEnrollments) UpdateNextDueDate(ctx context.Context, id string, due calendar.Date) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.NextDueDate = due
	r.db.enrollments[id] = e
	return nil
}

func (r memEnrollments) UpdateStatus(ctx context.Context, id string, from, to models.EnrollmentStatus) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	r.db.enrollments[id] = e
	return true, nil
}

type memPayments struct{ db *memDB }

func (r memPayments) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (r memPayments) FindByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return r.FindByID(ctx, id)
}

func (r memPayments) FindByCycle(ctx context.Context, enrollmentID string, dueDate calendar.Date) (*models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.EnrollmentID == enrollmentID && p.DueDate.Equal(dueDate) {
			p := p
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memPayments) CreateIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	if err := r.db.injected("CreatePayment", payment.EnrollmentID); err != nil {
		return false, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.EnrollmentID == payment.EnrollmentID && p.DueDate.Equal(payment.DueDate) {
			return false, nil
		}
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	payment.CreatedAt = time.Now().UTC()
	payment.UpdatedAt = payment.CreatedAt
	r.db.payments[payment.ID] = *payment
	return true, nil
}

func (r memPayments) Confirm(ctx context.Context, params models.ConfirmPaymentParams) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[params.PaymentID]
	if !ok {
		return sql.ErrNoRows
	}
	paidAt := params.PaidAt
	p.Status = models.PaymentStatusConfirmed
	p.PaidAt = &paidAt
	p.PaymentMethodID = params.PaymentMethodID
	if params.Notes != nil {
		p.Notes = *params.Notes
	}
	r.db.payments[p.ID] = p
	return nil
}

func (r memPayments) MarkOverdue(ctx context.Context, today calendar.Date, tenantID string, limit int) ([]models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Payment
	for id, p := range r.db.payments {
		if p.Status != models.PaymentStatusPending || !p.DueDate.Before(today) {
			continue
		}
		if tenantID != "" && p.TenantID != tenantID {
			continue
		}
		p.Status = models.PaymentStatusLate
		r.db.payments[id] = p
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memPlans struct {
	db    *memDB
	calls int
}

func (r *memPlans) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.calls++
	p, ok := r.db.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (r *memPlans) FindDefaultPaid(ctx context.Context, tenantID string) (*models.Plan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.calls++
	var ids []string
	for id, p := range r.db.plans {
		if p.TenantID == tenantID && p.IsDefaultPaid && !p.IsTrial && p.Active {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, sql.ErrNoRows
	}
	sort.Strings(ids)
	p := r.db.plans[ids[0]]
	return &p, nil
}

type memEvents struct{ db *memDB }

func (r memEvents) Create(ctx context.Context, event *models.BillingEvent) error {
	if err := r.db.injected("CreateEvent", string(event.Event)); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = time.Now().UTC()
	r.db.events = append(r.db.events, *event)
	return nil
}

func (r memEvents) ListByEnrollment(ctx context.Context, enrollmentID string, limit int) ([]models.BillingEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.BillingEvent
	for i := len(r.db.events) - 1; i >= 0; i-- {
		if r.db.events[i].EnrollmentID == enrollmentID {
			out = append(out, r.db.events[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var errBoom = errors.New("boom")

// billingFixture wires every service against one memDB.
type billingFixture struct {
	db           *memDB
	plans        *memPlans
	clock        *calendar.FixedClock
	billing      *BillingService
	reconciler   *ReconciliationService
	payments     *PaymentService
	charges      *ChargeGenerator
	migrator     *PlanMigrator
	catalog      *CachedPlanCatalog
	cacheService *CacheService
}

func newBillingFixture(today string) *billingFixture {
	return newBillingFixtureWithCache(today, nil)
}

func newBillingFixtureWithCache(today string, cacheSvc *CacheService) *billingFixture {
	db := newMemDB()
	plans := &memPlans{db: db}
	clock := calendar.NewFixedClock(calendar.MustParse(today).Time(time.UTC).Add(12 * time.Hour))
	enrollments := memEnrollments{db: db}
	payments := memPayments{db: db}
	events := memEvents{db: db}

	catalog := NewCachedPlanCatalog(plans, cacheSvc, time.Minute, nil)
	charges := NewChargeGenerator(payments, events, nil)
	migrator := NewPlanMigrator(enrollments, catalog, events, nil)
	billing := NewBillingService(db, enrollments, events, events, charges, migrator, nil, cacheSvc, nil, clock,
		BillingOptions{Location: time.UTC, Concurrency: 1, UpcomingCacheTTL: time.Minute}, nil)
	reconciler := NewReconciliationService(db, enrollments, payments, events, cacheSvc, nil, clock, time.UTC, nil)
	paymentSvc := NewPaymentService(db, payments, enrollments, catalog, charges, events, cacheSvc, nil, clock, time.UTC, nil, nil)

	db.putPlan(models.Plan{ID: "plan-trial", TenantID: "gym-1", Name: "Experimental", Amount: decimal.Zero, DurationDays: 7, IsTrial: true, Active: true})
	db.putPlan(models.Plan{ID: "plan-monthly", TenantID: "gym-1", Name: "Mensal", Amount: decimal.RequireFromString("70.00"), DurationDays: 30, IsDefaultPaid: true, Active: true})

	return &billingFixture{
		db:           db,
		plans:        plans,
		clock:        clock,
		billing:      billing,
		reconciler:   reconciler,
		payments:     paymentSvc,
		charges:      charges,
		migrator:     migrator,
		catalog:      catalog,
		cacheService: cacheSvc,
	}
}

func trialEnrollment(id, billingStart, nextDue string) models.Enrollment {
	return models.Enrollment{
		ID:               id,
		TenantID:         "gym-1",
		StudentID:        "stu-" + id,
		PlanID:           "plan-trial",
		PeriodStart:      calendar.MustParse(billingStart),
		Amount:           decimal.Zero,
		Status:           models.EnrollmentStatusActive,
		OriginReason:     "first enrollment",
		IsTrial:          true,
		BillingStartDate: dp(billingStart),
		NextDueDate:      calendar.MustParse(nextDue),
	}
}

func paidEnrollment(id, billingStart, nextDue string) models.Enrollment {
	e := trialEnrollment(id, billingStart, nextDue)
	e.PlanID = "plan-monthly"
	e.Amount = decimal.RequireFromString("70.00")
	e.IsTrial = false
	e.OriginReason = "renewal"
	return e
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schedulo/access-control/internal/models"
)

type memSubscriptionRepo struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*models.Subscription
	plans  map[models.PlanCode]*models.Plan
	counts map[uuid.UUID]map[models.ResourceKind]int64

	countErr   error
	countCalls int
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{
		subs:   make(map[uuid.UUID]*models.Subscription),
		plans:  make(map[models.PlanCode]*models.Plan),
		counts: make(map[uuid.UUID]map[models.ResourceKind]int64),
	}
}

func (r *memSubscriptionRepo) setUsage(tenantID uuid.UUID, kind models.ResourceKind, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[tenantID] == nil {
		r.counts[tenantID] = make(map[models.ResourceKind]int64)
	}
	r.counts[tenantID][kind] = n
}

func (r *memSubscriptionRepo) GetByTenantID(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (r *memSubscriptionRepo) GetPlanByCode(ctx context.Context, code models.PlanCode) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[code]
	if !ok {
		return nil, nil
	}
	cp := *plan
	return &cp, nil
}

func (r *memSubscriptionRepo) CountResources(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countCalls++
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.counts[tenantID][kind], nil
}

func (r *memSubscriptionRepo) ReserveCreate(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, at time.Time,
	decide func(sub *models.Subscription, usage int64) error, insert func(tx *gorm.DB) error) error {
	r.mu.Lock()
	sub := r.subs[tenantID]
	var cp *models.Subscription
	if sub != nil {
		c := *sub
		cp = &c
	}
	usage := r.counts[tenantID][kind]
	err := r.countErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := decide(cp, usage); err != nil {
		return err
	}
	if err := insert(nil); err != nil {
		return err
	}
	r.setUsage(tenantID, kind, usage+1)
	return nil
}

func i64(n int64) *int64 { return &n }

func newAdmissionFixture(t *testing.T) (*AdmissionService, *memSubscriptionRepo) {
	t.Helper()
	repo := newMemSubscriptionRepo()
	return NewAdmissionService(repo, &memAuditRepo{}), repo
}

func subscribe(repo *memSubscriptionRepo, tenantID uuid.UUID, plan models.Plan, status models.SubscriptionStatus) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	plan.ID = uuid.New()
	repo.subs[tenantID] = &models.Subscription{
		ID:       uuid.New(),
		TenantID: tenantID,
		PlanID:   plan.ID,
		Plan:     plan,
		Status:   status,
	}
}

func TestCanCreateAtQuotaBoundary(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	subscribe(repo, tenantID, models.DefaultFreePlan(), models.SubscriptionStatusActive)
	ctx := context.Background()

	// 2 of 3 used: allowed.
	repo.setUsage(tenantID, models.ResourceKindService, 2)
	decision, err := svc.CanCreate(ctx, tenantID, models.ResourceKindService)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("2/3 should be allowed, got %+v", decision)
	}

	// 3 of 3 used: a limit of 3 permits exactly 3 existing resources.
	repo.setUsage(tenantID, models.ResourceKindService, 3)
	decision, err = svc.CanCreate(ctx, tenantID, models.ResourceKindService)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if decision.Allowed {
		t.Fatal("3/3 should be denied")
	}
	if decision.Reason != ReasonLimitReached {
		t.Errorf("reason = %q, want %q", decision.Reason, ReasonLimitReached)
	}
	if decision.Usage != 3 || decision.Limit == nil || *decision.Limit != 3 {
		t.Errorf("denial must carry usage and limit: %+v", decision)
	}
	if !errors.Is(decision.Err(), ErrQuotaExceeded) {
		t.Errorf("Err() = %v, want ErrQuotaExceeded", decision.Err())
	}
}

func TestCanCreateUnboundedLimit(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	pro := models.Plan{Code: models.PlanCodePro}
	subscribe(repo, tenantID, pro, models.SubscriptionStatusActive)

	repo.setUsage(tenantID, models.ResourceKindService, 100000)
	decision, err := svc.CanCreate(context.Background(), tenantID, models.ResourceKindService)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("nil limit must always allow, got %+v", decision)
	}
}

func TestCanCreateSubscriptionStatusPrecedence(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	subscribe(repo, tenantID, models.DefaultFreePlan(), models.SubscriptionStatusPastDue)
	repo.setUsage(tenantID, models.ResourceKindService, 0)

	decision, err := svc.CanCreate(context.Background(), tenantID, models.ResourceKindService)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if decision.Allowed {
		t.Fatal("PAST_DUE must deny even under quota")
	}
	if decision.Reason != ReasonSubscriptionInactive {
		t.Errorf("reason = %q, want %q", decision.Reason, ReasonSubscriptionInactive)
	}
	// Billing state is decided before counting.
	if repo.countCalls != 0 {
		t.Errorf("usage was counted %d times for an inactive subscription", repo.countCalls)
	}
	if !errors.Is(decision.Err(), ErrSubscriptionInactive) {
		t.Errorf("Err() = %v, want ErrSubscriptionInactive", decision.Err())
	}
}

func TestCanCreateTrialingAllowed(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	subscribe(repo, tenantID, models.DefaultFreePlan(), models.SubscriptionStatusTrialing)
	repo.setUsage(tenantID, models.ResourceKindUser, 1)

	decision, err := svc.CanCreate(context.Background(), tenantID, models.ResourceKindUser)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("TRIALING under quota should be allowed, got %+v", decision)
	}
}

func TestCanCreateImplicitFreePlan(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New() // no subscription row, no FREE plan row either
	ctx := context.Background()

	repo.setUsage(tenantID, models.ResourceKindUser, 2)
	decision, err := svc.CanCreate(ctx, tenantID, models.ResourceKindUser)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("2/3 on implicit FREE should be allowed, got %+v", decision)
	}

	repo.setUsage(tenantID, models.ResourceKindUser, 3)
	decision, err = svc.CanCreate(ctx, tenantID, models.ResourceKindUser)
	if err != nil {
		t.Fatalf("CanCreate: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonLimitReached {
		t.Errorf("implicit FREE must enforce its limits, got %+v", decision)
	}
}

func TestCanCreateFailsClosedOnCountError(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	subscribe(repo, tenantID, models.DefaultFreePlan(), models.SubscriptionStatusActive)
	repo.countErr = errors.New("connection refused")

	decision, err := svc.CanCreate(context.Background(), tenantID, models.ResourceKindService)
	if err == nil {
		t.Fatalf("count failure must surface as an error, got decision %+v", decision)
	}
}

func TestReserveCreateSerializesAtBoundary(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	subscribe(repo, tenantID, models.DefaultFreePlan(), models.SubscriptionStatusActive)
	repo.setUsage(tenantID, models.ResourceKindService, 2)
	ctx := context.Background()

	inserted := 0
	insert := func(tx *gorm.DB) error {
		inserted++
		return nil
	}

	// 2/3: the reservation goes through and bumps usage.
	if err := svc.ReserveCreate(ctx, tenantID, models.ResourceKindService, insert); err != nil {
		t.Fatalf("ReserveCreate at 2/3: %v", err)
	}
	// 3/3: denied, and the insert must not run.
	err := svc.ReserveCreate(ctx, tenantID, models.ResourceKindService, insert)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("ReserveCreate at 3/3: want ErrQuotaExceeded, got %v", err)
	}
	if inserted != 1 {
		t.Errorf("insert ran %d times, want 1", inserted)
	}
}

func TestReserveCreateInactiveSubscription(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	subscribe(repo, tenantID, models.DefaultFreePlan(), models.SubscriptionStatusCanceled)

	err := svc.ReserveCreate(context.Background(), tenantID, models.ResourceKindUser, func(tx *gorm.DB) error {
		t.Fatal("insert must not run for an inactive subscription")
		return nil
	})
	if !errors.Is(err, ErrSubscriptionInactive) {
		t.Errorf("want ErrSubscriptionInactive, got %v", err)
	}
}

func TestEntitlementsReport(t *testing.T) {
	svc, repo := newAdmissionFixture(t)
	tenantID := uuid.New()
	plan := models.Plan{
		Code:                "CUSTOM",
		MaxUsers:            i64(5),
		MaxServices:         nil, // unbounded
		MaxBookingsPerMonth: i64(50),
	}
	subscribe(repo, tenantID, plan, models.SubscriptionStatusActive)
	repo.setUsage(tenantID, models.ResourceKindUser, 5)
	repo.setUsage(tenantID, models.ResourceKindService, 12)
	repo.setUsage(tenantID, models.ResourceKindBooking, 7)

	entitlements, err := svc.Entitlements(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Entitlements: %v", err)
	}
	if len(entitlements) != len(models.QuotaBoundKinds) {
		t.Fatalf("got %d entitlements, want %d", len(entitlements), len(models.QuotaBoundKinds))
	}
	byKind := make(map[models.ResourceKind]Entitlement, len(entitlements))
	for _, e := range entitlements {
		byKind[e.Kind] = e
	}
	if e := byKind[models.ResourceKindUser]; e.Allowed || e.Usage != 5 {
		t.Errorf("users at limit: %+v", e)
	}
	if e := byKind[models.ResourceKindService]; !e.Allowed || e.Limit != nil {
		t.Errorf("unbounded services: %+v", e)
	}
	if e := byKind[models.ResourceKindBooking]; !e.Allowed || e.Usage != 7 {
		t.Errorf("bookings under limit: %+v", e)
	}
}

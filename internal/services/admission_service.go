package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/schedulo/access-control/internal/metrics"
	"github.com/schedulo/access-control/internal/models"
)

// Admission sentinel errors. ErrSubscriptionInactive and ErrQuotaExceeded are
// terminal for the action only; the caller's session stays valid.
var (
	ErrSubscriptionInactive = errors.New("subscription does not permit creating resources")
	ErrQuotaExceeded        = errors.New("plan limit reached")
)

// DenialReason is the machine-readable reason attached to a denied decision
type DenialReason string

const (
	ReasonSubscriptionInactive DenialReason = "SubscriptionInactive"
	ReasonLimitReached         DenialReason = "LimitReached"
)

// Decision is the admission gate's verdict for one create attempt. Denial is
// a value; the HTTP layer decides how to surface it.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
	Usage   int64        `json:"usage"`
	Limit   *int64       `json:"limit"` // nil = unbounded
}

// Err maps a denied decision to its sentinel error
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonSubscriptionInactive {
		return ErrSubscriptionInactive
	}
	return ErrQuotaExceeded
}

// SubscriptionRepo is the minimal subscription store needed by the gate
type SubscriptionRepo interface {
	GetByTenantID(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error)
	GetPlanByCode(ctx context.Context, code models.PlanCode) (*models.Plan, error)
	CountResources(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, at time.Time) (int64, error)
	ReserveCreate(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, at time.Time,
		decide func(sub *models.Subscription, usage int64) error, insert func(tx *gorm.DB) error) error
}

// AdmissionService gates quota-bound creates against the tenant's plan.
// Usage is recomputed from live entity counts at decision time, never cached
// across requests. Datastore failures while counting fail closed: a wrongly
// allowed over-quota create is a billing-integrity defect, a wrongly denied
// one is a retry.
type AdmissionService struct {
	subRepo   SubscriptionRepo
	auditRepo AuditRepo
}

// NewAdmissionService creates a new admission service
func NewAdmissionService(subRepo SubscriptionRepo, auditRepo AuditRepo) *AdmissionService {
	return &AdmissionService{subRepo: subRepo, auditRepo: auditRepo}
}

// CanCreate decides whether the tenant may create one more resource of the
// given kind. This is the advisory read path; ReserveCreate is the
// race-proof variant that couples the decision to the insert.
func (s *AdmissionService) CanCreate(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind) (*Decision, error) {
	sub, err := s.subRepo.GetByTenantID(ctx, tenantID)
	if err != nil {
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return nil, err
	}
	plan, status, err := s.resolvePlan(ctx, sub)
	if err != nil {
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return nil, err
	}

	// Billing state gates before, and independent of, any counting.
	if !status.CanCreate() {
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeSubscriptionInactive).Inc()
		s.auditDenial(ctx, tenantID, kind, ReasonSubscriptionInactive)
		return &Decision{Allowed: false, Reason: ReasonSubscriptionInactive, Limit: plan.LimitFor(kind)}, nil
	}

	limit := plan.LimitFor(kind)
	if limit == nil {
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeAllowed).Inc()
		return &Decision{Allowed: true}, nil
	}

	usage, err := s.subRepo.CountResources(ctx, tenantID, kind, time.Now().UTC())
	if err != nil {
		// Fail closed: the caller must treat this as a denial.
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		log.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("kind", string(kind)).
			Msg("Usage count failed; denying create")
		return nil, fmt.Errorf("failed to compute usage: %w", err)
	}

	return s.compare(ctx, tenantID, kind, usage, limit), nil
}

// ReserveCreate runs the gate and the caller's insert inside one transaction
// holding a row lock on the tenant's subscription, so concurrent creators are
// serialized and the re-counted usage cannot go stale before the insert.
// Returns ErrSubscriptionInactive or ErrQuotaExceeded when denied.
func (s *AdmissionService) ReserveCreate(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, insert func(tx *gorm.DB) error) error {
	err := s.subRepo.ReserveCreate(ctx, tenantID, kind, time.Now().UTC(),
		func(sub *models.Subscription, usage int64) error {
			plan, status, err := s.resolvePlan(ctx, sub)
			if err != nil {
				return err
			}
			if !status.CanCreate() {
				s.auditDenial(ctx, tenantID, kind, ReasonSubscriptionInactive)
				return ErrSubscriptionInactive
			}
			limit := plan.LimitFor(kind)
			if limit == nil {
				return nil
			}
			if usage >= *limit {
				s.auditDenial(ctx, tenantID, kind, ReasonLimitReached)
				return ErrQuotaExceeded
			}
			return nil
		},
		insert,
	)
	switch {
	case err == nil:
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeAllowed).Inc()
	case errors.Is(err, ErrSubscriptionInactive):
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeSubscriptionInactive).Inc()
	case errors.Is(err, ErrQuotaExceeded):
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeLimitReached).Inc()
	default:
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
	}
	return err
}

// Entitlement reports a tenant's usage against one plan limit
type Entitlement struct {
	Kind    models.ResourceKind `json:"kind"`
	Usage   int64               `json:"usage"`
	Limit   *int64              `json:"limit"`
	Allowed bool                `json:"allowed"`
}

// Entitlements reports current usage versus limits for every quota-bound
// resource kind. Unlike CanCreate it counts even unbounded kinds, since the
// report feeds dashboards.
func (s *AdmissionService) Entitlements(ctx context.Context, tenantID uuid.UUID) ([]Entitlement, error) {
	sub, err := s.subRepo.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan, status, err := s.resolvePlan(ctx, sub)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]Entitlement, 0, len(models.QuotaBoundKinds))
	for _, kind := range models.QuotaBoundKinds {
		usage, err := s.subRepo.CountResources(ctx, tenantID, kind, now)
		if err != nil {
			return nil, fmt.Errorf("failed to compute usage: %w", err)
		}
		limit := plan.LimitFor(kind)
		allowed := status.CanCreate() && (limit == nil || usage < *limit)
		out = append(out, Entitlement{Kind: kind, Usage: usage, Limit: limit, Allowed: allowed})
	}
	return out, nil
}

// resolvePlan returns the plan and effective billing status for a possibly
// missing subscription. No subscription row means the implicit FREE default,
// treated as active.
func (s *AdmissionService) resolvePlan(ctx context.Context, sub *models.Subscription) (*models.Plan, models.SubscriptionStatus, error) {
	if sub != nil {
		return &sub.Plan, sub.Status, nil
	}
	plan, err := s.subRepo.GetPlanByCode(ctx, models.PlanCodeFree)
	if err != nil {
		return nil, "", err
	}
	if plan == nil {
		def := models.DefaultFreePlan()
		plan = &def
	}
	return plan, models.SubscriptionStatusActive, nil
}

// compare applies the strict usage >= limit check: a limit of 3 permits
// exactly 3 existing resources and denies the 4th.
func (s *AdmissionService) compare(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, usage int64, limit *int64) *Decision {
	if usage >= *limit {
		metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeLimitReached).Inc()
		s.auditDenial(ctx, tenantID, kind, ReasonLimitReached)
		return &Decision{Allowed: false, Reason: ReasonLimitReached, Usage: usage, Limit: limit}
	}
	metrics.AdmissionDecisions.WithLabelValues(string(kind), metrics.OutcomeAllowed).Inc()
	return &Decision{Allowed: true, Usage: usage, Limit: limit}
}

func (s *AdmissionService) auditDenial(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, reason DenialReason) {
	entry := &models.AuditLog{
		TenantID:     tenantID,
		Action:       models.AuditActionAdmissionDenied,
		ResourceKind: string(kind),
		Detail:       string(reason),
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", entry.Action).Msg("Failed to write audit log")
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/schedulo/access-control/internal/database"
	"github.com/schedulo/access-control/internal/models"
)

// SubscriptionRepository handles subscription and plan database operations
type SubscriptionRepository struct{}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{}
}

// GetByTenantID retrieves a tenant's subscription with its plan preloaded.
// Returns (nil, nil) when the tenant has no subscription row.
func (r *SubscriptionRepository) GetByTenantID(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := database.DB.WithContext(ctx).
		Preload("Plan").
		Where("tenant_id = ?", tenantID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetPlanByCode retrieves a plan by code. Returns (nil, nil) when missing.
func (r *SubscriptionRepository) GetPlanByCode(ctx context.Context, code models.PlanCode) (*models.Plan, error) {
	var plan models.Plan
	err := database.DB.WithContext(ctx).Where("code = ?", code).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

// ReserveCreate serializes concurrent quota-bound creates for one tenant.
// It opens a transaction, locks the tenant's subscription row with
// SELECT ... FOR UPDATE, re-counts usage inside the transaction, asks decide
// whether the create may proceed, and finally runs the caller's insert in the
// same transaction. Concurrent creators for the same tenant queue on the row
// lock, so the gate's count can never be stale by the time the insert lands.
// Tenants without a subscription row have nothing to lock; their creates fall
// back to the unserialized count (bounded overshoot, FREE tier only).
func (r *SubscriptionRepository) ReserveCreate(
	ctx context.Context,
	tenantID uuid.UUID,
	kind models.ResourceKind,
	at time.Time,
	decide func(sub *models.Subscription, usage int64) error,
	insert func(tx *gorm.DB) error,
) error {
	return database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", tenantID).
			First(&sub).Error
		var locked *models.Subscription
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			locked = nil
		case err != nil:
			return fmt.Errorf("failed to lock subscription: %w", err)
		default:
			if err := tx.Preload("Plan").First(&sub, sub.ID).Error; err != nil {
				return fmt.Errorf("failed to load plan: %w", err)
			}
			locked = &sub
		}

		usage, err := countResources(tx, tenantID, kind, at)
		if err != nil {
			return fmt.Errorf("failed to count usage: %w", err)
		}
		if err := decide(locked, usage); err != nil {
			return err
		}
		return insert(tx)
	})
}

// CountResources returns the live count of a tenant's resources of the given
// kind. Bookings are scoped to the calendar month of at (UTC). Counts are
// recomputed per call, never cached: a stale count would let a tenant exceed
// its plan.
func (r *SubscriptionRepository) CountResources(ctx context.Context, tenantID uuid.UUID, kind models.ResourceKind, at time.Time) (int64, error) {
	return countResources(database.DB.WithContext(ctx), tenantID, kind, at)
}

func countResources(db *gorm.DB, tenantID uuid.UUID, kind models.ResourceKind, at time.Time) (int64, error) {
	var count int64
	switch kind {
	case models.ResourceKindUser:
		err := db.Model(&models.User{}).
			Where("tenant_id = ? AND is_active = ?", tenantID, true).
			Count(&count).Error
		if err != nil {
			return 0, fmt.Errorf("failed to count users: %w", err)
		}
	case models.ResourceKindService:
		err := db.Model(&models.Service{}).
			Where("tenant_id = ? AND is_active = ?", tenantID, true).
			Count(&count).Error
		if err != nil {
			return 0, fmt.Errorf("failed to count services: %w", err)
		}
	case models.ResourceKindBooking:
		start, end := monthWindow(at)
		err := db.Model(&models.Booking{}).
			Where("tenant_id = ? AND starts_at >= ? AND starts_at < ?", tenantID, start, end).
			Count(&count).Error
		if err != nil {
			return 0, fmt.Errorf("failed to count bookings: %w", err)
		}
	default:
		return 0, fmt.Errorf("unknown resource kind: %s", kind)
	}
	return count, nil
}

func monthWindow(at time.Time) (time.Time, time.Time) {
	at = at.UTC()
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

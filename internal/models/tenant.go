package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "ACTIVE"
	TenantStatusSuspended TenantStatus = "SUSPENDED"
	TenantStatusPending   TenantStatus = "PENDING"
)

// Tenant represents a customer organization (salon/clinic/studio)
type Tenant struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name      string       `gorm:"type:varchar(255);not null" json:"name"`
	Slug      string       `gorm:"type:varchar(100);not null;uniqueIndex" json:"slug"`
	Status    TenantStatus `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName overrides the table name
func (Tenant) TableName() string {
	return "tenants"
}

// BeforeCreate hook
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// PlanCode identifies a subscription tier
type PlanCode string

const (
	PlanCodeFree PlanCode = "FREE"
	PlanCodePro  PlanCode = "PRO"
)

// Plan represents a subscription tier and its quota limits.
// A nil limit means the resource is unbounded on that plan.
type Plan struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Code                PlanCode  `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	MaxUsers            *int64    `json:"max_users"`
	MaxServices         *int64    `json:"max_services"`
	MaxBookingsPerMonth *int64    `json:"max_bookings_per_month"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Plan) TableName() string {
	return "plans"
}

// BeforeCreate hook
func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// LimitFor returns the plan limit for a resource kind, nil meaning unbounded
func (p *Plan) LimitFor(kind ResourceKind) *int64 {
	switch kind {
	case ResourceKindUser:
		return p.MaxUsers
	case ResourceKindService:
		return p.MaxServices
	case ResourceKindBooking:
		return p.MaxBookingsPerMonth
	}
	return nil
}

// DefaultFreePlan returns the FREE tier with its built-in limits. Tenants
// without a subscription row are admitted against this plan.
func DefaultFreePlan() Plan {
	maxUsers := int64(3)
	maxServices := int64(3)
	maxBookings := int64(50)
	return Plan{
		Code:                PlanCodeFree,
		MaxUsers:            &maxUsers,
		MaxServices:         &maxServices,
		MaxBookingsPerMonth: &maxBookings,
	}
}

// SubscriptionStatus represents the billing state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled   SubscriptionStatus = "CANCELED"
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"
)

// CanCreate reports whether the billing state permits creating new resources.
// Inactive states block creation but never read access.
func (s SubscriptionStatus) CanCreate() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription links a tenant to its current plan and billing state
type Subscription struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID           uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex" json:"tenant_id"`
	PlanID             uuid.UUID          `gorm:"type:uuid;not null" json:"plan_id"`
	Plan               Plan               `gorm:"foreignKey:PlanID" json:"plan"`
	Status             SubscriptionStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TableName overrides the table name
func (Subscription) TableName() string {
	return "subscriptions"
}

// BeforeCreate hook
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

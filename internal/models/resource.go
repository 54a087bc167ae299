package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResourceKind identifies a quota-bound resource type
type ResourceKind string

const (
	ResourceKindUser    ResourceKind = "user"
	ResourceKindService ResourceKind = "service"
	ResourceKindBooking ResourceKind = "booking"
)

// QuotaBoundKinds lists the resource kinds the admission gate knows about
var QuotaBoundKinds = []ResourceKind{ResourceKindUser, ResourceKindService, ResourceKindBooking}

// Service is a bookable offering owned by a tenant. The scheduling subsystem
// owns its full shape; this layer only needs the columns its usage counts read.
type Service struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Service) TableName() string {
	return "services"
}

// BeforeCreate hook
func (s *Service) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Booking is an appointment owned by a tenant. Quota counting scopes bookings
// to the calendar month of StartsAt.
type Booking struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ServiceID uuid.UUID `gorm:"type:uuid;not null;index" json:"service_id"`
	StartsAt  time.Time `gorm:"not null;index" json:"starts_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Booking) TableName() string {
	return "bookings"
}

// BeforeCreate hook
func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

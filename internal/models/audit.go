package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions recorded by the access layer
const (
	AuditActionLogin            = "auth.login"
	AuditActionLoginFailed      = "auth.login_failed"
	AuditActionRefresh          = "auth.refresh"
	AuditActionReplayDetected   = "auth.replay_detected"
	AuditActionSessionRevoked   = "auth.session_revoked"
	AuditActionAllRevoked       = "auth.all_sessions_revoked"
	AuditActionAdmissionDenied  = "admission.denied"
	AuditActionRateLimitTripped = "auth.rate_limited"
)

// AuditLog represents a security-relevant event
type AuditLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID     uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	UserID       uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Action       string    `gorm:"type:varchar(100);not null;index" json:"action"`
	ResourceKind string    `gorm:"type:varchar(50);index" json:"resource_kind,omitempty"`
	IPAddress    string    `gorm:"type:varchar(45)" json:"ip_address"`
	Detail       string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

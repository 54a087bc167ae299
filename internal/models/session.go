package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the server-side record backing one logged-in device. Only a
// fingerprint (SHA-256) of the current refresh token is stored, never the raw
// token. The fingerprint rotates on every refresh; no two rotations from the
// same starting fingerprint can both succeed.
type Session struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	RefreshFingerprint string     `gorm:"type:varchar(64);not null;index" json:"-"`
	DeviceInfo         string     `gorm:"type:varchar(255)" json:"device_info"`
	IPAddress          string     `gorm:"type:varchar(45)" json:"ip_address"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `gorm:"index" json:"expires_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
}

// TableName overrides the table name
func (Session) TableName() string {
	return "sessions"
}

// BeforeCreate hook
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Revoked reports whether the session has been explicitly revoked
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Expired reports whether the session's refresh window has lapsed
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionInfo is the metadata exposed to users listing their sessions
type SessionInfo struct {
	ID         uuid.UUID  `json:"id"`
	DeviceInfo string     `json:"device_info"`
	IPAddress  string     `json:"ip_address"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Current    bool       `json:"current"`
}

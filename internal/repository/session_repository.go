package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schedulo/access-control/internal/database"
	"github.com/schedulo/access-control/internal/models"
)

// SessionRepository handles session database operations
type SessionRepository struct{}

// NewSessionRepository creates a new session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{}
}

// Create creates a new session row
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := database.DB.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID. Returns (nil, nil) when no session matches.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := database.DB.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Rotate performs the single-use refresh-token swap as one conditional
// update: the fingerprint is replaced only if the stored fingerprint still
// equals oldFingerprint and the session is neither revoked nor expired.
// Returns false when zero rows matched, meaning the token was already
// rotated, revoked, or expired; the caller classifies which.
func (r *SessionRepository) Rotate(ctx context.Context, id uuid.UUID, oldFingerprint, newFingerprint string, newExpiresAt time.Time) (bool, error) {
	res := database.DB.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND refresh_fingerprint = ? AND revoked_at IS NULL AND expires_at > ?",
			id, oldFingerprint, time.Now().UTC()).
		Updates(map[string]interface{}{
			"refresh_fingerprint": newFingerprint,
			"expires_at":          newExpiresAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to rotate session: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Revoke sets revoked_at on a session. Idempotent: revoking an
// already-revoked or missing session is a no-op success.
func (r *SessionRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	err := database.DB.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAll revokes every unrevoked session for a user. Idempotent.
func (r *SessionRepository) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	err := database.DB.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

// ListByUser returns a point-in-time snapshot of a user's sessions, newest first
func (r *SessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	var sessions []models.Session
	err := database.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schedulo/access-control/internal/database"
	"github.com/schedulo/access-control/internal/models"
)

// UserRepository handles user database operations
type UserRepository struct{}

// NewUserRepository creates a new user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// FindByEmail retrieves every user holding the email, with roles and
// permissions preloaded. Emails are unique per tenant, not globally, so the
// same address may resolve to one user per tenant; login disambiguates by
// credential. Returns an empty slice when no user matches.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) ([]models.User, error) {
	var users []models.User
	err := database.DB.WithContext(ctx).
		Preload("Roles.Permissions").
		Where("email = ?", email).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find users by email: %w", err)
	}
	return users, nil
}

// GetByID retrieves a user by ID with roles and permissions preloaded.
// Returns (nil, nil) when no user matches.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := database.DB.WithContext(ctx).
		Preload("Roles.Permissions").
		Where("id = ?", id).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

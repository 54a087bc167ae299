package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Well-known role and permission names. Roles are tenant-defined; these are
// the ones the platform seeds.
const (
	RoleSuperAdmin   = "SUPER_ADMIN" // platform role, tenant-unscoped
	RoleCompanyAdmin = "ADMIN_EMPRESA"
	RoleStaff        = "STAFF"

	PermManageBookings = "MANAGE_BOOKINGS"
	PermManageServices = "MANAGE_SERVICES"
	PermManageUsers    = "MANAGE_USERS"
	PermViewReports    = "VIEW_REPORTS"
)

// User represents an account within a tenant
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID     uuid.UUID `gorm:"type:uuid;not null;index:idx_users_tenant_email,unique,priority:1" json:"tenant_id"`
	Email        string    `gorm:"type:varchar(255);not null;index:idx_users_tenant_email,unique,priority:2" json:"email"`
	PasswordHash string    `gorm:"type:text;not null" json:"-"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	Roles        []Role    `gorm:"many2many:user_roles" json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// RoleNames returns the names of the user's roles
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// PermissionNames returns the union of permission names across the user's roles
func (u *User) PermissionNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			names = append(names, p.Name)
		}
	}
	return names
}

// Role is a named bundle of permissions assigned to users many-to-many
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string       `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Permissions []Permission `gorm:"many2many:role_permissions" json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName overrides the table name
func (Role) TableName() string {
	return "roles"
}

// BeforeCreate hook
func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Permission is an atomic named capability (e.g. MANAGE_BOOKINGS)
type Permission struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the table name
func (Permission) TableName() string {
	return "permissions"
}

// BeforeCreate hook
func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// JWTClaims represents custom JWT claims carried by access tokens.
// The payload is self-contained: authorization never needs a further lookup
// once the signature is verified.
type JWTClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	SessionID   uuid.UUID `json:"session_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	jwt.RegisteredClaims
}

// UserContext is the request-scoped identity derived from verified JWT claims
type UserContext struct {
	UserID      uuid.UUID
	TenantID    uuid.UUID
	SessionID   uuid.UUID
	Roles       []string
	Permissions []string
}

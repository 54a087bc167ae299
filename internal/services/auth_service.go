package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/authz"
	"github.com/schedulo/access-control/internal/metrics"
	"github.com/schedulo/access-control/internal/models"
	"github.com/schedulo/access-control/internal/ratelimit"
	"github.com/schedulo/access-control/internal/security"
)

// Sentinel errors for the session lifecycle; handlers map them to HTTP
// status codes and machine-readable reasons. Credential and session failures
// are terminal for the caller's session: clients must discard both tokens
// rather than retry.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrTooManyAttempts     = errors.New("too many failed login attempts")
	ErrTokenExpired        = errors.New("token expired or invalid")
	ErrTokenReplayDetected = errors.New("refresh token replay detected")
	ErrSessionRevoked      = errors.New("session revoked")
	ErrPermissionDenied    = errors.New("permission denied")
)

// UserRepo is the minimal user repository needed by the auth service
type UserRepo interface {
	FindByEmail(ctx context.Context, email string) ([]models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SessionRepo is the minimal session repository needed by the auth service
type SessionRepo interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldFingerprint, newFingerprint string, newExpiresAt time.Time) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
}

// AuditRepo is the minimal audit repository needed by the auth service
type AuditRepo interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// LoginResult holds the outcome of a successful login or refresh
type LoginResult struct {
	Tokens security.TokenPair
	User   *models.User
	Claims *models.UserContext
}

// AuthService implements the session lifecycle: login, refresh-token
// rotation, revocation, and session listing.
type AuthService struct {
	userRepo          UserRepo
	sessionRepo       SessionRepo
	auditRepo         AuditRepo
	tokens            *security.TokenProvider
	hasher            *security.Hasher
	limiter           *ratelimit.LoginLimiter
	revokeAllOnReplay bool
}

// NewAuthService returns an AuthService with the given dependencies.
// revokeAllOnReplay escalates replay detection from revoking the affected
// session to revoking every session of the user.
func NewAuthService(
	userRepo UserRepo,
	sessionRepo SessionRepo,
	auditRepo AuditRepo,
	tokens *security.TokenProvider,
	hasher *security.Hasher,
	limiter *ratelimit.LoginLimiter,
	revokeAllOnReplay bool,
) *AuthService {
	return &AuthService{
		userRepo:          userRepo,
		sessionRepo:       sessionRepo,
		auditRepo:         auditRepo,
		tokens:            tokens,
		hasher:            hasher,
		limiter:           limiter,
		revokeAllOnReplay: revokeAllOnReplay,
	}
}

// Login authenticates email/password, creates a session recording device and
// IP, and returns a fresh token pair. The per-account failed-attempt window
// is checked before credentials, so an exhausted account is rejected even
// with a correct password.
func (s *AuthService) Login(ctx context.Context, email, password, deviceInfo, ipAddress string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeInvalidCredentials).Inc()
		return nil, ErrInvalidCredentials
	}

	if blocked, _ := s.limiter.Blocked(ctx, email); blocked {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		s.audit(ctx, &models.AuditLog{
			Action:    models.AuditActionRateLimitTripped,
			IPAddress: ipAddress,
			Detail:    email,
		})
		return nil, ErrTooManyAttempts
	}

	// Emails are unique per tenant only, and the login form carries no
	// tenant, so one address may resolve to a user in each of several
	// tenants. The credential picks the account: exactly one row's hash
	// can verify.
	candidates, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	var user *models.User
	for i := range candidates {
		if s.hasher.Compare(candidates[i].PasswordHash, password) == nil {
			user = &candidates[i]
			break
		}
	}
	if user == nil {
		s.limiter.RecordFailure(ctx, email)
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeInvalidCredentials).Inc()
		for _, c := range candidates {
			s.audit(ctx, &models.AuditLog{
				TenantID:  c.TenantID,
				UserID:    c.ID,
				Action:    models.AuditActionLoginFailed,
				IPAddress: ipAddress,
			})
		}
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeAccountInactive).Inc()
		return nil, ErrAccountInactive
	}

	sessionID := uuid.New()
	refreshToken, refreshExp, err := s.tokens.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, err
	}
	accessToken, accessExp, err := s.tokens.IssueAccess(user, sessionID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:                 sessionID,
		UserID:             user.ID,
		RefreshFingerprint: security.Fingerprint(refreshToken),
		DeviceInfo:         deviceInfo,
		IPAddress:          ipAddress,
		ExpiresAt:          refreshExp,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.limiter.Reset(ctx, email)
	metrics.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.audit(ctx, &models.AuditLog{
		TenantID:  user.TenantID,
		UserID:    user.ID,
		Action:    models.AuditActionLogin,
		IPAddress: ipAddress,
		Detail:    deviceInfo,
	})

	return &LoginResult{
		Tokens: security.TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     refreshToken,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
		User:   user,
		Claims: s.claims(user, sessionID),
	}, nil
}

// Refresh rotates a refresh token and returns a new token pair. The
// fingerprint swap is a single conditional update; when it matches zero rows
// the session is reloaded to tell replay apart from revocation and expiry.
// A replayed token is treated as session compromise: the session is revoked
// immediately, and with revokeAllOnReplay every session of the user is.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	sessionID, userID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeExpired).Inc()
		return nil, ErrTokenExpired
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeAccountInactive).Inc()
		return nil, ErrAccountInactive
	}

	newRefresh, newRefreshExp, err := s.tokens.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, err
	}

	rotated, err := s.sessionRepo.Rotate(ctx, sessionID,
		security.Fingerprint(refreshToken), security.Fingerprint(newRefresh), newRefreshExp)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, s.classifyRotationFailure(ctx, sessionID, user)
	}

	accessToken, accessExp, err := s.tokens.IssueAccess(user, sessionID)
	if err != nil {
		return nil, err
	}

	metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.audit(ctx, &models.AuditLog{
		TenantID: user.TenantID,
		UserID:   user.ID,
		Action:   models.AuditActionRefresh,
	})

	return &LoginResult{
		Tokens: security.TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     newRefresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: newRefreshExp,
		},
		User:   user,
		Claims: s.claims(user, sessionID),
	}, nil
}

// classifyRotationFailure decides why a conditional rotate matched zero rows
func (s *AuthService) classifyRotationFailure(ctx context.Context, sessionID uuid.UUID, user *models.User) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || session.Revoked() {
		metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeRevoked).Inc()
		return ErrSessionRevoked
	}
	if session.Expired(time.Now().UTC()) {
		metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeExpired).Inc()
		return ErrTokenExpired
	}

	// Fingerprint mismatch on a live session: a rotated-away token came
	// back. Treat the session as compromised.
	metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeReplay).Inc()
	metrics.ReplayDetections.Inc()
	log.Warn().
		Str("session_id", sessionID.String()).
		Str("user_id", user.ID.String()).
		Bool("revoke_all", s.revokeAllOnReplay).
		Msg("Refresh token replay detected")

	if s.revokeAllOnReplay {
		if err := s.sessionRepo.RevokeAll(ctx, user.ID); err != nil {
			return err
		}
	} else {
		if err := s.sessionRepo.Revoke(ctx, sessionID); err != nil {
			return err
		}
	}
	s.audit(ctx, &models.AuditLog{
		TenantID: user.TenantID,
		UserID:   user.ID,
		Action:   models.AuditActionReplayDetected,
		Detail:   sessionID.String(),
	})
	return ErrTokenReplayDetected
}

// Revoke revokes one session on behalf of the caller. Users may revoke their
// own sessions; MANAGE_USERS permits revoking others'. Idempotent: revoking
// an already-revoked or unknown session succeeds.
func (s *AuthService) Revoke(ctx context.Context, uc *models.UserContext, sessionID uuid.UUID) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	if session.UserID != uc.UserID && !authz.HasPermission(uc, models.PermManageUsers) {
		return ErrPermissionDenied
	}
	if err := s.sessionRepo.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.audit(ctx, &models.AuditLog{
		TenantID: uc.TenantID,
		UserID:   session.UserID,
		Action:   models.AuditActionSessionRevoked,
		Detail:   sessionID.String(),
	})
	return nil
}

// RevokeAll revokes every session of a user. Idempotent. Already-issued
// access tokens stay valid until they expire; the exposure window is bounded
// by the access-token TTL.
func (s *AuthService) RevokeAll(ctx context.Context, uc *models.UserContext, userID uuid.UUID) error {
	if userID != uc.UserID && !authz.HasPermission(uc, models.PermManageUsers) {
		return ErrPermissionDenied
	}
	if err := s.sessionRepo.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, &models.AuditLog{
		TenantID: uc.TenantID,
		UserID:   userID,
		Action:   models.AuditActionAllRevoked,
	})
	return nil
}

// ListSessions returns a point-in-time snapshot of a user's sessions, newest
// first, flagging the one backing the caller's current access token.
func (s *AuthService) ListSessions(ctx context.Context, uc *models.UserContext) ([]models.SessionInfo, error) {
	sessions, err := s.sessionRepo.ListByUser(ctx, uc.UserID)
	if err != nil {
		return nil, err
	}
	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, models.SessionInfo{
			ID:         sess.ID,
			DeviceInfo: sess.DeviceInfo,
			IPAddress:  sess.IPAddress,
			CreatedAt:  sess.CreatedAt,
			ExpiresAt:  sess.ExpiresAt,
			RevokedAt:  sess.RevokedAt,
			Current:    sess.ID == uc.SessionID,
		})
	}
	return infos, nil
}

// ValidateAccess verifies an access token and returns the caller's claims
func (s *AuthService) ValidateAccess(token string) (*models.UserContext, error) {
	return s.tokens.ValidateAccess(token)
}

func (s *AuthService) claims(user *models.User, sessionID uuid.UUID) *models.UserContext {
	return &models.UserContext{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		SessionID:   sessionID,
		Roles:       user.RoleNames(),
		Permissions: user.PermissionNames(),
	}
}

// audit records a security event; failures are logged, never surfaced
func (s *AuthService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", entry.Action).Msg("Failed to write audit log")
	}
}

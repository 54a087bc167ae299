package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/schedulo/access-control/internal/models"
)

// ErrInvalidToken is returned when a token is malformed, expired, or fails
// signature/issuer/audience checks.
var ErrInvalidToken = errors.New("invalid token")

// RefreshClaims holds JWT claims for the refresh token. The session ID binds
// the token to its server-side session row; rotation is enforced by comparing
// the token's fingerprint against the row, not by anything in the claims.
type RefreshClaims struct {
	SessionID uuid.UUID `json:"session_id"`
	jwt.RegisteredClaims
}

// TokenPair bundles the two credentials returned by login and refresh
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenProvider issues and validates JWT access and refresh tokens, signing
// with RS256 or ES256 depending on the configured private key.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenProvider returns a TokenProvider signing with the given key.
// The access TTL bounds the post-revocation exposure window: a revoked
// session's already-issued access token stays usable for at most accessTTL.
func NewTokenProvider(privateKey crypto.Signer, issuer string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  privateKey.Public(),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access-token lifetime
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

// RefreshTTL returns the configured refresh-token lifetime
func (p *TokenProvider) RefreshTTL() time.Duration {
	return p.refreshTTL
}

// IssueAccess issues a short-lived, self-contained access token carrying the
// user's identity, roles, and the union of their permissions.
func (p *TokenProvider) IssueAccess(user *models.User, sessionID uuid.UUID) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := models.JWTClaims{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		SessionID:   sessionID,
		Roles:       user.RoleNames(),
		Permissions: user.PermissionNames(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// IssueRefresh issues a long-lived refresh token bound to a session. The
// caller must store Fingerprint(token) on the session row; the raw token is
// never persisted.
func (p *TokenProvider) IssueRefresh(userID, sessionID uuid.UUID) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.refreshTTL)
	claims := RefreshClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// ValidateAccess parses and validates an access token and returns the user
// context embedded in its claims.
func (p *TokenProvider) ValidateAccess(tokenString string) (*models.UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, p.keyFunc)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.Issuer != p.issuer {
		return nil, ErrInvalidToken
	}
	return &models.UserContext{
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		SessionID:   claims.SessionID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

// ValidateRefresh parses and validates a refresh token, returning the session
// and user IDs it is bound to. Expiry is enforced here; rotation state is the
// session repository's concern.
func (p *TokenProvider) ValidateRefresh(tokenString string) (sessionID, userID uuid.UUID, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, p.keyFunc)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid || claims.Issuer != p.issuer {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	return claims.SessionID, userID, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.publicKey.(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		return p.publicKey, nil
	}
	return nil, ErrInvalidToken
}

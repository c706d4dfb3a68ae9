package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ocx/opscore/internal/apierr"
)

// AccessClaims is the access token payload (spec §4.H): tenant identity
// is derived exclusively from the token, never from request body or
// query.
type AccessClaims struct {
	jwt.RegisteredClaims
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
	MFAPassed bool   `json:"mfa_passed"`
}

// StepUpClaims is the short-lived credential issued after a successful
// MFA verification, required to complete sensitive actions.
type StepUpClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// TokenIssuer signs and verifies access and step-up tokens. Only HS256
// is accepted on verify, matching the core's single-algorithm contract.
type TokenIssuer struct {
	secret      []byte
	accessTTL   time.Duration
	stepUpTTL   time.Duration
	refreshTTL  time.Duration
}

// NewTokenIssuer builds a TokenIssuer. secret must be at least 32 bytes
// of high-entropy material in production (boot-time config validation
// enforces this, see internal/config).
func NewTokenIssuer(secret []byte, accessTTL, stepUpTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, accessTTL: accessTTL, stepUpTTL: stepUpTTL, refreshTTL: refreshTTL}
}

// IssueAccess signs a new access token for userID/tenantID/role.
func (t *TokenIssuer) IssueAccess(userID, tenantID, role string, mfaPassed bool) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
		TenantID:  tenantID,
		Role:      role,
		MFAPassed: mfaPassed,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ParseAccess verifies and decodes an access token, rejecting any
// algorithm other than HS256.
func (t *TokenIssuer) ParseAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apierr.Unauthenticated("invalid or expired access token")
	}
	return claims, nil
}

// IssueStepUp signs a short-lived step-up token after a successful TOTP
// or recovery-code verification.
func (t *TokenIssuer) IssueStepUp(userID, tenantID string) (string, error) {
	now := time.Now()
	claims := StepUpClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.stepUpTTL)),
		},
		TenantID: tenantID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ParseStepUp verifies and decodes a step-up token.
func (t *TokenIssuer) ParseStepUp(tokenString string) (*StepUpClaims, error) {
	claims := &StepUpClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apierr.Unauthenticated("invalid or expired step-up token")
	}
	return claims, nil
}

// NewRefreshToken returns a fresh opaque refresh token and the hash of
// it that should be persisted server-side — the raw token is returned to
// the client exactly once and never stored.
func (t *TokenIssuer) NewRefreshToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken deterministically hashes a refresh token for lookup
// and storage; the raw token is never persisted.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RefreshTTL returns the configured refresh token lifetime.
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

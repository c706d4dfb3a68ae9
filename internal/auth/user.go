package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/tenant"
)

// User is a tenant-owned account (spec §2/3).
type User struct {
	ID                   string
	TenantID             string
	Email                string
	PasswordHash         string
	Role                 string
	IsActive             bool
	MFAEnabled           bool
	MFASecretEncrypted   string
	MFARecoveryCodes     []string
	FailedLoginAttempts  int
	LockedUntil          *time.Time
	CreatedAt            time.Time
}

// GetTenantID satisfies tenant.Entity.
func (u User) GetTenantID() string { return u.TenantID }

// maxFailedLoginAttempts locks the account after this many consecutive
// bad passwords, for lockDuration.
const (
	maxFailedLoginAttempts = 5
	lockDuration           = 15 * time.Minute
)

// RegisterInput is the caller-supplied half of a new User.
type RegisterInput struct {
	Email    string
	Password string
	Role     string
}

// Register creates a new tenant-scoped user with an Argon2id password
// hash. tenantID must already be resolved (e.g. from a signup-flow
// invite or slug lookup) — Register never infers it from the request.
func Register(ctx context.Context, db *store.DB, tenantID string, in RegisterInput) (User, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, apierr.Internal(err)
	}
	u := User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = db.Primary().ExecContext(ctx, `
		INSERT INTO users (tenant_id, id, email, password_hash, role, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.TenantID, u.ID, u.Email, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, apierr.Conflict("a user with this email already exists")
		}
		return User{}, err
	}
	return u, nil
}

// FindByEmail looks up an active-or-not user by tenant+email, for the
// login flow (which must distinguish "wrong password" from "no such
// user" only in its logging, never in its response, to avoid user
// enumeration).
func FindByEmail(ctx context.Context, db *store.DB, tenantID, email string) (User, error) {
	row := db.Primary().QueryRowContext(ctx, `
		SELECT tenant_id, id, email, password_hash, role, is_active, mfa_enabled,
		       coalesce(mfa_secret_encrypted, ''), mfa_recovery_codes,
		       failed_login_attempts, locked_until, created_at
		FROM users WHERE tenant_id = $1 AND email = $2 AND deleted_at IS NULL`, tenantID, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var locked sql.NullTime
	if err := row.Scan(&u.TenantID, &u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive,
		&u.MFAEnabled, &u.MFASecretEncrypted, pq.Array(&u.MFARecoveryCodes),
		&u.FailedLoginAttempts, &locked, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return User{}, apierr.Unauthenticated("invalid email or password")
		}
		return User{}, err
	}
	if locked.Valid {
		u.LockedUntil = &locked.Time
	}
	return u, nil
}

// LoginInput is a login attempt's credentials.
type LoginInput struct {
	TenantID string
	Email    string
	Password string
}

// Login verifies credentials, enforcing the lockout policy, and
// returns the user on success (the caller still owes an MFA challenge
// if u.MFAEnabled before issuing an access token).
func Login(ctx context.Context, db *store.DB, in LoginInput) (User, error) {
	u, err := FindByEmail(ctx, db, in.TenantID, in.Email)
	if err != nil {
		return User{}, err
	}
	if !u.IsActive {
		return User{}, apierr.Unauthenticated("invalid email or password")
	}
	if u.LockedUntil != nil && u.LockedUntil.After(time.Now()) {
		return User{}, apierr.RateLimited("account locked until %s", u.LockedUntil.Format(time.RFC3339))
	}

	result, err := VerifyPassword(in.Password, u.PasswordHash)
	if err != nil {
		return User{}, err
	}
	if !result.Valid {
		if err := recordFailedLogin(ctx, db, u); err != nil {
			return User{}, err
		}
		return User{}, apierr.Unauthenticated("invalid email or password")
	}

	if result.UpgradedHash != "" {
		_, _ = db.Primary().ExecContext(ctx, `UPDATE users SET password_hash = $3 WHERE tenant_id = $1 AND id = $2`,
			u.TenantID, u.ID, result.UpgradedHash)
	}
	if u.FailedLoginAttempts > 0 || u.LockedUntil != nil {
		_, _ = db.Primary().ExecContext(ctx, `
			UPDATE users SET failed_login_attempts = 0, locked_until = NULL
			WHERE tenant_id = $1 AND id = $2`, u.TenantID, u.ID)
	}
	return u, nil
}

func recordFailedLogin(ctx context.Context, db *store.DB, u User) error {
	attempts := u.FailedLoginAttempts + 1
	var lockedUntil *time.Time
	if attempts >= maxFailedLoginAttempts {
		t := time.Now().Add(lockDuration)
		lockedUntil = &t
		attempts = 0
	}
	_, err := db.Primary().ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = $3, locked_until = $4
		WHERE tenant_id = $1 AND id = $2`, u.TenantID, u.ID, attempts, lockedUntil)
	return err
}

// ConsumeRecoveryCode removes the matched recovery code hash so it
// cannot be reused, per spec §4.H "consumed on use".
func ConsumeRecoveryCode(ctx context.Context, db *store.DB, u User, usedIndex int) error {
	remaining := append(append([]string{}, u.MFARecoveryCodes[:usedIndex]...), u.MFARecoveryCodes[usedIndex+1:]...)
	_, err := db.Primary().ExecContext(ctx, `
		UPDATE users SET mfa_recovery_codes = $3 WHERE tenant_id = $1 AND id = $2`,
		u.TenantID, u.ID, pq.Array(remaining))
	return err
}

// StoreRefreshToken persists a hashed refresh token for userID.
func StoreRefreshToken(ctx context.Context, db *store.DB, tenantID, userID, tokenHash string, ttl time.Duration) error {
	_, err := db.Primary().ExecContext(ctx, `
		INSERT INTO refresh_tokens (tenant_id, user_id, token_hash, expires_at, created_at)
		VALUES ($1,$2,$3,$4,now())`, tenantID, userID, tokenHash, time.Now().Add(ttl))
	return err
}

// RotateRefreshToken validates oldTokenHash is live, revokes it, and
// returns the user it belonged to. Callers issue a fresh access+refresh
// pair from the result — refresh tokens are single-use.
func RotateRefreshToken(ctx context.Context, db *store.DB, oldTokenHash string) (tenantID, userID string, err error) {
	err = db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT tenant_id, user_id FROM refresh_tokens
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
			FOR UPDATE`, oldTokenHash)
		if scanErr := row.Scan(&tenantID, &userID); scanErr != nil {
			if scanErr == sql.ErrNoRows {
				return apierr.Unauthenticated("refresh token is invalid, expired, or already used")
			}
			return scanErr
		}
		_, execErr := tx.ExecContext(ctx, `
			UPDATE refresh_tokens SET revoked_at = now() WHERE token_hash = $1`, oldTokenHash)
		return execErr
	})
	return tenantID, userID, err
}

// UserByID loads a user within the ambient tenant, for /auth/me.
func UserByID(ctx context.Context, db *store.DB, userID string) (User, error) {
	tid, err := tenant.Require(ctx)
	if err != nil {
		return User{}, err
	}
	return UserByTenantAndID(ctx, db, tid, userID)
}

// UserByTenantAndID loads a user by an explicitly-known tenant id, for
// call sites (like refresh-token rotation) that resolve the tenant from
// something other than the ambient request context.
func UserByTenantAndID(ctx context.Context, db *store.DB, tenantID, userID string) (User, error) {
	row := db.Primary().QueryRowContext(ctx, `
		SELECT tenant_id, id, email, password_hash, role, is_active, mfa_enabled,
		       coalesce(mfa_secret_encrypted, ''), mfa_recovery_codes,
		       failed_login_attempts, locked_until, created_at
		FROM users WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, userID)
	return scanUser(row)
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

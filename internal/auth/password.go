// Package auth implements the auth & rate-limit guard (spec §4.H):
// Argon2id password hashing with a bcrypt legacy-verify path, JWT
// access/refresh issuance, TOTP MFA with bcrypt recovery codes, identity-
// priority fixed-window rate limiting, and CSRF protection for
// cookie-authenticated endpoints.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2 tuning per spec §4.H: 64 MB memory, 3 iterations, parallelism 4.
const (
	argonMemoryKB  = 64 * 1024
	argonTime      = 3
	argonThreads   = 4
	argonKeyLength = 32
	argonSaltLength = 16
)

const argon2idPrefix = "$argon2id$"

// HashPassword derives an Argon2id hash encoded in the standard
// "$argon2id$v=19$m=...,t=...,p=...$salt$hash" form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKB, argonThreads, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemoryKB, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyResult reports whether a password matched and, for legacy
// bcrypt hashes, the Argon2id hash the caller should persist in place of
// the bcrypt one.
type VerifyResult struct {
	Valid        bool
	UpgradedHash string // non-empty only when Valid and the stored hash was legacy bcrypt
}

// VerifyPassword checks password against storedHash, which may be either
// an Argon2id hash or a legacy bcrypt hash. A successful bcrypt verify
// returns an UpgradedHash so the caller rehashes to Argon2id and
// overwrites the stored value — legacy hashes are never re-verified
// twice.
func VerifyPassword(password, storedHash string) (VerifyResult, error) {
	if strings.HasPrefix(storedHash, argon2idPrefix) {
		ok, err := verifyArgon2id(password, storedHash)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Valid: ok}, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password))
	if err != nil {
		return VerifyResult{Valid: false}, nil
	}
	upgraded, err := HashPassword(password)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Valid: true, UpgradedHash: upgraded}, nil
}

func verifyArgon2id(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("auth: malformed argon2id hash")
	}
	var version int
	var memory, timeCost, threads uint32
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, timeCost, memory, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// HashRecoveryCode bcrypt-hashes a single MFA recovery code for storage
// in User.mfa_recovery_codes.
func HashRecoveryCode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	return string(h), err
}

// VerifyRecoveryCode checks code against one stored hash.
func VerifyRecoveryCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

package auth

import (
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/ocx/opscore/internal/apierr"
)

// GenerateMFASecret provisions a new TOTP secret for accountName
// (typically the user's email), scoped to issuer (the tenant slug or
// product name shown in the authenticator app).
func GenerateMFASecret(issuer, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
}

// VerifyTOTP checks code against secret using the default 30s step and
// ±1 step skew.
func VerifyTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

// MFAChallenge resolves a login's second factor: either a valid TOTP
// code or a one-time recovery code (bcrypt-hashed at rest, consumed on
// use — callers must remove the matched hash from the stored slice
// after a successful recovery-code verification).
func MFAChallenge(secret string, recoveryHashes []string, code string) (usedRecoveryIndex int, err error) {
	if VerifyTOTP(secret, code) {
		return -1, nil
	}
	for i, h := range recoveryHashes {
		if VerifyRecoveryCode(code, h) {
			return i, nil
		}
	}
	return -1, apierr.Unauthenticated("invalid MFA code")
}

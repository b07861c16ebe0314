package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and inactive account alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned when the per-identifier login budget is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrUnauthorized is the coarse failure returned by WebAuthn login and the HTTP guard.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEngineNotReady is returned when an Engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrTwoFactorRequired marks the login branch that needs a second factor.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrTwoFactorInvalid is returned when a TOTP or recovery code does not verify.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorLocked is returned while the 2FA lockout window is active.
	ErrTwoFactorLocked = errors.New("two-factor verification locked")
	// ErrTwoFactorAlreadyEnabled rejects a second setup on an enabled account.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotPending is returned when setup confirmation has no pending secret.
	ErrTwoFactorNotPending = errors.New("no pending two-factor setup")
	// ErrTwoFactorNotEnabled is returned by operations that need 2FA switched on.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")

	ErrTokenInvalid        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrTokenReplayDetected = errors.New("token replay detected")
	// ErrRefreshRateLimited is returned when a token family rotates faster than allowed.
	ErrRefreshRateLimited = errors.New("refresh rate limited")

	// ErrDeviceNotFound hides both missing devices and devices owned by someone else.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrCannotRevokeCurrentDevice is returned when a caller tries to revoke the device it is using.
	ErrCannotRevokeCurrentDevice = errors.New("cannot_revoke_current_device")

	// ErrChallengeExpired is returned when a WebAuthn challenge is missing or past its TTL.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrVerificationFailed is the coarse WebAuthn registration failure.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrNoPasskeys is returned when login is started for an account without credentials.
	ErrNoPasskeys = errors.New("no passkey available")
	// ErrCredentialNotFound is returned when a credential id is unknown to the caller.
	ErrCredentialNotFound = errors.New("credential not found")
)

// TwoFactorLockedError reports an active 2FA lockout with the whole minutes
// left, rounded up. It matches ErrTwoFactorLocked under errors.Is.
type TwoFactorLockedError struct {
	Minutes int
}

func (e *TwoFactorLockedError) Error() string {
	return fmt.Sprintf("%s: retry in %d minutes", ErrTwoFactorLocked, e.Minutes)
}

func (e *TwoFactorLockedError) Unwrap() error { return ErrTwoFactorLocked }

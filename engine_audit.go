package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/secretbox"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventLoginTwoFactorRequired   = "login_2fa_required"
	auditEventTokenRotated             = "token_rotated"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshRateLimited       = "refresh_rate_limited"
	auditEventTokenReplayDetected      = "token_replay_detected"
	auditEventTokenFamilyRevoked       = "token_family_revoked"
	auditEventAllTokensRevoked         = "all_tokens_revoked"
	auditEventLogout                   = "logout"
	auditEventTwoFactorSetupRequested  = "2fa_setup_requested"
	auditEventTwoFactorEnabled         = "2fa_enabled"
	auditEventTwoFactorDisabled        = "2fa_disabled"
	auditEventTwoFactorSuccess         = "2fa_success"
	auditEventTwoFactorFailure         = "2fa_failure"
	auditEventTwoFactorLocked          = "2fa_locked"
	auditEventRecoveryCodeUsed         = "recovery_code_used"
	auditEventRecoveryCodesRegenerated = "recovery_codes_regenerated"
	auditEventNewDevice                = "new_device"
	auditEventDeviceTrusted            = "device_trusted"
	auditEventDeviceRevoked            = "device_revoked"
	auditEventDeviceSessionsRevoked    = "device_sessions_revoked"
	auditEventWebAuthnRegistered       = "webauthn_registered"
	auditEventWebAuthnRegisterFailure  = "webauthn_registration_failure"
	auditEventWebAuthnLoginSuccess     = "webauthn_login_success"
	auditEventWebAuthnLoginFailure     = "webauthn_login_failure"
	auditEventWebAuthnCredentialDelete = "webauthn_credential_deleted"
)

// AuditErrorCode is the stable error identifier written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrTokenReplay        AuditErrorCode = "token_replay"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrTwoFactorInvalid   AuditErrorCode = "2fa_invalid"
	auditErrTwoFactorLocked    AuditErrorCode = "2fa_locked"
	auditErrTwoFactorState     AuditErrorCode = "2fa_state"
	auditErrDecrypt            AuditErrorCode = "decrypt_failed"
	auditErrDeviceNotFound     AuditErrorCode = "device_not_found"
	auditErrCurrentDevice      AuditErrorCode = "current_device"
	auditErrChallengeExpired   AuditErrorCode = "challenge_expired"
	auditErrVerification       AuditErrorCode = "verification_failed"
	auditErrCredentialNotFound AuditErrorCode = "credential_not_found"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// criticalEvents are always flagged regardless of outcome.
var criticalEvents = map[string]struct{}{
	auditEventTokenReplayDetected:   {},
	auditEventDeviceSessionsRevoked: {},
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  auditSeverity(eventType, success),
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditSeverity(eventType string, success bool) AuditSeverity {
	if _, ok := criticalEvents[eventType]; ok {
		return AuditSeverityCritical
	}
	if eventType == auditEventTwoFactorLocked {
		return AuditSeverityWarning
	}
	if !success {
		return AuditSeverityWarning
	}
	return AuditSeverityInfo
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenReplayDetected):
		return auditErrTokenReplay
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrTwoFactorLocked):
		return auditErrTwoFactorLocked
	case errors.Is(err, ErrTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotPending),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorState
	case errors.Is(err, secretbox.ErrDecrypt),
		errors.Is(err, secretbox.ErrFormat):
		return auditErrDecrypt
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, ErrCannotRevokeCurrentDevice):
		return auditErrCurrentDevice
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrVerificationFailed):
		return auditErrVerification
	case errors.Is(err, ErrCredentialNotFound), errors.Is(err, ErrNoPasskeys):
		return auditErrCredentialNotFound
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	default:
		return auditErrInternal
	}
}

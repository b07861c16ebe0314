package authcore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/internal/flows"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const qrCodeSize = 200

// SetupTwoFactor generates a TOTP secret and stores it sealed, with 2FA left
// disabled until VerifyTwoFactorSetup confirms it. The plaintext secret is
// only ever returned here.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TwoFactor.Issuer,
		AccountName: user.Email,
		Period:      e.config.TwoFactor.Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	sealed, err := e.sealer.Seal(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}
	if err := e.store.SaveTwoFactorSecret(ctx, user.ID, sealed); err != nil {
		return nil, fmt.Errorf("save totp secret: %w", err)
	}

	e.metricInc(MetricTwoFactorSetup)
	e.emitAudit(ctx, auditEventTwoFactorSetupRequested, true, user.ID, nil, nil)

	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// VerifyTwoFactorSetup confirms the pending secret with a TOTP code. A wrong
// code returns Success=false and does not count as a failed attempt.
func (e *Engine) VerifyTwoFactorSetup(ctx context.Context, userID, code string) (*TwoFactorConfirmation, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if user.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotPending
	}

	secret, err := e.sealer.Open(user.TwoFactorSecret)
	if err != nil {
		return nil, fmt.Errorf("open totp secret: %w", err)
	}
	if !e.validateTOTP(code, secret) {
		e.emitAudit(ctx, auditEventTwoFactorEnabled, false, user.ID, ErrTwoFactorInvalid, nil)
		return &TwoFactorConfirmation{Success: false}, nil
	}

	codes, hashes, err := e.newRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := e.store.EnableTwoFactor(ctx, user.ID, hashes); err != nil {
		return nil, fmt.Errorf("enable 2fa: %w", err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, user.ID, nil, func() map[string]string {
		return map[string]string{"recovery_codes": fmt.Sprint(len(codes))}
	})
	return &TwoFactorConfirmation{Success: true, RecoveryCodes: codes}, nil
}

// VerifyTwoFactorCode checks a TOTP or recovery code during login.
//
// While the account is locked it returns ErrTwoFactorLocked without opening
// the secret. A matching recovery code is consumed. A failed attempt below
// the limit returns false and a nil error; the attempt that reaches the
// limit locks the account and returns ErrTwoFactorLocked.
func (e *Engine) VerifyTwoFactorCode(ctx context.Context, userID, code string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		return false, ErrTwoFactorNotEnabled
	}

	now := e.clock()
	if err := e.lockedError(user, now); err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, user.ID, err, func() map[string]string {
			return map[string]string{"reason": "locked"}
		})
		return false, err
	}

	secret, err := e.sealer.Open(user.TwoFactorSecret)
	if err != nil {
		return false, fmt.Errorf("open totp secret: %w", err)
	}
	if e.validateTOTP(code, secret) {
		e.resetTwoFactorFailures(ctx, user)
		e.metricInc(MetricTwoFactorSuccess)
		e.emitAudit(ctx, auditEventTwoFactorSuccess, true, user.ID, nil, func() map[string]string {
			return map[string]string{"method": "totp"}
		})
		return true, nil
	}

	if used, err := e.consumeRecoveryCode(ctx, user, code); err != nil {
		return false, err
	} else if used {
		return true, nil
	}

	return false, e.recordTwoFactorFailure(ctx, user, now)
}

func (e *Engine) consumeRecoveryCode(ctx context.Context, user *User, code string) (bool, error) {
	normalized := flows.NormalizeRecoveryCode(code)
	if !flows.LooksLikeRecoveryCode(normalized, e.config.TwoFactor.RecoveryCodeLength) {
		return false, nil
	}
	hash, ok := flows.MatchRecoveryCode(normalized, user.RecoveryCodes, e.recoveryHash.Verify)
	if !ok {
		return false, nil
	}
	consumed, err := e.store.ConsumeRecoveryCode(ctx, user.ID, hash)
	if err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	if !consumed {
		// A concurrent request spent it first.
		return false, nil
	}

	e.resetTwoFactorFailures(ctx, user)
	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, user.ID, nil, func() map[string]string {
		return map[string]string{"remaining": fmt.Sprint(len(user.RecoveryCodes) - 1)}
	})
	return true, nil
}

func (e *Engine) recordTwoFactorFailure(ctx context.Context, user *User, now time.Time) error {
	lockUntil := now.Add(e.config.TwoFactor.LockDuration)
	attempts, locked, err := e.store.RecordTwoFactorFailure(ctx, user.ID, e.config.TwoFactor.MaxAttempts, lockUntil, now)
	if err != nil {
		return fmt.Errorf("record 2fa failure: %w", err)
	}

	e.metricInc(MetricTwoFactorFailure)
	if locked {
		e.metricInc(MetricTwoFactorLocked)
		err := &TwoFactorLockedError{Minutes: minutesUntil(now, lockUntil)}
		e.emitAudit(ctx, auditEventTwoFactorLocked, false, user.ID, err, func() map[string]string {
			return map[string]string{"attempts": fmt.Sprint(attempts)}
		})
		return err
	}
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, user.ID, ErrTwoFactorInvalid, func() map[string]string {
		return map[string]string{"attempts": fmt.Sprint(attempts)}
	})
	return nil
}

func (e *Engine) resetTwoFactorFailures(ctx context.Context, user *User) {
	if user.TwoFactorAttempts == 0 && user.TwoFactorLockedUntil == nil {
		return
	}
	if err := e.store.ResetTwoFactorFailures(ctx, user.ID); err != nil {
		e.logger.Warn("reset 2fa counter failed", "user_id", user.ID, "err", err)
	}
}

func (e *Engine) lockedError(user *User, now time.Time) error {
	if user.TwoFactorLockedUntil == nil || !now.Before(*user.TwoFactorLockedUntil) {
		return nil
	}
	return &TwoFactorLockedError{Minutes: minutesUntil(now, *user.TwoFactorLockedUntil)}
}

func minutesUntil(now, until time.Time) int {
	return int(math.Ceil(until.Sub(now).Minutes()))
}

// DisableTwoFactor turns 2FA off after checking a current TOTP code.
// Recovery codes are not accepted.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := e.requireCurrentTOTP(ctx, userID, code)
	if err != nil {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, userID, err, nil)
		return err
	}
	if err := e.store.DisableTwoFactor(ctx, user.ID); err != nil {
		return fmt.Errorf("disable 2fa: %w", err)
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, user.ID, nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code after checking a
// current TOTP code, returning the new plaintext codes once.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := e.requireCurrentTOTP(ctx, userID, code)
	if err != nil {
		e.emitAudit(ctx, auditEventRecoveryCodesRegenerated, false, userID, err, nil)
		return nil, err
	}
	codes, hashes, err := e.newRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, fmt.Errorf("replace recovery codes: %w", err)
	}
	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesRegenerated, true, user.ID, nil, nil)
	return codes, nil
}

func (e *Engine) requireCurrentTOTP(ctx context.Context, userID, code string) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotEnabled
	}
	now := e.clock()
	if err := e.lockedError(user, now); err != nil {
		return nil, err
	}
	secret, err := e.sealer.Open(user.TwoFactorSecret)
	if err != nil {
		return nil, fmt.Errorf("open totp secret: %w", err)
	}
	if !e.validateTOTP(code, secret) {
		if err := e.recordTwoFactorFailure(ctx, user, now); err != nil {
			return nil, err
		}
		return nil, ErrTwoFactorInvalid
	}
	e.resetTwoFactorFailures(ctx, user)
	return user, nil
}

// IsTwoFactorRequired reports whether the user's role mandates 2FA.
func (e *Engine) IsTwoFactorRequired(ctx context.Context, userID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return e.roleRequiresTwoFactor(user.Role), nil
}

func (e *Engine) roleRequiresTwoFactor(role string) bool {
	return slices.ContainsFunc(e.config.TwoFactor.RequiredRoles, func(r string) bool {
		return strings.EqualFold(r, role)
	})
}

func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	status := &TwoFactorStatus{
		Enabled:  user.TwoFactorEnabled,
		Pending:  !user.TwoFactorEnabled && user.TwoFactorSecret != "",
		Required: e.roleRequiresTwoFactor(user.Role),
	}
	if user.TwoFactorEnabled {
		status.RemainingRecoveryCodes = len(user.RecoveryCodes)
	}
	if user.TwoFactorLockedUntil != nil && e.clock().Before(*user.TwoFactorLockedUntil) {
		until := *user.TwoFactorLockedUntil
		status.LockedUntil = &until
	}
	return status, nil
}

func (e *Engine) validateTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, e.clock(), totp.ValidateOpts{
		Period:    e.config.TwoFactor.Period,
		Skew:      e.config.TwoFactor.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (e *Engine) newRecoveryCodes() ([]string, []string, error) {
	codes, err := flows.NewRecoveryCodes(e.config.TwoFactor.RecoveryCodeCount, e.config.TwoFactor.RecoveryCodeLength)
	if err != nil {
		return nil, nil, fmt.Errorf("generate recovery codes: %w", err)
	}
	hashes, err := flows.HashRecoveryCodes(codes, e.recoveryHash.Hash)
	if err != nil {
		return nil, nil, fmt.Errorf("hash recovery codes: %w", err)
	}
	return codes, hashes, nil
}

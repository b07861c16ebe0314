package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LoginInput carries the credentials of a password login. TwoFactorCode is
// either a TOTP code or a recovery code and is only read when 2FA is enabled.
type LoginInput struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

// Login verifies credentials and issues a token pair, or reports that a
// second factor is needed. Unknown email, wrong password and inactive account
// all return ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	ip := clientIPFromContext(ctx)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrLoginRateLimited
		}
	}

	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load user: %w", err)
		}
		e.passwordHash.VerifyDummy(in.Password)
		return nil, e.loginFailed(ctx, email, "", "unknown_email")
	}

	ok, err := e.passwordHash.Verify(in.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.loginFailed(ctx, email, user.ID, "bad_password")
	}
	if !user.Active {
		return nil, e.loginFailed(ctx, email, user.ID, "inactive")
	}

	e.upgradePasswordHash(ctx, user, in.Password)

	if user.TwoFactorEnabled {
		if strings.TrimSpace(in.TwoFactorCode) == "" {
			e.metricInc(MetricLoginTwoFactorRequired)
			e.emitAudit(ctx, auditEventLoginTwoFactorRequired, true, user.ID, nil, nil)
			return &LoginResult{Requires2FA: true, UserID: user.ID}, nil
		}
		verified, err := e.VerifyTwoFactorCode(ctx, user.ID, in.TwoFactorCode)
		if err != nil {
			return nil, err
		}
		if !verified {
			return nil, ErrTwoFactorInvalid
		}
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, email); err != nil {
			e.logger.Warn("reset login limiter failed", "err", err)
		}
	}

	return e.completeLogin(ctx, user, "password")
}

// completeLogin registers the device, issues tokens and stamps the login.
func (e *Engine) completeLogin(ctx context.Context, user *User, method string) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)

	var deviceID string
	var newDevice bool
	reg, err := e.RegisterDevice(ctx, user.ID, ua, ip, acceptLanguageFromContext(ctx))
	if err != nil {
		e.logger.Warn("device registration failed", "user_id", user.ID, "err", err)
	} else {
		deviceID = reg.Device.ID
		newDevice = reg.IsNew
		if reg.IsNew && e.config.Devices.AlertOnNewDevice {
			device := *reg.Device
			e.goBackground(ctx, func(bctx context.Context) {
				e.SendNewDeviceAlert(bctx, user.ID, &device)
			})
		}
	}

	pair, err := e.issueTokenPair(ctx, user, deviceID)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	now := e.clock()
	if err := e.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		e.logger.Warn("update last login failed", "user_id", user.ID, "err", err)
	} else {
		user.LastLoginAt = &now
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"method": method, "device_id": deviceID}
	})

	return &LoginResult{
		User:         user.Public(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		DeviceID:     deviceID,
		NewDevice:    newDevice,
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, userID, reason string) error {
	if e.limiter != nil {
		if err := e.limiter.RecordLoginFailure(ctx, email, clientIPFromContext(ctx)); err != nil {
			e.logger.Warn("record login failure failed", "err", err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": email, "reason": reason}
	})
	return ErrInvalidCredentials
}

func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwordHash.Hash(plain)
	if err != nil {
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.logger.Warn("password rehash failed", "user_id", user.ID, "err", err)
		return
	}
	user.PasswordHash = hash
}

// Refresh rotates a refresh token. See RotateRefreshToken.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return e.RotateRefreshToken(ctx, refreshToken)
}

// Logout revokes every refresh token of userID.
func (e *Engine) Logout(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	n, err := e.store.RevokeAllUserTokens(ctx, userID, e.clock())
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return nil
}

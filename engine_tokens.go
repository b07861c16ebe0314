package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/internal/flows"
	"github.com/Bidiche49/art-des-jardins-sub001/internal/rate"
	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/google/uuid"
)

// CreateRefreshToken mints and persists a refresh token. An empty familyID
// starts a new family; deviceID may be empty.
func (e *Engine) CreateRefreshToken(ctx context.Context, userID, email, role, deviceID, familyID string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}
	child, err := e.mintRefresh(userID, email, role, familyID, deviceID, e.clock())
	if err != nil {
		return "", err
	}
	row := refreshRowFromChild(child)
	if err := e.store.CreateRefreshToken(ctx, &row); err != nil {
		return "", fmt.Errorf("persist refresh token: %w", err)
	}
	return child.Token, nil
}

func (e *Engine) mintRefresh(userID, email, role, familyID, deviceID string, now time.Time) (flows.ChildToken, error) {
	jti := uuid.NewString()
	expiresAt := now.Add(e.config.Tokens.RefreshTTL())
	token, err := e.jwtManager.CreateRefresh(userID, email, role, familyID, jti, expiresAt)
	if err != nil {
		return flows.ChildToken{}, err
	}
	return flows.ChildToken{
		ID:        jti,
		UserID:    userID,
		FamilyID:  familyID,
		DeviceID:  deviceID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

func refreshRowFromChild(c flows.ChildToken) RefreshToken {
	return RefreshToken{
		ID:        c.ID,
		UserID:    c.UserID,
		Token:     c.Token,
		DeviceID:  c.DeviceID,
		FamilyID:  c.FamilyID,
		ExpiresAt: c.ExpiresAt,
		CreatedAt: c.CreatedAt,
	}
}

// issueTokenPair starts a new refresh family for user.
func (e *Engine) issueTokenPair(ctx context.Context, user *User, deviceID string) (TokenPair, error) {
	access, err := e.jwtManager.CreateAccess(user.ID, user.Email, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.CreateRefreshToken(ctx, user.ID, user.Email, user.Role, deviceID, "")
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RotateRefreshToken exchanges a live refresh token for a new pair in the
// same family. Presenting an already used token revokes the whole family.
func (e *Engine) RotateRefreshToken(ctx context.Context, oldToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRotate(ctx, oldToken, flows.RotateDeps{
		Now:          e.clock,
		ParseRefresh: e.parseRefreshForFlow,
		LoadToken:    e.loadRefreshForFlow,
		LoadOwner:    e.loadOwnerForFlow,
		AllowRefresh: e.allowRefreshForFlow(),
		MintChild: func(owner flows.TokenOwner, familyID, deviceID string, now time.Time) (flows.ChildToken, error) {
			return e.mintRefresh(owner.ID, owner.Email, owner.Role, familyID, deviceID, now)
		},
		IssueAccess: func(owner flows.TokenOwner) (string, error) {
			return e.jwtManager.CreateAccess(owner.ID, owner.Email, owner.Role)
		},
		RotateStored: func(ctx context.Context, usedID string, usedAt time.Time, child flows.ChildToken) (bool, error) {
			row := refreshRowFromChild(child)
			return e.store.RotateRefreshToken(ctx, usedID, usedAt, &row)
		},
		RevokeFamily: e.store.RevokeTokenFamily,
		NotFound:     ErrNotFound,
	})

	if res.Failure == flows.RotateFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventTokenRotated, true, res.UserID, nil, func() map[string]string {
			return map[string]string{
				"family_id": res.FamilyID,
				"token_id":  res.Child.ID,
			}
		})
		return &TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
	}

	err := rotateError(res)
	switch res.Failure {
	case flows.RotateFailureReplay:
		e.metricInc(MetricRefreshReplayDetected)
		e.metricInc(MetricFamilyRevoked)
		if res.Err != nil {
			e.logger.Error("revoke family after replay failed", "user_id", res.UserID, "err", res.Err)
		}
		e.emitAudit(ctx, auditEventTokenReplayDetected, false, res.UserID, err, func() map[string]string {
			return map[string]string{
				"family_id": res.FamilyID,
				"token_id":  res.TokenID,
				"revoked":   fmt.Sprint(res.Revoked),
			}
		})
		userID, ip := res.UserID, clientIPFromContext(ctx)
		e.goBackground(ctx, func(bctx context.Context) {
			e.SendReplayAlert(bctx, userID, ip)
		})
	case flows.RotateFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, res.UserID, err, func() map[string]string {
			return map[string]string{"family_id": res.FamilyID}
		})
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, err, func() map[string]string {
			return map[string]string{"reason": rotateFailureReason(res.Failure)}
		})
	}
	return nil, err
}

func rotateError(res flows.RotateResult) error {
	switch res.Failure {
	case flows.RotateFailureParse, flows.RotateFailureNotFound:
		return ErrTokenInvalid
	case flows.RotateFailureAccountDisabled:
		return fmt.Errorf("%w: account disabled", ErrTokenInvalid)
	case flows.RotateFailureExpired:
		return ErrTokenExpired
	case flows.RotateFailureRevoked:
		return ErrTokenRevoked
	case flows.RotateFailureReplay:
		return ErrTokenReplayDetected
	case flows.RotateFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRateLimited) {
			return ErrRefreshRateLimited
		}
		return fmt.Errorf("refresh limiter: %w", res.Err)
	case flows.RotateFailureMint:
		return fmt.Errorf("mint refresh token: %w", res.Err)
	default:
		return fmt.Errorf("rotate refresh token: %w", res.Err)
	}
}

func rotateFailureReason(kind flows.RotateFailureKind) string {
	switch kind {
	case flows.RotateFailureParse:
		return "parse"
	case flows.RotateFailureNotFound:
		return "not_found"
	case flows.RotateFailureAccountDisabled:
		return "account_disabled"
	case flows.RotateFailureExpired:
		return "expired"
	case flows.RotateFailureRevoked:
		return "revoked"
	case flows.RotateFailureMint:
		return "mint"
	case flows.RotateFailurePersist:
		return "persist"
	default:
		return "load"
	}
}

func (e *Engine) parseRefreshForFlow(token string) (flows.ParsedRefresh, error) {
	claims, err := e.jwtManager.ParseRefresh(token)
	if err != nil {
		return flows.ParsedRefresh{}, err
	}
	return flows.ParsedRefresh{
		JTI:      claims.ID,
		Subject:  claims.Subject,
		FamilyID: claims.FamilyID,
	}, nil
}

func (e *Engine) loadRefreshForFlow(ctx context.Context, id string) (*flows.StoredToken, error) {
	row, err := e.store.GetRefreshToken(ctx, id)
	if err != nil {
		return nil, err
	}
	return &flows.StoredToken{
		ID:        row.ID,
		UserID:    row.UserID,
		FamilyID:  row.FamilyID,
		DeviceID:  row.DeviceID,
		UsedAt:    row.UsedAt,
		RevokedAt: row.RevokedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (e *Engine) loadOwnerForFlow(ctx context.Context, userID string) (*flows.TokenOwner, error) {
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &flows.TokenOwner{ID: u.ID, Email: u.Email, Role: u.Role, Active: u.Active}, nil
}

func (e *Engine) allowRefreshForFlow() func(context.Context, string) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.AllowRefresh
}

// RevokeTokenFamily revokes every live token of a family.
func (e *Engine) RevokeTokenFamily(ctx context.Context, familyID, reason string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.store.RevokeTokenFamily(ctx, familyID, e.clock())
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}
	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, auditEventTokenFamilyRevoked, true, "", nil, func() map[string]string {
		return map[string]string{"family_id": familyID, "reason": reason, "revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// RevokeAllUserTokens revokes every live refresh token of userID.
func (e *Engine) RevokeAllUserTokens(ctx context.Context, userID, reason string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.store.RevokeAllUserTokens(ctx, userID, e.clock())
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	e.emitAudit(ctx, auditEventAllTokensRevoked, true, userID, nil, func() map[string]string {
		return map[string]string{"reason": reason, "revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// RevokeToken revokes a single token by id. Unknown or already revoked ids
// are not an error.
func (e *Engine) RevokeToken(ctx context.Context, id string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := e.store.RevokeRefreshToken(ctx, id, e.clock()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// CleanupExpiredTokens deletes expired rows and rows revoked longer than
// Tokens.RevokedRetention ago.
func (e *Engine) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	now := e.clock()
	n, err := e.store.DeleteExpiredRefreshTokens(ctx, now, now.Add(-e.config.Tokens.RevokedRetention))
	if err != nil {
		return 0, fmt.Errorf("cleanup tokens: %w", err)
	}
	if n > 0 {
		e.metrics.Add(MetricTokensCleaned, uint64(n))
	}
	return n, nil
}

// StartTokenJanitor runs CleanupExpiredTokens every interval until ctx is done.
func (e *Engine) StartTokenJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.CleanupExpiredTokens(ctx)
				if err != nil {
					e.logger.Warn("token cleanup failed", "err", err)
					continue
				}
				e.logger.Info("token cleanup", "deleted", n)
			}
		}
	}()
}

// ValidateAccessToken verifies an access token's signature, expiry and purpose.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	claims, err := e.jwtManager.ParseAccess(token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

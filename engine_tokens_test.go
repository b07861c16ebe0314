package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func loginPair(t *testing.T, env *testEnv, email string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(requestContext("203.0.113.7", chromeWindowsUA, "fr"), LoginInput{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

func refreshID(t *testing.T, env *testEnv, token string) string {
	t.Helper()
	claims, err := env.engine.jwtManager.ParseRefresh(token)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	return claims.ID
}

func TestRotateKeepsFamilyAndDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	first := loginPair(t, env, "owner@example.com")
	ctx := context.Background()

	pair, err := env.engine.RotateRefreshToken(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if pair.RefreshToken == first.RefreshToken || pair.AccessToken == "" {
		t.Fatal("expected a fresh pair")
	}

	parent, _ := env.store.GetRefreshToken(ctx, refreshID(t, env, first.RefreshToken))
	child, _ := env.store.GetRefreshToken(ctx, refreshID(t, env, pair.RefreshToken))
	if parent.UsedAt == nil {
		t.Fatal("expected parent marked used")
	}
	if child.FamilyID != parent.FamilyID || child.DeviceID != first.DeviceID {
		t.Fatalf("child left the family or device: %+v", child)
	}
	if child.UsedAt != nil || child.RevokedAt != nil {
		t.Fatal("child must be live")
	}
}

func TestReplayRevokesFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	first := loginPair(t, env, "owner@example.com")
	ctx := WithClientIP(context.Background(), "192.0.2.44")

	pair, err := env.engine.RotateRefreshToken(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := env.engine.RotateRefreshToken(ctx, first.RefreshToken); !errors.Is(err, ErrTokenReplayDetected) {
		t.Fatalf("expected replay, got %v", err)
	}

	familyID := env.store.tokensWhere(func(RefreshToken) bool { return true })[0].FamilyID
	for _, r := range env.store.tokensWhere(func(r RefreshToken) bool { return r.FamilyID == familyID }) {
		if r.RevokedAt == nil {
			t.Fatalf("token %s survived replay", r.ID)
		}
	}

	if _, err := env.engine.RotateRefreshToken(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected the child to be dead, got %v", err)
	}

	ev := env.waitAudit(t, auditEventTokenReplayDetected)
	if ev.Severity != AuditSeverityCritical || ev.IP != "192.0.2.44" {
		t.Fatalf("unexpected replay event %+v", ev)
	}

	waitFor(t, func() bool {
		for _, m := range env.mailer.messages() {
			if strings.Contains(m.Subject, "signed out") && strings.Contains(m.Text, "192.0.2.44") {
				return true
			}
		}
		return false
	})
}

func TestConcurrentRotationHasSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	first := loginPair(t, env, "owner@example.com")
	familyID := env.store.tokensWhere(func(RefreshToken) bool { return true })[0].FamilyID

	const workers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.RotateRefreshToken(context.Background(), first.RefreshToken)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenReplayDetected), errors.Is(err, ErrTokenRevoked):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	family := env.store.tokensWhere(func(r RefreshToken) bool { return r.FamilyID == familyID })
	if len(family) != 2 {
		t.Fatalf("expected parent plus one child, got %d rows", len(family))
	}
}

func TestRotateRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	ctx := context.Background()

	if _, err := env.engine.RotateRefreshToken(ctx, "not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected invalid, got %v", err)
	}

	access := loginPair(t, env, "owner@example.com").AccessToken
	if _, err := env.engine.RotateRefreshToken(ctx, access); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token as refresh: expected invalid, got %v", err)
	}

	revoked, err := env.engine.CreateRefreshToken(ctx, "u1", "owner@example.com", "employe", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.RevokeToken(ctx, refreshID(t, env, revoked)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.engine.RotateRefreshToken(ctx, revoked); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("revoked: expected revoked, got %v", err)
	}

	expired, err := env.engine.CreateRefreshToken(ctx, "u1", "owner@example.com", "employe", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.store.mutateToken(refreshID(t, env, expired), func(r *RefreshToken) {
		r.ExpiresAt = env.clock.Now().Add(-time.Minute)
	})
	if _, err := env.engine.RotateRefreshToken(ctx, expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired: expected expired, got %v", err)
	}

	live, err := env.engine.CreateRefreshToken(ctx, "u1", "owner@example.com", "employe", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = env.store.mutateUser("u1", func(u *User) { u.Active = false })
	_, err = env.engine.RotateRefreshToken(ctx, live)
	if !errors.Is(err, ErrTokenInvalid) || !strings.Contains(err.Error(), "account disabled") {
		t.Fatalf("disabled owner: expected invalid/account disabled, got %v", err)
	}
}

func TestRefreshFamilyRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.MaxRefreshPerFamily = 2
		c.Security.RefreshFamilyCooldown = time.Minute
	})
	env.addUser(t, "u1", "owner@example.com", "employe")
	token := loginPair(t, env, "owner@example.com").RefreshToken
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		pair, err := env.engine.RotateRefreshToken(ctx, token)
		if err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
		token = pair.RefreshToken
	}
	if _, err := env.engine.RotateRefreshToken(ctx, token); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected family rate limit, got %v", err)
	}

	env.redis.FastForward(2 * time.Minute)
	if _, err := env.engine.RotateRefreshToken(ctx, token); err != nil {
		t.Fatalf("expected rotation after cooldown, got %v", err)
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	ctx := context.Background()

	mk := func() string {
		tok, err := env.engine.CreateRefreshToken(ctx, "u1", "owner@example.com", "employe", "", "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return refreshID(t, env, tok)
	}
	live, expired, oldRevoked, freshRevoked := mk(), mk(), mk(), mk()

	now := env.clock.Now()
	env.store.mutateToken(expired, func(r *RefreshToken) { r.ExpiresAt = now.Add(-time.Hour) })
	env.store.mutateToken(oldRevoked, func(r *RefreshToken) {
		at := now.Add(-48 * time.Hour)
		r.RevokedAt = &at
	})
	env.store.mutateToken(freshRevoked, func(r *RefreshToken) {
		at := now.Add(-time.Hour)
		r.RevokedAt = &at
	})

	n, err := env.engine.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", n)
	}
	for _, id := range []string{live, freshRevoked} {
		if _, err := env.store.GetRefreshToken(ctx, id); err != nil {
			t.Fatalf("row %s should remain: %v", id, err)
		}
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricTokensCleaned]; got != 2 {
		t.Fatalf("expected cleaned metric 2, got %d", got)
	}
}

func TestValidateAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	res := loginPair(t, env, "owner@example.com")
	ctx := context.Background()

	calls := env.store.getUserCalls.Load()
	claims, err := env.engine.ValidateAccessToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Email != "owner@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if env.store.getUserCalls.Load() != calls {
		t.Fatal("access token validation must not hit the store")
	}

	if _, err := env.engine.ValidateAccessToken(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh token to be refused, got %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, res.AccessToken+"x"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected tampered token to be refused, got %v", err)
	}
}

func TestRevokeTokenFamilyAndUserTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "owner@example.com", "employe")
	ctx := context.Background()

	a, _ := env.engine.CreateRefreshToken(ctx, "u1", "owner@example.com", "employe", "", "fam-a")
	b, _ := env.engine.CreateRefreshToken(ctx, "u1", "owner@example.com", "employe", "", "fam-b")

	n, err := env.engine.RevokeTokenFamily(ctx, "fam-a", "admin")
	if err != nil || n != 1 {
		t.Fatalf("revoke family: n=%d err=%v", n, err)
	}
	if _, err := env.engine.RotateRefreshToken(ctx, a); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected family token revoked, got %v", err)
	}

	n, err = env.engine.RevokeAllUserTokens(ctx, "u1", "password_change")
	if err != nil || n != 1 {
		t.Fatalf("revoke user tokens: n=%d err=%v", n, err)
	}
	if _, err := env.engine.RotateRefreshToken(ctx, b); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected user token revoked, got %v", err)
	}
}

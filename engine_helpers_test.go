package authcore

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/geoip"
	"github.com/Bidiche49/art-des-jardins-sub001/mail"
	"github.com/Bidiche49/art-des-jardins-sub001/password"
	"github.com/Bidiche49/art-des-jardins-sub001/secretbox"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testPassword   = "correct-horse-battery"
	testSigningKey = "0123456789abcdef0123456789abcdef-signing"
	testSealKey    = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// memStore is an in-memory Store. Every read returns a copy so tests observe
// the same isolation a database gives.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*User
	tokens      map[string]*RefreshToken
	devices     map[string]*KnownDevice
	credentials map[string]*WebAuthnCredential

	getUserCalls atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]*User{},
		tokens:      map[string]*RefreshToken{},
		devices:     map[string]*KnownDevice{},
		credentials: map[string]*WebAuthnCredential{},
	}
}

func copyUser(u *User) *User {
	c := *u
	c.RecoveryCodes = slices.Clone(u.RecoveryCodes)
	if u.TwoFactorLockedUntil != nil {
		t := *u.TwoFactorLockedUntil
		c.TwoFactorLockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func (s *memStore) putUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = copyUser(u)
}

func (s *memStore) user(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return copyUser(u)
}

func (s *memStore) mutateUser(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.getUserCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.getUserCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *memStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	return s.mutateUser(userID, func(u *User) { u.LastLoginAt = &at })
}

func (s *memStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return s.mutateUser(userID, func(u *User) { u.PasswordHash = hash })
}

func (s *memStore) SaveTwoFactorSecret(_ context.Context, userID, sealed string) error {
	return s.mutateUser(userID, func(u *User) {
		u.TwoFactorSecret = sealed
		u.TwoFactorEnabled = false
	})
}

func (s *memStore) EnableTwoFactor(_ context.Context, userID string, hashes []string) error {
	return s.mutateUser(userID, func(u *User) {
		u.TwoFactorEnabled = true
		u.RecoveryCodes = slices.Clone(hashes)
		u.TwoFactorAttempts = 0
		u.TwoFactorLockedUntil = nil
	})
}

func (s *memStore) DisableTwoFactor(_ context.Context, userID string) error {
	return s.mutateUser(userID, func(u *User) {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.RecoveryCodes = nil
		u.TwoFactorAttempts = 0
		u.TwoFactorLockedUntil = nil
	})
}

func (s *memStore) ReplaceRecoveryCodes(_ context.Context, userID string, hashes []string) error {
	return s.mutateUser(userID, func(u *User) { u.RecoveryCodes = slices.Clone(hashes) })
}

func (s *memStore) ConsumeRecoveryCode(_ context.Context, userID, hash string) (bool, error) {
	var consumed bool
	err := s.mutateUser(userID, func(u *User) {
		i := slices.Index(u.RecoveryCodes, hash)
		if i < 0 {
			return
		}
		u.RecoveryCodes = slices.Delete(u.RecoveryCodes, i, i+1)
		consumed = true
	})
	return consumed, err
}

func (s *memStore) RecordTwoFactorFailure(_ context.Context, userID string, maxAttempts int, lockedUntil, now time.Time) (int, bool, error) {
	var attempts int
	var locked bool
	err := s.mutateUser(userID, func(u *User) {
		if u.TwoFactorLockedUntil != nil && !now.Before(*u.TwoFactorLockedUntil) {
			u.TwoFactorAttempts = 0
			u.TwoFactorLockedUntil = nil
		}
		u.TwoFactorAttempts++
		attempts = u.TwoFactorAttempts
		if attempts >= maxAttempts {
			until := lockedUntil
			u.TwoFactorLockedUntil = &until
			locked = true
		}
	})
	return attempts, locked, err
}

func (s *memStore) ResetTwoFactorFailures(_ context.Context, userID string) error {
	return s.mutateUser(userID, func(u *User) {
		u.TwoFactorAttempts = 0
		u.TwoFactorLockedUntil = nil
	})
}

func (s *memStore) CreateRefreshToken(_ context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tokens[t.ID]; dup {
		return errors.New("duplicate token id")
	}
	c := *t
	s.tokens[t.ID] = &c
	return nil
}

func (s *memStore) GetRefreshToken(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *memStore) RotateRefreshToken(_ context.Context, usedID string, usedAt time.Time, child *RefreshToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[usedID]
	if !ok || t.UsedAt != nil || t.RevokedAt != nil {
		return false, nil
	}
	t.UsedAt = &usedAt
	c := *child
	s.tokens[child.ID] = &c
	return true, nil
}

func (s *memStore) RevokeRefreshToken(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &at
	return true, nil
}

func (s *memStore) revokeWhere(at time.Time, match func(*RefreshToken) bool) int64 {
	var n int64
	for _, t := range s.tokens {
		if t.RevokedAt == nil && match(t) {
			t.RevokedAt = &at
			n++
		}
	}
	return n
}

func (s *memStore) RevokeTokenFamily(_ context.Context, familyID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(at, func(t *RefreshToken) bool { return t.FamilyID == familyID }), nil
}

func (s *memStore) RevokeAllUserTokens(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(at, func(t *RefreshToken) bool { return t.UserID == userID }), nil
}

func (s *memStore) DeleteExpiredRefreshTokens(_ context.Context, now, revokedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if !t.ExpiresAt.After(now) || (t.RevokedAt != nil && t.RevokedAt.Before(revokedBefore)) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) mutateToken(id string, fn func(*RefreshToken)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[id]; ok {
		fn(t)
	}
}

// tokensWhere returns copies of the tokens matching fn.
func (s *memStore) tokensWhere(fn func(RefreshToken) bool) []RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RefreshToken
	for _, t := range s.tokens {
		if fn(*t) {
			out = append(out, *t)
		}
	}
	return out
}

func (s *memStore) UpsertDevice(_ context.Context, d *KnownDevice) (*KnownDevice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.devices {
		if existing.UserID == d.UserID && existing.Fingerprint == d.Fingerprint {
			existing.LastIP = d.LastIP
			existing.LastCity = d.LastCity
			existing.LastCountry = d.LastCountry
			existing.LastSeenAt = d.LastSeenAt
			c := *existing
			return &c, false, nil
		}
	}
	c := *d
	s.devices[d.ID] = &c
	out := c
	return &out, true, nil
}

func (s *memStore) GetDevice(_ context.Context, id string) (*KnownDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (s *memStore) ListDevices(_ context.Context, userID string) ([]KnownDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []KnownDevice
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b KnownDevice) int { return b.LastSeenAt.Compare(a.LastSeenAt) })
	return out, nil
}

func (s *memStore) MarkDeviceTrusted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.TrustedAt = &at
	return nil
}

func (s *memStore) DeleteDeviceWithTokens(_ context.Context, deviceID, userID string, allUserTokens bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		return ErrNotFound
	}
	delete(s.devices, deviceID)
	s.revokeWhere(at, func(t *RefreshToken) bool {
		if t.UserID != userID {
			return false
		}
		return allUserTokens || t.DeviceID == deviceID
	})
	return nil
}

func (s *memStore) ListCredentials(_ context.Context, userID string) ([]WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WebAuthnCredential
	for _, c := range s.credentials {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) GetCredentialByCredentialID(_ context.Context, credentialID []byte) (*WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if bytes.Equal(c.CredentialID, credentialID) {
			out := *c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) CreateCredential(_ context.Context, c *WebAuthnCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	s.credentials[c.ID] = &stored
	return nil
}

func (s *memStore) UpdateCredentialUsage(_ context.Context, id string, signCount uint32, backupState bool, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.SignCount = signCount
	c.BackupState = backupState
	c.LastUsedAt = &usedAt
	return nil
}

func (s *memStore) DeleteCredential(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(s.credentials, id)
	return true, nil
}

// countingSealer records how often Open is called.
type countingSealer struct {
	inner secretbox.Sealer
	opens atomic.Int64
}

func (s *countingSealer) Seal(plaintext string) (string, error) { return s.inner.Seal(plaintext) }

func (s *countingSealer) Open(sealed string) (string, error) {
	s.opens.Add(1)
	return s.inner.Open(sealed)
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

type staticGeo struct{ loc *geoip.Location }

func (g staticGeo) Lookup(context.Context, string) *geoip.Location { return g.loc }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// newTestClock starts at wall time so JWT expiry, which the signing library
// checks against time.Now, stays consistent with engine arithmetic.
func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *Engine
	store  *memStore
	mailer *captureMailer
	sealer *countingSealer
	clock  *testClock
	redis  *miniredis.Miniredis
	sink   *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.PrivateKey = []byte(testSigningKey)
	cfg.Tokens.Issuer = "authcore-test"
	cfg.Password = PasswordConfig{
		Memory:         8 * 1024,
		Time:           1,
		Parallelism:    1,
		SaltLength:     16,
		KeyLength:      32,
		UpgradeOnLogin: true,
	}
	cfg.Devices.ActionBaseURL = "https://api.example.test/api/v1/devices"
	cfg.Devices.FrontendURL = "https://app.example.test"
	cfg.WebAuthn.RPID = "localhost"
	cfg.WebAuthn.RPOrigin = "http://localhost:3000"
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = true
	return cfg
}

// newTestEnv builds an Engine over memStore and miniredis.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	aes, err := secretbox.NewAESGCMFromHex(testSealKey)
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}

	env := &testEnv{
		store:  newMemStore(),
		mailer: &captureMailer{},
		sealer: &countingSealer{inner: aes},
		clock:  newTestClock(),
		redis:  mr,
		sink:   NewChannelSink(512),
	}

	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithRedis(client).
		WithMailer(env.mailer).
		WithGeoResolver(staticGeo{loc: &geoip.Location{City: "Nantes", Country: "France", CountryCode: "FR"}}).
		WithSealer(env.sealer).
		WithAuditSink(env.sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// addUser stores an active user whose password is testPassword.
func (env *testEnv) addUser(t *testing.T, id, email, role string) *User {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := h.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Camille",
		Role:         role,
		Active:       true,
	}
	env.store.putUser(u)
	return u
}

func requestContext(ip, ua, lang string) context.Context {
	ctx := WithClientIP(context.Background(), ip)
	ctx = WithUserAgent(ctx, ua)
	return WithAcceptLanguage(ctx, lang)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

const (
	chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	safariIPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
)

// waitAudit reads delivered audit events until one of eventType shows up.
func (env *testEnv) waitAudit(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not emitted", eventType)
			return AuditEvent{}
		}
	}
}

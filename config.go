package authcore

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config is the library configuration. Builder clones it on WithConfig, so
// later mutation by the caller has no effect on a built Engine.
type Config struct {
	Tokens    TokensConfig
	TwoFactor TwoFactorConfig
	Devices   DevicesConfig
	WebAuthn  WebAuthnConfig
	Password  PasswordConfig
	Security  SecurityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKENS CONFIG
====================================
*/

// TokensConfig controls access and refresh token issuance.
type TokensConfig struct {
	AccessTTL time.Duration
	// RefreshExpiresIn uses the "<n><s|m|h|d>" form, e.g. "7d". An
	// unparsable value falls back to DefaultRefreshTTL.
	RefreshExpiresIn string
	// RevokedRetention keeps revoked rows around for replay forensics before
	// CleanupExpiredTokens deletes them.
	RevokedRetention time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	PrivateKey       []byte
	PublicKey        []byte
	Issuer           string
	Audience         string
	Leeway           time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

type TwoFactorConfig struct {
	Issuer       string
	Period       uint
	Skew         uint
	MaxAttempts  int
	LockDuration time.Duration
	// RequiredRoles lists the roles for which IsTwoFactorRequired is true.
	RequiredRoles []string
	// EncryptionKey seals TOTP secrets at rest (64 hex chars). Ignored when
	// a Sealer is supplied to the Builder.
	EncryptionKey      string
	RecoveryCodeCount  int
	RecoveryCodeLength int
}

/*
====================================
DEVICES CONFIG
====================================
*/

type DevicesConfig struct {
	AppName        string
	ActionTokenTTL time.Duration
	// ActionBaseURL prefixes the trust/revoke links sent by email, e.g.
	// "https://api.example.com/api/v1/devices/action".
	ActionBaseURL string
	// FrontendURL is where the public action endpoints redirect.
	FrontendURL string
	// AlertOnNewDevice sends the new-device email from Login.
	AlertOnNewDevice bool
}

/*
====================================
WEBAUTHN CONFIG
====================================
*/

type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigin      string
	ChallengeTTL  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes passwords stored with weaker parameters.
	UpgradeOnLogin bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	// ProductionMode pins the WebAuthn relying party to WebAuthnConfig.
	// Outside it, the request origin selects the relying party.
	ProductionMode        bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	MaxRefreshPerFamily   int
	RefreshFamilyCooldown time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	DefaultRefreshTTL     = 7 * 24 * time.Hour
	DefaultActionTokenTTL = 24 * time.Hour
	DefaultChallengeTTL   = 5 * time.Minute
)

func defaultConfig() Config {
	return Config{
		Tokens: TokensConfig{
			AccessTTL:        15 * time.Minute,
			RefreshExpiresIn: "7d",
			RevokedRetention: 24 * time.Hour,
			SigningMethod:    "hs256",
			Leeway:           30 * time.Second,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:             "authcore",
			Period:             30,
			Skew:               1,
			MaxAttempts:        5,
			LockDuration:       15 * time.Minute,
			RequiredRoles:      []string{"patron"},
			RecoveryCodeCount:  10,
			RecoveryCodeLength: 8,
		},
		Devices: DevicesConfig{
			AppName:          "authcore",
			ActionTokenTTL:   DefaultActionTokenTTL,
			AlertOnNewDevice: true,
		},
		WebAuthn: WebAuthnConfig{
			RPID:          "localhost",
			RPDisplayName: "authcore",
			RPOrigin:      "http://localhost:3000",
			ChallengeTTL:  DefaultChallengeTTL,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           1,
			Parallelism:    4,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Security: SecurityConfig{
			ProductionMode:        false,
			EnableIPThrottle:      true,
			MaxLoginAttempts:      10,
			LoginCooldown:         15 * time.Minute,
			MaxRefreshPerFamily:   30,
			RefreshFamilyCooldown: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the configuration used when WithConfig is not called.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.PrivateKey = cloneBytes(cfg.Tokens.PrivateKey)
	out.Tokens.PublicKey = cloneBytes(cfg.Tokens.PublicKey)
	if cfg.TwoFactor.RequiredRoles != nil {
		out.TwoFactor.RequiredRoles = append([]string(nil), cfg.TwoFactor.RequiredRoles...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ParseDurationSpec parses "<n><s|m|h|d>". ok is false for anything else,
// including zero and negative amounts.
func ParseDurationSpec(spec string) (time.Duration, bool) {
	spec = strings.TrimSpace(spec)
	if len(spec) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	var unit time.Duration
	switch spec[len(spec)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// RefreshTTL resolves RefreshExpiresIn, falling back to DefaultRefreshTTL.
func (c TokensConfig) RefreshTTL() time.Duration {
	if d, ok := ParseDurationSpec(c.RefreshExpiresIn); ok {
		return d
	}
	return DefaultRefreshTTL
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field constraints. Build calls it.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RevokedRetention < 0 {
		return errors.New("Tokens RevokedRetention must be >= 0")
	}
	switch c.Tokens.SigningMethod {
	case "hs256":
		if len(c.Tokens.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Tokens.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported token signing method")
	}

	// Two-factor
	if c.TwoFactor.Period == 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be <= 2")
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("TwoFactor MaxAttempts must be > 0")
	}
	if c.TwoFactor.LockDuration <= 0 {
		return errors.New("TwoFactor LockDuration must be > 0")
	}
	if c.TwoFactor.RecoveryCodeCount <= 0 || c.TwoFactor.RecoveryCodeCount > 32 {
		return errors.New("TwoFactor RecoveryCodeCount must be between 1 and 32")
	}
	if c.TwoFactor.RecoveryCodeLength < 8 {
		return errors.New("TwoFactor RecoveryCodeLength must be >= 8")
	}

	// Devices
	if c.Devices.ActionTokenTTL <= 0 {
		return errors.New("Devices ActionTokenTTL must be > 0")
	}
	if c.Devices.ActionBaseURL != "" {
		if _, err := url.ParseRequestURI(c.Devices.ActionBaseURL); err != nil {
			return errors.New("Devices ActionBaseURL must be an absolute URL")
		}
	}

	// WebAuthn
	if c.WebAuthn.ChallengeTTL <= 0 {
		return errors.New("WebAuthn ChallengeTTL must be > 0")
	}
	if c.Security.ProductionMode && (c.WebAuthn.RPID == "" || c.WebAuthn.RPOrigin == "") {
		return errors.New("WebAuthn RPID and RPOrigin are required in production mode")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldown <= 0 {
		return errors.New("Security LoginCooldown must be > 0 when MaxLoginAttempts is set")
	}
	if c.Security.MaxRefreshPerFamily > 0 && c.Security.RefreshFamilyCooldown <= 0 {
		return errors.New("Security RefreshFamilyCooldown must be > 0 when MaxRefreshPerFamily is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

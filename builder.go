package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/cache"
	"github.com/Bidiche49/art-des-jardins-sub001/internal/audit"
	"github.com/Bidiche49/art-des-jardins-sub001/internal/rate"
	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/Bidiche49/art-des-jardins-sub001/password"
	"github.com/Bidiche49/art-des-jardins-sub001/secretbox"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for a single Build.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      Store
	challenges cache.Store
	mailer     MailSender
	geo        GeoResolver
	sealer     secretbox.Sealer
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(s Store) *Builder {
	b.store = s
	return b
}

// WithRedis enables the login and refresh limiters. When no challenge cache
// is set, WebAuthn challenges are kept in Redis too.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCache sets the TTL store for WebAuthn challenges.
func (b *Builder) WithCache(c cache.Store) *Builder {
	b.challenges = c
	return b
}

func (b *Builder) WithMailer(m MailSender) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithGeoResolver(g GeoResolver) *Builder {
	b.geo = g
	return b
}

// WithSealer overrides the AES-GCM sealer derived from TwoFactor.EncryptionKey.
func (b *Builder) WithSealer(s secretbox.Sealer) *Builder {
	b.sealer = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock replaces time.Now for expiry and lockout arithmetic.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	sealer := b.sealer
	if sealer == nil {
		if cfg.TwoFactor.EncryptionKey == "" {
			return nil, errors.New("TwoFactor EncryptionKey or a Sealer is required")
		}
		s, err := secretbox.NewAESGCMFromHex(cfg.TwoFactor.EncryptionKey)
		if err != nil {
			return nil, err
		}
		sealer = s
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	challenges := b.challenges
	if challenges == nil {
		if b.redis != nil {
			challenges = cache.NewRedis(b.redis, "authcore:webauthn")
		} else {
			challenges = cache.NewMemory(0)
		}
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		store:      b.store,
		challenges: challenges,
		mailer:     b.mailer,
		geo:        b.geo,
		sealer:     sealer,
		logger:     logger.With("component", "authcore"),
		now:        b.now,
	}
	if engine.now == nil {
		engine.now = time.Now
	}

	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldown:         cfg.Security.LoginCooldown,
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxRefreshPerFamily:   cfg.Security.MaxRefreshPerFamily,
			RefreshFamilyCooldown: cfg.Security.RefreshFamilyCooldown,
		})
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	passwordCfg := password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	}
	ph, err := password.NewArgon2(passwordCfg)
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	passwordCfg.MinLength = cfg.TwoFactor.RecoveryCodeLength
	rh, err := password.NewArgon2(passwordCfg)
	if err != nil {
		return nil, err
	}
	engine.recoveryHash = rh

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Tokens.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Tokens.PrivateKey),
		PublicKey:     cloneBytes(cfg.Tokens.PublicKey),
		Issuer:        cfg.Tokens.Issuer,
		Audience:      cfg.Tokens.Audience,
		Leeway:        cfg.Tokens.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}

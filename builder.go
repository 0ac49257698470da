package goAdmin

import (
	"errors"
	"time"

	"github.com/MrEthical07/goAdmin/internal/stores"
	"github.com/MrEthical07/goAdmin/jwt"
	"github.com/MrEthical07/goAdmin/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	mail      MailTransport
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing every store. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailTransport sets where notification intents go. Without one,
// intents are built, audited and discarded.
func (b *Builder) WithMailTransport(t MailTransport) *Builder {
	b.mail = t
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides time.Now for passwordChanged stamping and reset-token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
		MaxPasswordBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		RequireIAT:    true,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Store.RedisPrefix
	engine := &Engine{
		config:        cfg,
		identities:    stores.NewIdentityIndex(b.redis, prefix),
		credentials:   stores.NewCredentialStore(b.redis, prefix, ph),
		admins:        stores.NewAdminStore(b.redis, prefix),
		organizations: stores.NewOrganizationStore(b.redis, prefix),
		resets:        stores.NewResetTokenStore(b.redis, prefix, cfg.PasswordReset.ExpiredRetention),
		activations:   stores.NewActivationStore(b.redis, prefix),
		passwordHash:  ph,
		jwtManager:    jm,
		mail:          b.mail,
		audit:         newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:       NewMetrics(cfg.Metrics),
		now:           b.now,
	}
	if engine.mail == nil {
		engine.mail = discardTransport{}
	}
	if engine.now == nil {
		engine.now = time.Now
	}

	b.built = true

	return engine, nil
}

package goAdmin

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the complete Engine configuration. Start from DefaultConfig and
// override what differs; the Builder validates the result.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	Activation    ActivationConfig
	Account       AccountConfig
	Store         StoreConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and the passwordChanged check.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string

	// RevokeOnPasswordChange makes ValidateAccess reject tokens whose pwc
	// claim predates the admin's current passwordChanged.
	RevokeOnPasswordChange bool
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

	MinLength int
	MaxLength int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

type PasswordResetConfig struct {
	// DefaultTTL applies when IssueResetToken is called with ttl <= 0.
	DefaultTTL time.Duration
	// MaxTTL bounds caller-supplied TTLs.
	MaxTTL time.Duration
	// ExpiredRetention keeps expired and consumed records long enough to
	// report them precisely.
	ExpiredRetention time.Duration
	// InvalidatePrevious consumes a user's outstanding tokens whenever a new
	// one is issued.
	InvalidatePrevious bool
}

/*
====================================
ACTIVATION CONFIG
====================================
*/

type ActivationConfig struct {
	TokenTTL time.Duration
	// LinkBaseURL, when set, turns the activation token into a link
	// <LinkBaseURL>?token=<token> carried as the intent artifact.
	LinkBaseURL string
	// SendOnCreate emits an activation intent for admins created unactivated.
	SendOnCreate bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

type AccountConfig struct {
	// RequireActivation rejects password grants for unconfirmed admins.
	RequireActivation bool
	// MaxPasswordHistorySize caps organization-configured history sizes.
	MaxPasswordHistorySize int
}

// StoreConfig sets the Redis key namespace shared by every store.
type StoreConfig struct {
	RedisPrefix string
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

// DefaultConfig returns the configuration the Builder starts from. Signing
// keys are empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:              15 * time.Minute,
			SigningMethod:          "ed25519",
			Issuer:                 "goadmin",
			Leeway:                 30 * time.Second,
			RevokeOnPasswordChange: true,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   1,
			MaxLength:   1024,
		},
		PasswordReset: PasswordResetConfig{
			DefaultTTL:         time.Hour,
			MaxTTL:             7 * 24 * time.Hour,
			ExpiredRetention:   24 * time.Hour,
			InvalidatePrevious: false,
		},
		Activation: ActivationConfig{
			TokenTTL:     7 * 24 * time.Hour,
			SendOnCreate: true,
		},
		Account: AccountConfig{
			RequireActivation:      true,
			MaxPasswordHistorySize: 24,
		},
		Store: StoreConfig{
			RedisPrefix: "ga",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
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

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
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
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Password reset
	if c.PasswordReset.DefaultTTL <= 0 {
		return errors.New("PasswordReset DefaultTTL must be > 0")
	}
	if c.PasswordReset.MaxTTL < c.PasswordReset.DefaultTTL {
		return errors.New("PasswordReset MaxTTL must be >= DefaultTTL")
	}
	if c.PasswordReset.ExpiredRetention <= 0 {
		return errors.New("PasswordReset ExpiredRetention must be > 0")
	}

	// Activation
	if c.Activation.TokenTTL <= 0 {
		return errors.New("Activation TokenTTL must be > 0")
	}
	if c.Activation.LinkBaseURL != "" {
		u, err := url.Parse(c.Activation.LinkBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Activation LinkBaseURL must be an absolute URL")
		}
	}

	// Account
	if c.Account.MaxPasswordHistorySize < 0 || c.Account.MaxPasswordHistorySize > 255 {
		return errors.New("Account MaxPasswordHistorySize must be between 0 and 255")
	}

	// Store
	if strings.TrimSpace(c.Store.RedisPrefix) == "" || strings.Contains(c.Store.RedisPrefix, ":") {
		return errors.New("Store RedisPrefix must be non-empty and must not contain ':'")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

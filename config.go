package tessera

import (
	"errors"
	"time"
)

// Config is the full engine configuration. It is copied by Builder.Build and
// immutable afterwards.
type Config struct {
	Token        TokenConfig
	RefreshToken RefreshTokenConfig
	Password     PasswordConfig
	SideChannel  SideChannelConfig
	RateLimit    RateLimitConfig
	Mail         MailConfig
	Bulk         BulkConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures stateless access tokens.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// RefreshTokenConfig configures the stateful rotating refresh tokens.
// RevokeOnReuse controls the theft-detection policy: when set, redeeming an
// already-consumed token revokes every outstanding token for that user.
type RefreshTokenConfig struct {
	TTL           time.Duration
	RedisPrefix   string
	RevokeOnReuse bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id parameters for new hashes.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
SIDE-CHANNEL CONFIG
====================================
*/

// SideChannelConfig configures single-use verification and reset tokens.
// Retention is how long consumed/expired records linger so replay reports
// AlreadyUsed or Expired instead of Invalid.
type SideChannelConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	Retention       time.Duration
	RedisPrefix     string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds the deployment-wide default budgets per operation
// class. Projects may override individual operations through their
// Project.RateLimits map. A zero-limit policy disables throttling for that
// operation.
type RateLimitConfig struct {
	RedisPrefix string
	Defaults    map[Operation]RatePolicy
}

/*
====================================
MAIL / BULK CONFIG
====================================
*/

// MailConfig bounds the fire-and-forget email dispatch.
type MailConfig struct {
	Enabled     bool
	SendTimeout time.Duration
}

// BulkConfig bounds export paging and import batches.
type BulkConfig struct {
	ExportPageSize int
	MaxImportBatch int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		RefreshToken: RefreshTokenConfig{
			TTL:           30 * 24 * time.Hour,
			RedisPrefix:   "rt",
			RevokeOnReuse: true,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		SideChannel: SideChannelConfig{
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        time.Hour,
			Retention:       time.Hour,
			RedisPrefix:     "sc",
		},
		RateLimit: RateLimitConfig{
			RedisPrefix: "rl",
			Defaults: map[Operation]RatePolicy{
				OpRegister:          {Limit: 20, Window: time.Hour},
				OpLogin:             {Limit: 30, Window: 15 * time.Minute},
				OpRefresh:           {Limit: 120, Window: time.Hour},
				OpPasswordReset:     {Limit: 10, Window: time.Hour},
				OpEmailVerification: {Limit: 10, Window: time.Hour},
				OpExport:            {Limit: 5, Window: time.Hour},
				OpImport:            {Limit: 5, Window: time.Hour},
				OpGeneral:           {Limit: 600, Window: time.Minute},
			},
		},
		Mail: MailConfig{
			Enabled:     true,
			SendTimeout: 10 * time.Second,
		},
		Bulk: BulkConfig{
			ExportPageSize: 500,
			MaxImportBatch: 5000,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.RateLimit.Defaults != nil {
		out.RateLimit.Defaults = make(map[Operation]RatePolicy, len(cfg.RateLimit.Defaults))
		for op, policy := range cfg.RateLimit.Defaults {
			out.RateLimit.Defaults[op] = policy
		}
	}
	out.Token.PrivateKey = append([]byte(nil), cfg.Token.PrivateKey...)
	out.Token.PublicKey = append([]byte(nil), cfg.Token.PublicKey...)
	return out
}

func validateConfig(cfg Config) error {
	if cfg.Token.AccessTTL <= 0 {
		return errors.New("token: access TTL must be positive")
	}
	if cfg.RefreshToken.TTL <= cfg.Token.AccessTTL {
		return errors.New("refresh token: TTL must exceed access TTL")
	}
	if cfg.SideChannel.VerificationTTL <= 0 || cfg.SideChannel.ResetTTL <= 0 {
		return errors.New("side channel: TTLs must be positive")
	}
	if cfg.Bulk.ExportPageSize <= 0 {
		return errors.New("bulk: export page size must be positive")
	}
	if cfg.Bulk.MaxImportBatch <= 0 {
		return errors.New("bulk: max import batch must be positive")
	}
	for op, policy := range cfg.RateLimit.Defaults {
		if policy.Limit > 0 && policy.Window <= 0 {
			return errors.New("rate limit: window must be positive for operation " + string(op))
		}
	}
	return nil
}

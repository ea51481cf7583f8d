package tessera

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/tessera-auth/tessera/internal/rate"
	"github.com/tessera-auth/tessera/internal/stores"
	"github.com/tessera-auth/tessera/password"
	"github.com/tessera-auth/tessera/token"
)

// Builder assembles an Engine. Construction is allocation-only; no I/O
// happens until Build, and the Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users    UserRepository
	projects ProjectProvider
	mailer   Mailer
	sink     AuditSink

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing token stores and rate limiting.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserRepository sets the external user store.
func (b *Builder) WithUserRepository(users UserRepository) *Builder {
	b.users = users
	return b
}

// WithProjectProvider sets the project configuration source.
func (b *Builder) WithProjectProvider(projects ProjectProvider) *Builder {
	b.projects = projects
	return b
}

// WithMailer sets the outbound email collaborator. Without one, email side
// effects are skipped.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithMetricsEnabled toggles metric collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires all components, and returns the
// immutable Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("user repository is required")
	}
	if b.projects == nil {
		return nil, errors.New("project provider is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     b.config.Token.AccessTTL,
		SigningMethod: token.SigningMethod(b.config.Token.SigningMethod),
		PrivateKey:    b.config.Token.PrivateKey,
		PublicKey:     b.config.Token.PublicKey,
		Issuer:        b.config.Token.Issuer,
		Audience:      b.config.Token.Audience,
		Leeway:        b.config.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	decoyHash, err := buildDecoyHash(hasher)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       b.config,
		users:        b.users,
		projects:     b.projects,
		mailer:       b.mailer,
		hasher:       hasher,
		tokens:       tokens,
		refreshStore: stores.NewRefreshStore(b.redis, b.config.RefreshToken.RedisPrefix),
		sideChannel:  stores.NewSideChannelStore(b.redis, b.config.SideChannel.RedisPrefix, b.config.SideChannel.Retention),
		limiter:      rate.New(b.redis, b.config.RateLimit.RedisPrefix),
		audit:        newAuditDispatcher(b.config.Audit, b.sink),
		metrics:      NewMetrics(b.config.Metrics),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		decoyHash:    decoyHash,
	}

	b.built = true
	return engine, nil
}

// buildDecoyHash pre-hashes a random credential so unknown-email logins pay
// the same verification cost as wrong-password ones.
func buildDecoyHash(hasher *password.Hasher) (string, error) {
	raw := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return hasher.Hash(base64.RawURLEncoding.EncodeToString(raw))
}

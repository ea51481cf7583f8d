package tessera

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := validateConfig(defaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestValidateConfigRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access TTL", func(c *Config) { c.Token.AccessTTL = 0 }},
		{"refresh TTL below access TTL", func(c *Config) { c.RefreshToken.TTL = time.Minute; c.Token.AccessTTL = time.Hour }},
		{"zero verification TTL", func(c *Config) { c.SideChannel.VerificationTTL = 0 }},
		{"zero reset TTL", func(c *Config) { c.SideChannel.ResetTTL = 0 }},
		{"zero export page size", func(c *Config) { c.Bulk.ExportPageSize = 0 }},
		{"zero import batch", func(c *Config) { c.Bulk.MaxImportBatch = 0 }},
		{"limit without window", func(c *Config) {
			c.RateLimit.Defaults = map[Operation]RatePolicy{OpLogin: {Limit: 5}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigIsolation(t *testing.T) {
	original := defaultConfig()
	original.Token.PrivateKey = []byte("secret")

	clone := cloneConfig(original)
	clone.RateLimit.Defaults[OpLogin] = RatePolicy{Limit: 1, Window: time.Second}
	clone.Token.PrivateKey[0] = 'X'

	if original.RateLimit.Defaults[OpLogin].Limit == 1 {
		t.Fatal("expected rate limit map to be copied")
	}
	if original.Token.PrivateKey[0] != 's' {
		t.Fatal("expected key material to be copied")
	}
}

func TestBuilderConfigSnapshot(t *testing.T) {
	cfg := testConfig()
	builder := New().WithConfig(cfg)

	// Mutating the caller's config after WithConfig must not leak into the
	// builder's copy.
	cfg.RateLimit.Defaults[OpRegister] = RatePolicy{Limit: 1, Window: time.Second}

	if builder.config.RateLimit.Defaults[OpRegister].Limit == 1 {
		t.Fatal("expected WithConfig to snapshot the configuration")
	}
}

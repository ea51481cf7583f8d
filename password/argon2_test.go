package password

import (
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	if !hasher.Verify("P@ssw0rd-Ascii", hash) {
		t.Fatal("expected password verification to succeed")
	}
	if hasher.Verify("wrong-password", hash) {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestHashDistinctSalts(t *testing.T) {
	hasher, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	first, err := hasher.Hash("same-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := hasher.Hash("same-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if first == second {
		t.Fatal("expected distinct hashes for the same password")
	}
	if !hasher.Verify("same-password-1", first) || !hasher.Verify("same-password-1", second) {
		t.Fatal("expected both hashes to verify")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	hasher, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := hasher.Hash("short"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestVerifyMalformedHashIsFalse(t *testing.T) {
	hasher, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	cases := []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1$short$short",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaGhhc2hoYXNoaGFzaA",
	}

	for _, malformed := range cases {
		if hasher.Verify("any-password-1", malformed) {
			t.Fatalf("expected malformed hash %q to verify false", malformed)
		}
	}
}

func TestVerifyUsesEmbeddedParameters(t *testing.T) {
	weak, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New(weak) error: %v", err)
	}
	hash, err := weak.Hash("portable-pass-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	strong, err := New(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("New(strong) error: %v", err)
	}

	// The stored cost parameters win, so a hash from weaker settings still
	// verifies under a hasher configured with stronger ones.
	if !strong.Verify("portable-pass-1", hash) {
		t.Fatal("expected verification to follow the embedded parameters")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New(weak) error: %v", err)
	}
	weakHash, err := weak.Hash("upgrade-pass-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	strong, err := New(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("New(strong) error: %v", err)
	}

	if !strong.NeedsRehash(weakHash) {
		t.Fatal("expected weaker hash to need rehash")
	}
	if weak.NeedsRehash(weakHash) {
		t.Fatal("expected matching parameters to not need rehash")
	}
	if strong.NeedsRehash("garbage") {
		t.Fatal("expected unparseable hash to not report rehash")
	}
}

func TestInspect(t *testing.T) {
	hasher, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	hash, err := hasher.Hash("inspect-pass-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if err := Inspect(hash); err != nil {
		t.Fatalf("expected valid hash to pass inspection: %v", err)
	}
	if err := Inspect("$md5$nope"); err == nil {
		t.Fatal("expected malformed hash to fail inspection")
	}
	if err := Inspect(""); err == nil {
		t.Fatal("expected empty hash to fail inspection")
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"low memory", Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
		{"zero time", Config{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
		{"zero parallelism", Config{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32}},
		{"short salt", Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32}},
		{"short key", Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}

package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testRefreshRecord(userID string, ttl time.Duration) (*RefreshRecord, [32]byte) {
	secretHash := sha256.Sum256([]byte("secret-" + userID))
	now := time.Now()
	return &RefreshRecord{
		UserID:     userID,
		SecretHash: secretHash,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}, secretHash
}

func TestRefreshSaveGetConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	record, secretHash := testRefreshRecord("u1", time.Hour)
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, used, err := store.Get(ctx, "p1", "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if used {
		t.Fatal("expected fresh record to be unused")
	}
	if got.UserID != "u1" || got.SecretHash != secretHash {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.IssuedAt != record.IssuedAt || got.ExpiresAt != record.ExpiresAt {
		t.Fatalf("timestamps did not round-trip: %+v", got)
	}

	userID, err := store.Consume(ctx, "p1", "t1", secretHash)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("expected user u1, got %s", userID)
	}
}

func TestRefreshConsumeExactlyOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	record, secretHash := testRefreshRecord("u1", time.Hour)
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "p1", "t1", secretHash); err != nil {
		t.Fatalf("first Consume failed: %v", err)
	}

	userID, err := store.Consume(ctx, "p1", "t1", secretHash)
	if !errors.Is(err, ErrRefreshReused) {
		t.Fatalf("expected ErrRefreshReused, got %v", err)
	}
	// The reuse report still names the owner so the chain can be revoked.
	if userID != "u1" {
		t.Fatalf("expected owner on reuse, got %q", userID)
	}

	// The consumed record stays visible as used.
	_, used, err := store.Get(ctx, "p1", "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !used {
		t.Fatal("expected record to be marked used")
	}
}

func TestRefreshConsumeWrongSecret(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	record, _ := testRefreshRecord("u1", time.Hour)
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	wrong := sha256.Sum256([]byte("forged"))
	if _, err := store.Consume(ctx, "p1", "t1", wrong); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}

	// The failed attempt must not consume the record.
	_, used, err := store.Get(ctx, "p1", "t1")
	if err != nil || used {
		t.Fatalf("expected record to stay active, used=%v err=%v", used, err)
	}
}

func TestRefreshConsumeUnknown(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")

	_, err := store.Consume(context.Background(), "p1", "ghost", sha256.Sum256([]byte("x")))
	if !errors.Is(err, ErrRefreshNotFound) {
		t.Fatalf("expected ErrRefreshNotFound, got %v", err)
	}
}

func TestRefreshConsumeLogicallyExpired(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	// Redis key alive, logical expiry in the past: the record is
	// distinguishable from an unknown token.
	secretHash := sha256.Sum256([]byte("s"))
	record := &RefreshRecord{
		UserID:     "u1",
		SecretHash: secretHash,
		IssuedAt:   time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt:  time.Now().Add(-time.Hour).Unix(),
	}
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "p1", "t1", secretHash); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", err)
	}
}

func TestRefreshProjectScoping(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	record, secretHash := testRefreshRecord("u1", time.Hour)
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "p2", "t1", secretHash); !errors.Is(err, ErrRefreshNotFound) {
		t.Fatalf("expected cross-project consume to miss, got %v", err)
	}
}

func TestRefreshRevokeUser(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	for _, tokenID := range []string{"t1", "t2", "t3"} {
		record, _ := testRefreshRecord("u1", time.Hour)
		if err := store.Save(ctx, "p1", tokenID, record, time.Hour); err != nil {
			t.Fatalf("Save %s failed: %v", tokenID, err)
		}
	}
	other, otherHash := testRefreshRecord("u2", time.Hour)
	if err := store.Save(ctx, "p1", "other", other, time.Hour); err != nil {
		t.Fatalf("Save other failed: %v", err)
	}

	revoked, err := store.RevokeUser(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("RevokeUser failed: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked, got %d", revoked)
	}

	for _, tokenID := range []string{"t1", "t2", "t3"} {
		if _, _, err := store.Get(ctx, "p1", tokenID); !errors.Is(err, ErrRefreshNotFound) {
			t.Fatalf("expected %s to be gone, got %v", tokenID, err)
		}
	}

	// Another user's token survives.
	if _, err := store.Consume(ctx, "p1", "other", otherHash); err != nil {
		t.Fatalf("expected other user's token to survive: %v", err)
	}

	// Revoking again is a no-op.
	revoked, err = store.RevokeUser(ctx, "p1", "u1")
	if err != nil || revoked != 0 {
		t.Fatalf("expected idempotent revoke, got n=%d err=%v", revoked, err)
	}
}

func TestRefreshDeleteIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	record, _ := testRefreshRecord("u1", time.Hour)
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete(ctx, "p1", "u1", "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "p1", "u1", "t1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func TestRefreshRedisExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "rt")
	ctx := context.Background()

	record, secretHash := testRefreshRecord("u1", time.Hour)
	if err := store.Save(ctx, "p1", "t1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := store.Consume(ctx, "p1", "t1", secretHash); !errors.Is(err, ErrRefreshNotFound) {
		t.Fatalf("expected expired key to be unknown, got %v", err)
	}
}

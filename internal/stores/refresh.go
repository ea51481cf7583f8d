package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRefreshNotFound is returned when no record exists for the token ID.
	ErrRefreshNotFound = errors.New("refresh token not found")
	// ErrRefreshReused is returned when the token was already consumed.
	ErrRefreshReused = errors.New("refresh token already consumed")
	// ErrRefreshExpired is returned when the record outlived its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshHashMismatch is returned when the presented secret hash does
	// not match the stored one.
	ErrRefreshHashMismatch = errors.New("refresh secret mismatch")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusConsumed int64 = 1
	consumeStatusReused   int64 = 2
	consumeStatusExpired  int64 = 3
	consumeStatusMismatch int64 = 4
)

// consumeRefreshScript transitions a refresh record from active to consumed.
// The whole check-and-mark runs server-side so two racing redemptions cannot
// both win. Used records are kept (with their remaining TTL) so that replay
// is reported as reuse, not as an unknown token.
const consumeRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return {2, redis.call("HGET", KEYS[1], "user")}
end
local exp = tonumber(redis.call("HGET", KEYS[1], "exp") or "0")
if exp > 0 and exp < tonumber(ARGV[2]) then
  return {3}
end
if redis.call("HGET", KEYS[1], "secret") ~= ARGV[1] then
  return {4}
end
redis.call("HSET", KEYS[1], "used", "1")
return {1, redis.call("HGET", KEYS[1], "user")}
`

var consumeRefreshLua = redis.NewScript(consumeRefreshScript)

// RefreshRecord is the persisted state of one refresh token. Only the
// SHA-256 hash of the token secret is stored.
type RefreshRecord struct {
	UserID     string
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
}

// RefreshStore persists refresh-token records in Redis, keyed by project and
// token ID, with a per-user index set for chain revocation.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRefreshStore creates a RefreshStore with the given key prefix
// (default "rt").
func NewRefreshStore(redisClient redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RefreshStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RefreshStore) key(projectID, tokenID string) string {
	return s.prefix + ":" + projectID + ":" + tokenID
}

func (s *RefreshStore) userKey(projectID, userID string) string {
	return s.prefix + ":u:" + projectID + ":" + userID
}

// Save persists a new active refresh record and registers it in the owning
// user's index set. The index key TTL is refreshed to at least the record
// TTL so revocation can always find live tokens.
func (s *RefreshStore) Save(ctx context.Context, projectID, tokenID string, record *RefreshRecord, ttl time.Duration) error {
	if record == nil {
		return errors.New("nil refresh record")
	}

	key := s.key(projectID, tokenID)
	userKey := s.userKey(projectID, record.UserID)

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"user", record.UserID,
		"secret", hex.EncodeToString(record.SecretHash[:]),
		"iat", strconv.FormatInt(record.IssuedAt, 10),
		"exp", strconv.FormatInt(record.ExpiresAt, 10),
		"used", "0",
	)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, userKey, tokenID)
	pipe.Expire(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume atomically marks the token consumed and returns the owning user
// ID. Exactly one concurrent caller succeeds; the rest receive
// ErrRefreshReused. On reuse the owning user ID is still returned so the
// caller can revoke the whole chain.
func (s *RefreshStore) Consume(ctx context.Context, projectID, tokenID string, secretHash [32]byte) (string, error) {
	res, err := consumeRefreshLua.Run(ctx, s.redis,
		[]string{s.key(projectID, tokenID)},
		hex.EncodeToString(secretHash[:]),
		strconv.FormatInt(time.Now().Unix(), 10),
	).Slice()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return "", fmt.Errorf("%w: empty script reply", ErrRedisUnavailable)
	}

	status, _ := res[0].(int64)
	switch status {
	case consumeStatusConsumed:
		userID, _ := res[1].(string)
		return userID, nil
	case consumeStatusReused:
		userID := ""
		if len(res) > 1 {
			userID, _ = res[1].(string)
		}
		return userID, ErrRefreshReused
	case consumeStatusExpired:
		return "", ErrRefreshExpired
	case consumeStatusMismatch:
		return "", ErrRefreshHashMismatch
	default:
		return "", ErrRefreshNotFound
	}
}

// Get returns the record and its used flag without consuming it. The
// rotation protocol reads first so the replacement token can be persisted
// before the old one is consumed; Consume re-checks everything atomically.
func (s *RefreshStore) Get(ctx context.Context, projectID, tokenID string) (*RefreshRecord, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(projectID, tokenID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, false, ErrRefreshNotFound
	}

	record := &RefreshRecord{UserID: fields["user"]}
	secret, err := hex.DecodeString(fields["secret"])
	if err != nil || len(secret) != len(record.SecretHash) {
		return nil, false, ErrRefreshNotFound
	}
	copy(record.SecretHash[:], secret)
	record.IssuedAt, _ = strconv.ParseInt(fields["iat"], 10, 64)
	record.ExpiresAt, _ = strconv.ParseInt(fields["exp"], 10, 64)

	return record, fields["used"] == "1", nil
}

// Delete removes a single refresh record and its index entry. Deleting a
// missing record is not an error.
func (s *RefreshStore) Delete(ctx context.Context, projectID, userID, tokenID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.key(projectID, tokenID))
	pipe.SRem(ctx, s.userKey(projectID, userID), tokenID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeUser deletes every refresh record indexed for the user and returns
// the number of records removed. Tokens issued after the snapshot of the
// index set survive, which is the behavior a post-reset login needs.
func (s *RefreshStore) RevokeUser(ctx context.Context, projectID, userID string) (int, error) {
	userKey := s.userKey(projectID, userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(projectID, id))
	}

	pipe := s.redis.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.SRem(ctx, userKey, toMembers(ids)...)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(del.Val()), nil
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}

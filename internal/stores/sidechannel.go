package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSideChannelNotFound is returned for unknown or garbage tokens, and
	// for purpose mismatches (a mismatched purpose must not reveal that the
	// token exists for another flow).
	ErrSideChannelNotFound = errors.New("side-channel token not found")
	// ErrSideChannelUsed is returned when the token was already redeemed.
	ErrSideChannelUsed = errors.New("side-channel token already used")
	// ErrSideChannelExpired is returned for an expired-but-unused token.
	ErrSideChannelExpired = errors.New("side-channel token expired")
)

const (
	scStatusNotFound int64 = 0
	scStatusConsumed int64 = 1
	scStatusUsed     int64 = 2
	scStatusExpired  int64 = 3
	scStatusPurpose  int64 = 4
)

// consumeSideChannelScript redeems a single-use token. Purpose is checked
// before the used flag flips, so a cross-purpose attempt never consumes the
// token. Records carry a retention window past their logical expiry (the
// Redis TTL outlives the exp field) so Expired and AlreadyUsed remain
// distinguishable from Invalid.
const consumeSideChannelScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
if redis.call("HGET", KEYS[1], "purpose") ~= ARGV[1] then
  return {4}
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return {2}
end
local exp = tonumber(redis.call("HGET", KEYS[1], "exp") or "0")
if exp > 0 and exp < tonumber(ARGV[2]) then
  return {3}
end
redis.call("HSET", KEYS[1], "used", "1")
return {1, redis.call("HGET", KEYS[1], "user")}
`

var consumeSideChannelLua = redis.NewScript(consumeSideChannelScript)

// SideChannelRecord is the persisted state of one verification or reset
// token. The record is keyed by the SHA-256 hash of the plaintext, so the
// plaintext itself never reaches storage.
type SideChannelRecord struct {
	UserID    string
	Purpose   string
	ExpiresAt int64
}

// SideChannelStore persists single-use email-verification and password-reset
// token records in Redis.
type SideChannelStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewSideChannelStore creates a SideChannelStore with the given key prefix
// (default "sc"). retention is how long consumed or expired records linger
// beyond their logical expiry for replay reporting.
func NewSideChannelStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *SideChannelStore {
	if prefix == "" {
		prefix = "sc"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &SideChannelStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *SideChannelStore) key(projectID, tokenHash string) string {
	return s.prefix + ":" + projectID + ":" + tokenHash
}

// Save persists a new unused token record. ttl is the logical validity
// window; the Redis key survives an extra retention period.
func (s *SideChannelStore) Save(ctx context.Context, projectID, tokenHash string, record *SideChannelRecord, ttl time.Duration) error {
	if record == nil {
		return errors.New("nil side-channel record")
	}

	key := s.key(projectID, tokenHash)

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"user", record.UserID,
		"purpose", record.Purpose,
		"exp", strconv.FormatInt(record.ExpiresAt, 10),
		"used", "0",
	)
	pipe.Expire(ctx, key, ttl+s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume atomically redeems the token for the given purpose and returns the
// owning user ID. Concurrent redemption of the same token yields exactly one
// success; later attempts see ErrSideChannelUsed.
func (s *SideChannelStore) Consume(ctx context.Context, projectID, tokenHash, purpose string) (string, error) {
	res, err := consumeSideChannelLua.Run(ctx, s.redis,
		[]string{s.key(projectID, tokenHash)},
		purpose,
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
	case scStatusConsumed:
		userID, _ := res[1].(string)
		return userID, nil
	case scStatusUsed:
		return "", ErrSideChannelUsed
	case scStatusExpired:
		return "", ErrSideChannelExpired
	case scStatusPurpose:
		return "", ErrSideChannelNotFound
	default:
		return "", ErrSideChannelNotFound
	}
}

package stores

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResetRedisUnavailable is returned when the reset store cannot reach
// Redis. Consume-time failures must fail closed: a reset that cannot be
// verified is a reset that does not happen.
var ErrResetRedisUnavailable = errors.New("password reset store redis unavailable")

const (
	resetKeyPrefix = "password_reset:"
	resetTokenSize = 32

	scanBatchSize = 100
)

// PasswordResetStore maps single-use opaque reset tokens to user IDs in
// Redis with a strict TTL. Tokens carry at least 256 bits of entropy and
// are URL-safe.
type PasswordResetStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewPasswordResetStore creates a [PasswordResetStore]. A non-positive
// ttl falls back to the 10-minute default.
func NewPasswordResetStore(redisClient redis.UniversalClient, ttl time.Duration) *PasswordResetStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PasswordResetStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

func resetKey(token string) string { return resetKeyPrefix + token }

// Generate creates a cryptographically random token, stores the
// token -> userID mapping with the configured TTL, and returns the token.
// The store has no opinion on whether the user exists; callers decide
// what an unauthenticated client may learn.
func (s *PasswordResetStore) Generate(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, resetTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := s.redis.Set(ctx, resetKey(token), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return token, nil
}

// Consume atomically reads and deletes the mapping for a token in a
// single GETDEL round trip. Of N concurrent consumers of one token
// exactly one receives ok == true; the rest observe the key gone.
// Expired or unknown tokens return ok == false with no error.
func (s *PasswordResetStore) Consume(ctx context.Context, token string) (string, bool, error) {
	userID, err := s.redis.GetDel(ctx, resetKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return userID, true, nil
}

// InvalidateAll deletes every outstanding reset token mapped to userID
// and returns the number removed. Used after a successful reset to kill
// sibling tokens from repeated reset requests.
func (s *PasswordResetStore) InvalidateAll(ctx context.Context, userID string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, resetKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}

		for _, key := range keys {
			stored, err := s.redis.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return deleted, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
			if stored != userID {
				continue
			}
			if err := s.redis.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
			deleted++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// TTL returns the remaining lifetime of a token, or ok == false if the
// token does not exist.
func (s *PasswordResetStore) TTL(ctx context.Context, token string) (time.Duration, bool, error) {
	ttl, err := s.redis.TTL(ctx, resetKey(token)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

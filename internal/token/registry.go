package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the registry cannot reach its
// backing store. Callers on security-critical paths must fail closed.
var ErrRedisUnavailable = errors.New("token registry redis unavailable")

const (
	outstandingPrefix = "rto:"
	blacklistPrefix   = "rtb:"

	// minBlacklistTTL floors the entry lifetime so a token at the very
	// edge of acceptability still gets a live revocation record. Callers
	// size the real TTL to the token's remaining validity plus any
	// verification leeway.
	minBlacklistTTL = time.Second
)

// Registry tracks outstanding refresh-token IDs and the blacklist of
// revoked ones in Redis. Blacklist membership is monotonic: an entry is
// never removed before the token it covers has itself expired.
type Registry struct {
	redis redis.UniversalClient
}

// NewRegistry creates a refresh-token [Registry] backed by the given
// Redis client.
func NewRegistry(redisClient redis.UniversalClient) *Registry {
	return &Registry{redis: redisClient}
}

func outstandingKey(jti string) string { return outstandingPrefix + jti }
func blacklistKey(jti string) string   { return blacklistPrefix + jti }

// Register records an outstanding refresh token. Called at issuance; the
// entry expires together with the token.
func (r *Registry) Register(ctx context.Context, jti, subject string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.redis.Set(ctx, outstandingKey(jti), subject, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Deregister drops the outstanding entry for a jti. Best-effort cleanup
// after rotation or logout; the blacklist is the authoritative record.
func (r *Registry) Deregister(ctx context.Context, jti string) error {
	if err := r.redis.Del(ctx, outstandingKey(jti)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Outstanding reports whether a jti is currently registered and, if so,
// the subject it was issued to.
func (r *Registry) Outstanding(ctx context.Context, jti string) (string, bool, error) {
	subject, err := r.redis.Get(ctx, outstandingKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return subject, true, nil
}

// IsBlacklisted reports whether a jti has been revoked.
func (r *Registry) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.redis.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Blacklist marks a jti permanently invalid and reports whether this call
// created the entry. The SET NX is the compare-and-set that decides
// rotation races: of N concurrent calls for one jti exactly one observes
// won == true. Calling Blacklist on an already-revoked jti is a no-op.
func (r *Registry) Blacklist(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl < minBlacklistTTL {
		ttl = minBlacklistTTL
	}
	won, err := r.redis.SetNX(ctx, blacklistKey(jti), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return won, nil
}

// Ping returns a point-in-time Redis availability check.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

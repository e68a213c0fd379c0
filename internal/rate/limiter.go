package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope classifies an endpoint for throttling purposes. Each scope has
// its own ceiling and window.
type Scope string

const (
	// ScopeLogin throttles credential-guessing on the login endpoint.
	ScopeLogin Scope = "login"
	// ScopePasswordReset throttles reset-token generation.
	ScopePasswordReset Scope = "password_reset"
	// ScopeCritical throttles registration and other sensitive operations.
	ScopeCritical Scope = "critical"
	// ScopeAnon throttles generic anonymous traffic.
	ScopeAnon Scope = "anon"
)

// Window is a fixed-window ceiling: at most Max events per Period.
type Window struct {
	Max    int
	Period time.Duration
}

// Config maps scopes to their windows. Scopes absent from the map are
// admitted unconditionally.
type Config struct {
	Windows map[Scope]Window
}

// DefaultConfig returns the stock ceilings: login 5/min, password reset
// 3/min, critical operations 10/hour, anonymous traffic 100/hour.
func DefaultConfig() Config {
	return Config{
		Windows: map[Scope]Window{
			ScopeLogin:         {Max: 5, Period: time.Minute},
			ScopePasswordReset: {Max: 3, Period: time.Minute},
			ScopeCritical:      {Max: 10, Period: time.Hour},
			ScopeAnon:          {Max: 100, Period: time.Hour},
		},
	}
}

// Dimensions are the independent throttle axes of one request. Identifier
// is the target identity (an email); it is normalized and hashed before
// touching Redis, never stored in plaintext. An empty Identifier falls
// back to address-only evaluation.
type Dimensions struct {
	IP         string
	Identifier string
}

// Limiter is a composite fixed-window rate limiter backed by Redis
// counters. Sensitive scopes evaluate both the caller-address and the
// target-identity dimension; exceeding either denies the request.
//
// Failure mode: if the counter store is unreachable the limiter fails
// closed — the error propagates and the caller surfaces a dependency
// failure instead of admitting the request.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow admits or denies one request in the given scope. Every call
// counts against the window regardless of the eventual outcome of the
// guarded operation. A denial is returned as a [*DeniedError] carrying
// the remaining window as retry-after.
func (l *Limiter) Allow(ctx context.Context, scope Scope, dims Dimensions) error {
	window, ok := l.config.Windows[scope]
	if !ok || window.Max <= 0 {
		return nil
	}

	if dims.IP != "" {
		if err := l.enforce(ctx, scope, window, addressKey(scope, dims.IP)); err != nil {
			return err
		}
	}

	if identityScoped(scope) && dims.Identifier != "" {
		key := identityKey(scope, NormalizeIdentifier(dims.Identifier))
		if err := l.enforce(ctx, scope, window, key); err != nil {
			return err
		}
	}

	return nil
}

func (l *Limiter) enforce(ctx context.Context, scope Scope, window Window, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: the first hit opens the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window.Period).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(window.Max) {
		retryAfter, err := l.redis.TTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if retryAfter <= 0 {
			retryAfter = window.Period
		}
		return &DeniedError{Scope: scope, RetryAfter: retryAfter}
	}

	return nil
}

// NormalizeIdentifier lowercases and trims an identity before hashing so
// that "User@Example.com " and "user@example.com" share a counter.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func identityScoped(scope Scope) bool {
	return scope == ScopeLogin || scope == ScopePasswordReset
}

func addressKey(scope Scope, ip string) string {
	return "rl:" + string(scope) + ":ip:" + hashDimension(ip)
}

func identityKey(scope Scope, identifier string) string {
	return "rl:" + string(scope) + ":id:" + hashDimension(identifier)
}

func hashDimension(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

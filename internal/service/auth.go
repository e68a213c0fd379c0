// Package service orchestrates the credential lifecycle: issuing and
// rotating token pairs, revocation, and the password-reset flow. It
// composes the token manager, refresh registry, reset store, rate
// limiter, and the external user-record store, adding sequencing and
// error translation but no storage of its own.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mgrindel/authcore/internal/obs"
	"github.com/mgrindel/authcore/internal/password"
	"github.com/mgrindel/authcore/internal/rate"
	"github.com/mgrindel/authcore/internal/stores"
	"github.com/mgrindel/authcore/internal/token"
	"github.com/mgrindel/authcore/internal/users"
)

// TokenPair is an access/refresh pair returned by login and refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Auth is the credential service. All authoritative state lives in the
// external stores; Auth itself is safe for concurrent use.
type Auth struct {
	users    users.Repository
	tokens   *token.Manager
	registry *token.Registry
	resets   *stores.PasswordResetStore
	limiter  *rate.Limiter
	hasher   *password.Hasher
	logger   *zap.Logger
	metrics  *obs.Metrics

	// dummyHash equalizes login timing when the email is unknown.
	dummyHash string
}

// New wires the credential service. All dependencies are required except
// metrics, which may be nil in tests.
func New(
	userRepo users.Repository,
	tokens *token.Manager,
	registry *token.Registry,
	resets *stores.PasswordResetStore,
	limiter *rate.Limiter,
	hasher *password.Hasher,
	logger *zap.Logger,
	metrics *obs.Metrics,
) (*Auth, error) {
	dummyHash, err := hasher.Hash("authcore.dummy.credential")
	if err != nil {
		return nil, err
	}

	return &Auth{
		users:     userRepo,
		tokens:    tokens,
		registry:  registry,
		resets:    resets,
		limiter:   limiter,
		hasher:    hasher,
		logger:    logger,
		metrics:   metrics,
		dummyHash: dummyHash,
	}, nil
}

// Register creates a new account. No tokens are issued; the client logs
// in afterwards.
func (a *Auth) Register(ctx context.Context, email, pass, fullName, ip string) (*users.User, error) {
	if err := a.admit(ctx, rate.ScopeCritical, rate.Dimensions{IP: ip}); err != nil {
		return nil, err
	}

	hash, err := a.hasher.Hash(pass)
	if err != nil {
		return nil, err
	}

	u := &users.User{
		Email:        rate.NormalizeIdentifier(email),
		PasswordHash: hash,
		FullName:     fullName,
	}
	if err := a.users.Create(ctx, u); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Registrations.WithLabelValues("failure") })
			return nil, ErrEmailExists
		}
		a.logger.Error("user create failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Registrations.WithLabelValues("success") })
	return u, nil
}

// Login verifies credentials and issues a fresh token pair. Every
// attempt, successful or not, counts against the login window for both
// the caller address and the target email.
func (a *Auth) Login(ctx context.Context, email, pass, ip string) (*TokenPair, error) {
	if err := a.admit(ctx, rate.ScopeLogin, rate.Dimensions{IP: ip, Identifier: email}); err != nil {
		return nil, err
	}

	u, err := a.users.GetByEmail(ctx, rate.NormalizeIdentifier(email))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			// Burn a hash comparison so unknown emails cost the same
			// as wrong passwords.
			_, _ = a.hasher.Verify(pass, a.dummyHash)
			a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Logins.WithLabelValues("failure") })
			return nil, ErrInvalidCredentials
		}
		a.logger.Error("user lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := a.hasher.Verify(pass, u.PasswordHash)
	if err != nil || !ok || !u.IsActive {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Logins.WithLabelValues("failure") })
		return nil, ErrInvalidCredentials
	}

	pair, err := a.issuePair(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Logins.WithLabelValues("success") })
	return pair, nil
}

// Refresh rotates a refresh token: the old jti is blacklisted the
// instant a new pair is minted, and the blacklist compare-and-set is
// what makes the rotation exactly-once. Of N concurrent rotations of
// one token, one wins; the rest observe the jti already blacklisted and
// fail with [ErrTokenInvalid]. A store failure fails the rotation
// closed, never treated as "not blacklisted".
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := a.tokens.Parse(refreshToken, token.TypeRefresh)
	if err != nil {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Rotations.WithLabelValues("failure") })
		return nil, ErrTokenInvalid
	}

	blacklisted, err := a.registry.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		a.logger.Error("blacklist check failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if blacklisted {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Rotations.WithLabelValues("failure") })
		return nil, ErrTokenInvalid
	}

	// The CAS decides the winner under concurrency; the read above is
	// only a fast path.
	won, err := a.registry.Blacklist(ctx, claims.ID, a.blacklistTTL(claims))
	if err != nil {
		a.logger.Error("blacklist write failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !won {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Rotations.WithLabelValues("failure") })
		return nil, ErrTokenInvalid
	}

	if err := a.registry.Deregister(ctx, claims.ID); err != nil {
		// Bookkeeping only; the blacklist entry is authoritative.
		a.logger.Warn("deregister failed", zap.Error(err))
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Rotations.WithLabelValues("failure") })
		return nil, ErrTokenInvalid
	}

	pair, err := a.issuePair(ctx, uid)
	if err != nil {
		return nil, err
	}

	a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Rotations.WithLabelValues("success") })
	return pair, nil
}

// Logout revokes a refresh token. This is the one path where a
// blacklist failure is swallowed: the client is dropping its own token,
// and a degraded revocation is an acceptable outcome. Malformed tokens
// are likewise ignored.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	claims, err := a.tokens.Parse(refreshToken, token.TypeRefresh)
	if err != nil {
		a.logger.Debug("logout with unparseable refresh token", zap.Error(err))
		return nil
	}

	if _, err := a.registry.Blacklist(ctx, claims.ID, a.blacklistTTL(claims)); err != nil {
		a.logger.Warn("logout blacklist failed, client drops token", zap.Error(err))
	}
	if err := a.registry.Deregister(ctx, claims.ID); err != nil {
		a.logger.Debug("logout deregister failed", zap.Error(err))
	}

	a.inc(func(m *obs.Metrics) prometheus.Counter { return m.Logouts })
	return nil
}

// VerifyAccess validates a bearer access token and returns the subject
// user ID. Access tokens are never blacklist-checked; their validity is
// purely cryptographic.
func (a *Auth) VerifyAccess(accessToken string) (int64, error) {
	claims, err := a.tokens.Parse(accessToken, token.TypeAccess)
	if err != nil {
		return 0, ErrUnauthorized
	}
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrUnauthorized
	}
	return uid, nil
}

// GetUser loads a user record for an authenticated subject.
func (a *Auth) GetUser(ctx context.Context, id int64) (*users.User, error) {
	u, err := a.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return u, nil
}

// ForgotPassword generates a single-use reset token for an active
// account. Store failure at generate time is fatal for the flow.
func (a *Auth) ForgotPassword(ctx context.Context, email, ip string) (string, error) {
	if err := a.admit(ctx, rate.ScopePasswordReset, rate.Dimensions{IP: ip, Identifier: email}); err != nil {
		return "", err
	}

	u, err := a.users.GetByEmail(ctx, rate.NormalizeIdentifier(email))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetRequests.WithLabelValues("failure") })
			return "", ErrUserNotFound
		}
		a.logger.Error("user lookup failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !u.IsActive {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetRequests.WithLabelValues("failure") })
		return "", ErrUserNotFound
	}

	resetToken, err := a.resets.Generate(ctx, strconv.FormatInt(u.ID, 10))
	if err != nil {
		a.logger.Error("reset token generate failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetRequests.WithLabelValues("success") })
	return resetToken, nil
}

// ResetPassword consumes a reset token exactly once and sets the new
// password. All sibling tokens for the user are invalidated afterwards;
// a store failure at consume time fails closed.
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword, ip string) (*users.User, error) {
	if err := a.admit(ctx, rate.ScopeCritical, rate.Dimensions{IP: ip}); err != nil {
		return nil, err
	}

	userID, ok, err := a.resets.Consume(ctx, resetToken)
	if err != nil {
		a.logger.Error("reset token consume failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetCompletions.WithLabelValues("failure") })
		return nil, ErrResetTokenInvalid
	}

	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetCompletions.WithLabelValues("failure") })
		return nil, ErrResetTokenInvalid
	}

	u, err := a.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetCompletions.WithLabelValues("failure") })
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !u.IsActive {
		a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetCompletions.WithLabelValues("failure") })
		return nil, ErrResetTokenInvalid
	}

	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	if err := a.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		a.logger.Error("password update failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := a.resets.InvalidateAll(ctx, userID); err != nil {
		a.logger.Error("sibling reset token invalidation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	a.inc(func(m *obs.Metrics) prometheus.Counter { return m.ResetCompletions.WithLabelValues("success") })
	return u, nil
}

// AdmitAnon counts one anonymous request against the anon window. Used
// by the transport for endpoints that carry no scope of their own.
func (a *Auth) AdmitAnon(ctx context.Context, ip string) error {
	return a.admit(ctx, rate.ScopeAnon, rate.Dimensions{IP: ip})
}

// Ping reports availability of the registry's Redis backend.
func (a *Auth) Ping(ctx context.Context) error {
	return a.registry.Ping(ctx)
}

func (a *Auth) issuePair(ctx context.Context, userID int64) (*TokenPair, error) {
	subject := strconv.FormatInt(userID, 10)

	access, err := a.tokens.IssueAccess(subject)
	if err != nil {
		return nil, err
	}

	refresh, jti, err := a.tokens.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}

	if err := a.registry.Register(ctx, jti, subject, time.Now().Add(a.tokens.RefreshTTL())); err != nil {
		a.logger.Error("refresh registration failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// blacklistTTL sizes a revocation entry: the token's remaining validity
// plus the parser's leeway. A token presented inside the skew window
// past its expiry still verifies, so the entry must outlive that window
// or the token could rotate twice.
func (a *Auth) blacklistTTL(claims *token.Claims) time.Duration {
	return time.Until(claims.ExpiresAt.Time) + a.tokens.Leeway()
}

// admit runs the rate limiter and translates its failure modes: denials
// pass through carrying retry-after, store errors fail closed.
func (a *Auth) admit(ctx context.Context, scope rate.Scope, dims rate.Dimensions) error {
	err := a.limiter.Allow(ctx, scope, dims)
	if err == nil {
		return nil
	}

	var denied *rate.DeniedError
	if errors.As(err, &denied) {
		if a.metrics != nil {
			a.metrics.RateLimited.WithLabelValues(string(denied.Scope)).Inc()
		}
		return denied
	}

	a.logger.Error("rate limiter unavailable, failing closed", zap.String("scope", string(scope)), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (a *Auth) inc(pick func(*obs.Metrics) prometheus.Counter) {
	if a.metrics == nil {
		return
	}
	pick(a.metrics).Inc()
}

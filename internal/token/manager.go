package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type discriminates access tokens from refresh tokens. The claim is
// checked on every parse so a refresh token can never authorize an API
// call and vice versa.
type Type string

const (
	// TypeAccess marks short-lived bearer tokens.
	TypeAccess Type = "access"
	// TypeRefresh marks long-lived rotating tokens.
	TypeRefresh Type = "refresh"
)

// ErrTokenTypeMismatch is returned when a token parses and verifies but
// carries the wrong token_type claim for the requested use.
var ErrTokenTypeMismatch = errors.New("unexpected token type")

// Config holds signing parameters. Instances are configured during
// initialization and treated as immutable afterwards.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Claims is the claim set carried by every token the manager issues.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access and refresh tokens with a shared
// HS256 secret. It holds no mutable state and is safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates the configuration and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a signing secret")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// Leeway returns the configured clock-skew allowance. Revocation records
// must outlive a token's expiry by at least this long, since Parse keeps
// accepting the token inside the skew window.
func (m *Manager) Leeway() time.Duration { return m.config.Leeway }

// IssueAccess signs a new access token for the subject. The returned jti
// is unique per token but access tokens are never registered; their
// validity is purely cryptographic.
func (m *Manager) IssueAccess(subject string) (string, error) {
	signed, _, err := m.issue(subject, TypeAccess, m.config.AccessTTL)
	return signed, err
}

// IssueRefresh signs a new refresh token for the subject and returns the
// token together with its jti, which callers register and later blacklist.
func (m *Manager) IssueRefresh(subject string) (string, string, error) {
	return m.issue(subject, TypeRefresh, m.config.RefreshTTL)
}

func (m *Manager) issue(subject string, typ Type, ttl time.Duration) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()

	claims := Claims{
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.config.Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// Parse verifies the signature and expiry of a token and checks that its
// token_type matches the expected use. Failures surface as the jwt
// package sentinels ([jwt.ErrTokenMalformed], [jwt.ErrTokenSignatureInvalid],
// [jwt.ErrTokenExpired]) or [ErrTokenTypeMismatch]; callers collapse these
// into one generic invalid-token error before they reach a client.
//
// Parse does not consult the blacklist. That check is layered on top by
// the refresh [Registry].
func (m *Manager) Parse(tokenStr string, expected Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TokenType != string(expected) {
		return nil, ErrTokenTypeMismatch
	}
	if claims.ID == "" {
		return nil, jwt.ErrTokenInvalidId
	}

	return claims, nil
}

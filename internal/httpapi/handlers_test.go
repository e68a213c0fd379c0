package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mgrindel/authcore/internal/password"
	"github.com/mgrindel/authcore/internal/rate"
	"github.com/mgrindel/authcore/internal/service"
	"github.com/mgrindel/authcore/internal/stores"
	"github.com/mgrindel/authcore/internal/token"
	"github.com/mgrindel/authcore/internal/users"
)

type memUserRepo struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*users.User
	byEmail map[string]int64
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		nextID:  1,
		byID:    make(map[int64]*users.User),
		byEmail: make(map[string]int64),
	}
}

func (m *memUserRepo) Create(_ context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[u.Email]; exists {
		return users.ErrEmailTaken
	}
	u.ID = m.nextID
	m.nextID++
	u.IsActive = true
	clone := *u
	m.byID[u.ID] = &clone
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, users.ErrNotFound
	}
	clone := *m.byID[id]
	return &clone, nil
}

func (m *memUserRepo) GetByID(_ context.Context, id int64) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUserRepo) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func newTestRouter(t *testing.T, rateCfg rate.Config) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tokens, err := token.NewManager(token.Config{
		Secret:     []byte("test-secret-key-0123456789abcdef"),
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "authcore-test",
	})
	require.NoError(t, err)

	hasher, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	require.NoError(t, err)

	auth, err := service.New(
		newMemUserRepo(),
		tokens,
		token.NewRegistry(rdb),
		stores.NewPasswordResetStore(rdb, 600*time.Second),
		rate.New(rdb, rateCfg),
		hasher,
		zap.NewNop(),
		nil,
	)
	require.NoError(t, err)

	return NewRouter(NewHandlers(auth, zap.NewNop(), true)), mr
}

func looseRateConfig() rate.Config {
	return rate.Config{Windows: map[rate.Scope]rate.Window{
		rate.ScopeLogin:         {Max: 1000, Period: time.Minute},
		rate.ScopePasswordReset: {Max: 1000, Period: time.Minute},
		rate.ScopeCritical:      {Max: 1000, Period: time.Hour},
	}}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func registerAndLogin(t *testing.T, router *gin.Engine, email, pass string) (string, string) {
	t.Helper()

	w, env := doJSON(t, router, http.MethodPost, "/auth/register", gin.H{
		"email": email, "password": pass, "full_name": "Test User",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)

	w, env = doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email": email, "password": pass,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := env.Data.(map[string]any)
	return data["access"].(string), data["refresh"].(string)
}

func TestRegisterLoginAndProtectedRoute(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())

	access, refresh := registerAndLogin(t, router, "alice@example.com", "password-123")
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	w, env := doJSON(t, router, http.MethodGet, "/auth/protected-test", nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)
	require.Equal(t, "alice@example.com", env.Data.(map[string]any)["email"])
}

func TestRegisterValidation(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())

	cases := []gin.H{
		{"email": "not-an-email", "password": "password-123", "full_name": "A"},
		{"email": "a@b.co", "password": "short", "full_name": "A"},
		{"email": "a@b.co", "password": "password-123"},
	}
	for _, body := range cases {
		w, env := doJSON(t, router, http.MethodPost, "/auth/register", body, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, CodeInvalidInput, env.ResponseCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())
	registerAndLogin(t, router, "alice@example.com", "password-123")

	w, env := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "wrong-password",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeAuthFailed, env.ResponseCode)

	// Error envelopes carry an explicit null data field.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	data, ok := raw["data"]
	require.True(t, ok)
	require.JSONEq(t, "null", string(data))
}

func TestRefreshEndpointRotates(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())
	_, refresh := registerAndLogin(t, router, "alice@example.com", "password-123")

	w, env := doJSON(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh": refresh}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)

	// The rotated-out token is rejected on replay.
	w, env = doJSON(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeInvalidRefresh, env.ResponseCode)
}

func TestLogoutEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())
	access, refresh := registerAndLogin(t, router, "alice@example.com", "password-123")

	// Logout requires a bearer credential.
	w, env := doJSON(t, router, http.MethodPost, "/auth/logout", gin.H{"refresh": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeAuthFailed, env.ResponseCode)

	w, env = doJSON(t, router, http.MethodPost, "/auth/logout", gin.H{"refresh": refresh}, map[string]string{
		"Authorization": "Bearer " + access,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)

	w, env = doJSON(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeInvalidRefresh, env.ResponseCode)
}

func TestPasswordResetEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())
	registerAndLogin(t, router, "alice@example.com", "old-password-123")

	// Dev mode echoes the token so the flow is testable end to end.
	w, env := doJSON(t, router, http.MethodPost, "/auth/forgot-password", gin.H{
		"email": "alice@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)
	resetToken := env.Data.(map[string]any)["reset_token"].(string)
	require.NotEmpty(t, resetToken)

	w, env = doJSON(t, router, http.MethodPost, "/auth/reset-password", gin.H{
		"token":            resetToken,
		"new_password":     "new-password-123",
		"confirm_password": "new-password-123",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)

	w, env = doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "new-password-123",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeSuccess, env.ResponseCode)

	// Token replay fails.
	w, env = doJSON(t, router, http.MethodPost, "/auth/reset-password", gin.H{
		"token":            resetToken,
		"new_password":     "newer-password-123",
		"confirm_password": "newer-password-123",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, CodeInvalidReset, env.ResponseCode)
}

func TestForgotPasswordUnknownUser(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())

	w, env := doJSON(t, router, http.MethodPost, "/auth/forgot-password", gin.H{
		"email": "nobody@example.com",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, CodeResetInitFailed, env.ResponseCode)
}

func TestResetPasswordMismatchedConfirmation(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())

	w, env := doJSON(t, router, http.MethodPost, "/auth/reset-password", gin.H{
		"token":            "whatever",
		"new_password":     "new-password-123",
		"confirm_password": "different-password",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, CodeInvalidInput, env.ResponseCode)
}

func TestLoginRateLimitSetsRetryAfter(t *testing.T) {
	router, _ := newTestRouter(t, rate.DefaultConfig())

	for i := 0; i < 5; i++ {
		w, _ := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
			"email": "alice@example.com", "password": "whatever1",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w, env := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "whatever1",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, CodeRateLimited, env.ResponseCode)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, looseRateConfig())

	w, env := doJSON(t, router, http.MethodGet, "/auth/protected-test", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeAuthFailed, env.ResponseCode)

	w, env = doJSON(t, router, http.MethodGet, "/auth/protected-test", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeAuthFailed, env.ResponseCode)

	// A refresh token is not a bearer credential.
	_, refresh := registerAndLogin(t, router, "bob@example.com", "password-123")
	w, env = doJSON(t, router, http.MethodGet, "/auth/protected-test", nil, map[string]string{
		"Authorization": "Bearer " + refresh,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeAuthFailed, env.ResponseCode)
}

func TestAnonWindowStacksOnLogin(t *testing.T) {
	cfg := looseRateConfig()
	cfg.Windows[rate.ScopeAnon] = rate.Window{Max: 3, Period: time.Hour}
	router, _ := newTestRouter(t, cfg)

	// The login window alone would admit all of these; the stacked anon
	// window caps the address first.
	for i := 0; i < 3; i++ {
		w, env := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
			"email": "alice@example.com", "password": "whatever1",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, CodeAuthFailed, env.ResponseCode)
	}

	w, env := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "whatever1",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, CodeRateLimited, env.ResponseCode)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// Forgot-password shares the same stacked evaluation.
	w, env = doJSON(t, router, http.MethodPost, "/auth/forgot-password", gin.H{
		"email": "alice@example.com",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, CodeRateLimited, env.ResponseCode)
}

func TestAnonWindowThrottlesRefresh(t *testing.T) {
	cfg := looseRateConfig()
	cfg.Windows[rate.ScopeAnon] = rate.Window{Max: 2, Period: time.Hour}
	router, _ := newTestRouter(t, cfg)

	for i := 0; i < 2; i++ {
		w, env := doJSON(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh": "bogus"}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, CodeInvalidRefresh, env.ResponseCode)
	}

	w, env := doJSON(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh": "bogus"}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, CodeRateLimited, env.ResponseCode)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

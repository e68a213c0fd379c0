package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mgrindel/authcore/internal/rate"
	"github.com/mgrindel/authcore/internal/service"
	"github.com/mgrindel/authcore/internal/users"
)

// Handlers hosts the endpoint implementations. devMode echoes generated
// reset tokens in the response body instead of relying on a mail
// delivery channel; never enable it outside local development.
type Handlers struct {
	auth    *service.Auth
	logger  *zap.Logger
	devMode bool
}

// NewHandlers wires the endpoint set.
func NewHandlers(auth *service.Auth, logger *zap.Logger, devMode bool) *Handlers {
	return &Handlers{auth: auth, logger: logger, devMode: devMode}
}

type userView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

func viewOf(u *users.User) userView {
	return userView{ID: u.ID, Email: u.Email, FullName: u.FullName}
}

// Register creates an account.
func (h *Handlers) Register(c *gin.Context) {
	var form RegisterForm
	if err := c.ShouldBindJSON(&form); err != nil {
		bindError(c, err)
		return
	}

	u, err := h.auth.Register(c.Request.Context(), form.Email, form.Password, form.FullName, c.ClientIP())
	if err != nil {
		h.fail(c, err, map[error]failure{
			service.ErrEmailExists: {http.StatusBadRequest, CodeInvalidInput, "email already registered"},
		})
		return
	}

	respondCreated(c, "registration successful", viewOf(u))
}

// Login exchanges credentials for a token pair.
func (h *Handlers) Login(c *gin.Context) {
	var form LoginForm
	if err := c.ShouldBindJSON(&form); err != nil {
		bindError(c, err)
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), form.Email, form.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err, map[error]failure{
			service.ErrInvalidCredentials: {http.StatusUnauthorized, CodeAuthFailed, "invalid email or password"},
		})
		return
	}

	respondOK(c, "login successful", pair)
}

// Refresh rotates a refresh token for a new pair.
func (h *Handlers) Refresh(c *gin.Context) {
	var form RefreshForm
	if err := c.ShouldBindJSON(&form); err != nil {
		bindError(c, err)
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), form.Refresh)
	if err != nil {
		h.fail(c, err, map[error]failure{
			service.ErrTokenInvalid: {http.StatusUnauthorized, CodeInvalidRefresh, "invalid or expired refresh token"},
		})
		return
	}

	respondOK(c, "token refreshed", pair)
}

// Logout revokes a refresh token. The endpoint succeeds even when the
// token is already invalid; the client is discarding it either way.
func (h *Handlers) Logout(c *gin.Context) {
	var form LogoutForm
	if err := c.ShouldBindJSON(&form); err != nil {
		bindError(c, err)
		return
	}

	if err := h.auth.Logout(c.Request.Context(), form.Refresh); err != nil {
		h.fail(c, err, nil)
		return
	}

	respondOK(c, "logout successful", nil)
}

// ForgotPassword initiates a password reset for an active account.
func (h *Handlers) ForgotPassword(c *gin.Context) {
	var form ForgotPasswordForm
	if err := c.ShouldBindJSON(&form); err != nil {
		bindError(c, err)
		return
	}

	token, err := h.auth.ForgotPassword(c.Request.Context(), form.Email, c.ClientIP())
	if err != nil {
		h.fail(c, err, map[error]failure{
			service.ErrUserNotFound: {http.StatusBadRequest, CodeResetInitFailed, "no active user found with this email address"},
		})
		return
	}

	data := gin.H{"email": form.Email}
	if h.devMode {
		data["reset_token"] = token
	}
	respondOK(c, "password reset initiated", data)
}

// ResetPassword completes a reset with a single-use token.
func (h *Handlers) ResetPassword(c *gin.Context) {
	var form ResetPasswordForm
	if err := c.ShouldBindJSON(&form); err != nil {
		bindError(c, err)
		return
	}

	u, err := h.auth.ResetPassword(c.Request.Context(), form.Token, form.NewPassword, c.ClientIP())
	if err != nil {
		h.fail(c, err, map[error]failure{
			service.ErrResetTokenInvalid: {http.StatusBadRequest, CodeInvalidReset, "invalid or expired password reset token"},
		})
		return
	}

	respondOK(c, "password reset successful", gin.H{"user_id": u.ID, "email": u.Email})
}

// ProtectedTest returns the authenticated user's record. It sits behind
// the access token middleware and doubles as the bearer-auth smoke
// endpoint.
func (h *Handlers) ProtectedTest(c *gin.Context) {
	uid := c.GetInt64(ctxUserID)

	u, err := h.auth.GetUser(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err, map[error]failure{
			service.ErrUnauthorized: {http.StatusUnauthorized, CodeAuthFailed, "unauthorized"},
		})
		return
	}

	respondOK(c, "ok", viewOf(u))
}

type failure struct {
	status int
	code   string
	desc   string
}

// fail translates a service error to an envelope. Per-endpoint
// sentinels come through overrides; rate denials and dependency
// failures are handled uniformly.
func (h *Handlers) fail(c *gin.Context, err error, overrides map[error]failure) {
	var denied *rate.DeniedError
	if errors.As(err, &denied) {
		seconds := int64(math.Ceil(denied.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		respondError(c, http.StatusTooManyRequests, CodeRateLimited,
			"rate limit exceeded, retry after "+(time.Duration(seconds)*time.Second).String())
		return
	}

	for sentinel, f := range overrides {
		if errors.Is(err, sentinel) {
			respondError(c, f.status, f.code, f.desc)
			return
		}
	}

	if errors.Is(err, service.ErrUnavailable) {
		h.logger.Error("request failed on dependency", zap.Error(err))
		respondError(c, http.StatusInternalServerError, CodeUnavailable, "service temporarily unavailable")
		return
	}

	h.logger.Error("unhandled service error", zap.Error(err))
	respondError(c, http.StatusInternalServerError, CodeUnavailable, "internal error")
}

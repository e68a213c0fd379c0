package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mgrindel/authcore/internal/service"
)

// ctxUserID is the gin context key carrying the authenticated subject.
const ctxUserID = "userID"

// AnonRateLimit counts a request against the anonymous per-address
// window before the handler runs. It stacks with any endpoint-specific
// scope evaluated inside the service; exceeding either window denies.
func AnonRateLimit(h *Handlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.auth.AdmitAnon(c.Request.Context(), c.ClientIP()); err != nil {
			h.fail(c, err, nil)
			return
		}
		c.Next()
	}
}

// RequireAccessToken validates the Authorization bearer token and stores
// the subject user ID in the request context. Refresh tokens are
// rejected here by the token_type check.
func RequireAccessToken(auth *service.Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(c, http.StatusUnauthorized, CodeAuthFailed, "missing bearer token")
			return
		}

		uid, err := auth.VerifyAccess(token)
		if err != nil {
			respondError(c, http.StatusUnauthorized, CodeAuthFailed, "invalid or expired access token")
			return
		}

		c.Set(ctxUserID, uid)
		c.Next()
	}
}

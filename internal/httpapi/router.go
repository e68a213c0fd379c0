package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter assembles the public API. The auth group is open; everything
// under the protected group requires a valid access token.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if err := h.auth.Ping(c.Request.Context()); err != nil {
			respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "unhealthy")
			return
		}
		respondOK(c, "ok", nil)
	})

	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", AnonRateLimit(h), h.Login)
		auth.POST("/refresh", AnonRateLimit(h), h.Refresh)
		auth.POST("/logout", AnonRateLimit(h), RequireAccessToken(h.auth), h.Logout)
		auth.POST("/forgot-password", AnonRateLimit(h), h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
		auth.GET("/protected-test", RequireAccessToken(h.auth), h.ProtectedTest)
	}

	return r
}

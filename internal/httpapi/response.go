// Package httpapi is the gin transport for the credential service. It
// owns request binding, the response envelope, and the mapping from
// service errors to envelope codes.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope codes carried in every response body. Clients branch on the
// code rather than the HTTP status alone.
const (
	CodeSuccess         = "00"
	CodeRateLimited     = "06"
	CodeInvalidInput    = "07"
	CodeAuthFailed      = "08"
	CodeInvalidRefresh  = "09"
	CodeResetInitFailed = "10"
	CodeInvalidReset    = "11"
	CodeResetFailed     = "12"
	CodeUnavailable     = "99"
)

// Envelope is the uniform response body.
type Envelope struct {
	ResponseCode        string `json:"responseCode"`
	ResponseDescription string `json:"responseDescription"`
	Data                any    `json:"data"`
}

func respondOK(c *gin.Context, description string, data any) {
	c.JSON(http.StatusOK, Envelope{
		ResponseCode:        CodeSuccess,
		ResponseDescription: description,
		Data:                data,
	})
}

func respondCreated(c *gin.Context, description string, data any) {
	c.JSON(http.StatusCreated, Envelope{
		ResponseCode:        CodeSuccess,
		ResponseDescription: description,
		Data:                data,
	})
}

func respondError(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, Envelope{
		ResponseCode:        code,
		ResponseDescription: description,
	})
}

// bindError reports a request-binding failure. The validator message
// names the offending field, so it is passed through as the description.
func bindError(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, CodeInvalidInput, err.Error())
}

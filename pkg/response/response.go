package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
	CodeUnavailable  = 503
)

// Error body shared by every failing endpoint.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Error{Code: status, Message: message})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, message)
}

func Unavailable(c *gin.Context, message string) {
	Fail(c, http.StatusServiceUnavailable, message)
}

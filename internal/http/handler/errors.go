package handler

import (
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/gin-gonic/gin"
)

// abortWithError answers with the proxy error envelope. Only used before a
// stream has started.
func abortWithError(c *gin.Context, status int, message string) {
	c.Header("X-Accel-Buffering", "no")
	c.AbortWithStatusJSON(status, domain.NewErrorResponse(status, message))
}

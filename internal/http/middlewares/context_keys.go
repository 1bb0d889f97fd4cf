package middlewares

import "github.com/gin-gonic/gin"

// gin context keys
const (
	CtxRequestID   = "request_id"
	ctxIdentityKey = "auth.identity"
)

func RequestIDFromContext(c *gin.Context) string {
	if id := c.GetString(CtxRequestID); id != "" {
		return id
	}
	return c.GetHeader(requestIDHeader)
}

// abortWithError writes the standard error envelope and stops the chain.
func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   message,
			"requestId": RequestIDFromContext(c),
		},
	})
}

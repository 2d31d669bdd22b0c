package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerKey  = "X-Request-ID"
	contextKey = "request_id"
)

// Middleware tags every request with an ID. An inbound X-Request-ID is
// trusted and propagated; otherwise a fresh UUID is minted. The ID is
// echoed back on the response so clients can correlate logs.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerKey)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		c.Set(contextKey, reqID)
		c.Writer.Header().Set(headerKey, reqID)
		c.Next()
	}
}

// Value returns the request ID for the current request, or "" when the
// middleware has not run.
func Value(c *gin.Context) string {
	if id, ok := c.Value(contextKey).(string); ok {
		return id
	}
	return ""
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vidyalay/institute-ops-api/internal/service"
)

// Metrics records method, route and status for every request. Unmatched
// routes are labelled by raw path so 404s still show up. A nil service
// turns the middleware into a pass-through.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

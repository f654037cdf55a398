package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academia-billing-api/internal/service"
)

// Metrics records request count and latency per matched route.
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
			// raw paths would let scanners explode label cardinality
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

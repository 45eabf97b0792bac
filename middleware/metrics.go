package middleware

import (
	"strconv"
	"time"

	"github.com/AnTengye/cerfaflow/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request counts and latencies by route pattern
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.RequestStarted()

		c.Next()

		m.RequestFinished(c.Request.Method, routeOf(c), strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Boswecw/rake/internal/metrics"
	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// correlationHeader carries the request correlation id end to end
const correlationHeader = "X-Correlation-ID"

// correlationKey is the gin context key for the correlation id
const correlationKey = "correlation_id"

// CorrelationID honours an inbound X-Correlation-ID, generates one when
// absent, and echoes it on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = models.NewCorrelationID()
		}
		c.Set(correlationKey, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

// correlationID returns the request's correlation id
func correlationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// RequestMetrics observes request latency per method, route and status
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	log := logger.WithPrefix("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request handled", map[string]interface{}{
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         c.Writer.Status(),
			"duration_ms":    time.Since(start).Milliseconds(),
			"correlation_id": correlationID(c),
		})
	}
}

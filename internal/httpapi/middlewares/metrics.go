package middlewares

import (
	"strconv"
	"time"

	"github.com/coreflow/backbone/internal/observability"
	"github.com/gin-gonic/gin"
)

// Metrics records RequestsTotal/RequestsDuration/InFlight for every
// request, labeled by the matched route rather than the raw path so a
// :id param never explodes cardinality.
func Metrics(prom *observability.Prom) gin.HandlerFunc {
	return func(c *gin.Context) {
		if prom == nil {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		prom.InFlight.WithLabelValues(method, route).Inc()
		start := time.Now()

		c.Next()

		prom.InFlight.WithLabelValues(method, route).Dec()
		status := strconv.Itoa(c.Writer.Status())
		prom.RequestsTotal.WithLabelValues(method, route, status).Inc()
		prom.RequestsDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}

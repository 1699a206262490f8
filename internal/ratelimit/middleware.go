package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/coreflow/backbone/internal/observability"
	"github.com/gin-gonic/gin"
)

// Middleware returns a gin.HandlerFunc enforcing action's limit, keyed by
// the caller's IP (proxy-aware via gin's ClientIP). A rejected request
// gets 429 with Retry-After and the message spec'd in the HTTP surface.
func (l *Limiter) Middleware(action string, prom *observability.Prom) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c)

		allowed, retryAfter := l.Check(action, ip)
		if !allowed {
			if prom != nil {
				prom.RateLimitViolations.WithLabelValues(action).Inc()
				prom.RateLimitRejections.WithLabelValues(action).Inc()
			}
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
			return
		}
		c.Next()
	}
}

func clientIP(c *gin.Context) net.IP {
	ipStr := c.ClientIP()
	if host, _, err := net.SplitHostPort(ipStr); err == nil && host != "" {
		ipStr = host
	}
	if ip := net.ParseIP(ipStr); ip != nil {
		return ip
	}
	return net.IPv4zero
}

package middlewares

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/progresshub/internal/observability"
	"github.com/geocoder89/progresshub/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Throttle rejects requests over the limiter's budget with 429 and a
// Retry-After in whole seconds. Limiter errors let the request through.
func Throttle(l ratelimit.Limiter, keyFn func(*gin.Context) string, prom *observability.Prom) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		ok, retryAfter, err := l.Allow(c.Request.Context(), c.FullPath()+"|"+key)
		if err != nil || ok {
			c.Next()
			return
		}

		prom.ObserveRateLimited(c.FullPath())

		c.Header("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
		abortWithError(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
	}
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// forwarding headers count only when the engine's trusted proxies cover
	// the peer; the router trusts none unless TRUSTED_PROXIES is set
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}

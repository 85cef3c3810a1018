package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shortkit/shortkit/pkg/shortkit/cache"
	"go.uber.org/zap"
)

const window = time.Minute

// Middleware limits each client IP to perMinute requests in a fixed
// one-minute window, counted in the cache. Health checks are exempt.
// When the cache is absent or unreachable the limiter fails open: it
// is a protection layer, never a point of failure.
func Middleware(store *cache.Cache, perMinute int, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		count, remaining, ok := store.CountRequest("ratelimit:"+clientIP, window)
		if !ok {
			c.Next()
			return
		}

		if count > int64(perMinute) {
			retryAfter := int(remaining.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			log.Debug("rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.Int64("count", count))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// touch records activity. The request path and the cleanup goroutine both
// reach last, so access goes through the mutex.
func (v *visitor) touch() {
	v.mu.Lock()
	v.last = time.Now()
	v.mu.Unlock()
}

func (v *visitor) idle(ttl time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Since(v.last) > ttl
}

// NewRateLimitPerIP caps requests per second per client IP, with an LRU cache
// bounding the number of tracked IPs.
func NewRateLimitPerIP(
	limit, burst, cacheSize int,
	ttl time.Duration,
) gin.HandlerFunc {

	visitors, _ := lru.New[string, *visitor](cacheSize)

	// Drop IPs that have been quiet for a full TTL.
	go func() {
		ticker := time.NewTicker(ttl)
		for range ticker.C {
			for _, key := range visitors.Keys() {
				if v, ok := visitors.Peek(key); ok && v.idle(ttl) {
					visitors.Remove(key)
				}
			}
		}
	}()

	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}

		v, ok := visitors.Get(host)
		if !ok {
			v = &visitor{
				limiter: rate.NewLimiter(rate.Limit(limit), burst),
			}
			visitors.Add(host, v)
		}
		v.touch()

		if !v.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request. Authorization and cookie headers
// never reach the log.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ce := log.Check(zap.DebugLevel, "incoming request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("headers", scrub(c.Request.Header)),
			)
		}

		ts := time.Now()
		c.Next()

		latency := time.Since(ts)
		respStatus := c.Writer.Status()

		for _, e := range c.Errors {
			log.Error("handler error",
				zap.Int("status", respStatus),
				zap.Error(e),
				zap.String("path", c.Request.URL.Path),
			)
		}

		log.Info("request completed",
			zap.Int("status", respStatus),
			zap.Duration("latency", latency),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
	}
}

func scrub(h http.Header) http.Header {
	clone := h.Clone()
	for k := range clone {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "authorization") || strings.Contains(lk, "cookie") {
			clone[k] = []string{"[redacted]"}
		}
	}
	return clone
}

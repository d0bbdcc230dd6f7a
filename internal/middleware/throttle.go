package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"udensfiltri/internal/metrics"
	"udensfiltri/internal/throttle"
)

// KeyFunc picks the throttle key for a request. An empty key skips the check.
type KeyFunc func(c *gin.Context) string

func ByClientIP(c *gin.Context) string { return c.ClientIP() }

func ByUser(c *gin.Context) string {
	if uid, _, ok := CurrentUser(c); ok {
		return strconv.FormatInt(uid, 10)
	}
	return ""
}

// ByUserOrClientIP keys signed-in callers by user id and anonymous ones by
// client IP.
func ByUserOrClientIP(c *gin.Context) string {
	if uid := ByUser(c); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

// Throttle rejects requests over the scope's limit with 429.
func Throttle(gate throttle.Gate, scope string, key KeyFunc, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			c.Next()
			return
		}
		if !Allow(c, gate, scope, k, log) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Request was throttled."})
			return
		}
		c.Next()
	}
}

// Allow asks gate about (scope, key) and counts denials.
func Allow(c *gin.Context, gate throttle.Gate, scope, key string, log *zap.Logger) bool {
	ok, err := gate.Allow(c.Request.Context(), scope, key)
	if err != nil {
		log.Warn("throttle check failed", zap.String("scope", scope), zap.Error(err))
		return true
	}
	if !ok {
		metrics.ThrottleDenied.WithLabelValues(scope).Inc()
		log.Info("throttled", zap.String("scope", scope), zap.String("request_id", c.GetString(CtxRequestID)))
	}
	return ok
}

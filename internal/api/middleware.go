package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"vclip/server/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	ctxTraceID = "trace_id"

	limiterTTL = 10 * time.Minute
)

func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader("X-Trace-Id"))
		if traceID == "" {
			if v7, err := uuid.NewV7(); err == nil {
				traceID = v7.String()
			} else {
				traceID = uuid.NewString()
			}
		}
		c.Set(ctxTraceID, traceID)
		c.Writer.Header().Set("X-Trace-Id", traceID)
		c.Next()
	}
}

func RequestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http_request",
			"trace_id", traceIDFromContext(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// APIKeyMiddleware requires a valid X-API-Key when the auth service has one configured.
func APIKeyMiddleware(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authSvc == nil || !authSvc.APIKeyRequired() {
			c.Next()
			return
		}
		if err := authSvc.CheckAPIKey(c.GetHeader("X-API-Key")); err != nil {
			writeUnauthorized(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies a token bucket per client IP. rps <= 0 disables it.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	var (
		mu       sync.Mutex
		limiters = map[string]*cachedLimiter{}
		swept    = time.Now()
	)
	get := func(key string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(swept) > limiterTTL {
			for k, l := range limiters {
				if now.Sub(l.lastSeen) > limiterTTL {
					delete(limiters, k)
				}
			}
			swept = now
		}
		l, ok := limiters[key]
		if !ok {
			l = &cachedLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[key] = l
		}
		l.lastSeen = now
		return l.limiter
	}
	return func(c *gin.Context) {
		if !get(c.ClientIP(), time.Now()).Allow() {
			c.Header("Retry-After", "1")
			writeError(c, http.StatusTooManyRequests, codeRateLimited, "Too many requests", true, nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func traceIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(ctxTraceID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func requireJSON(c *gin.Context) bool {
	if c.ContentType() == "" {
		return true
	}
	if strings.Contains(c.ContentType(), "application/json") {
		return true
	}
	writeError(c, http.StatusUnsupportedMediaType, codeUnsupportedType, "Content-Type must be application/json", false, nil)
	return false
}

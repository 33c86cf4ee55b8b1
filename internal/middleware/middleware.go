// Package middleware provides the broker's ambient gin middleware:
// structured request logging, panic recovery, per-IP rate limiting,
// request-id tagging, and CORS — the same concerns the teacher's
// internal/middleware/middleware.go wires, scoped to what the broker's
// HTTP surface needs.
package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"apex-build/internal/logging"
	"apex-build/internal/metrics"
)

// ErrorResponse is the standardized JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ErrorHandler logs each request's outcome with structured fields,
// skipping the healthcheck endpoint the way the teacher's logger skips
// "/health".
func ErrorHandler() gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthcheck"},
		Formatter: func(p gin.LogFormatterParams) string {
			logging.L().Sugar().Infow("http request",
				"status", p.StatusCode,
				"method", p.Method,
				"path", p.Path,
				"latency_ms", p.Latency.Milliseconds(),
				"client_ip", p.ClientIP,
			)
			return ""
		},
	})
}

// Recovery turns a panic into a structured 500 response with the stack
// trace logged, instead of crashing the server.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L().Sugar().Errorw("panic recovered", "err", fmt.Sprintf("%v", recovered), "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "an unexpected error occurred",
		})
	})
}

// Metrics records every request's duration and in-flight count against
// the HTTPRequests* family, the same gin middleware shape as the
// teacher's internal/metrics/middleware.go.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		m := metrics.Get()
		m.HTTPRequestsInFlight.Inc()
		start := time.Now()
		c.Next()
		m.HTTPRequestsInFlight.Dec()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		m.RecordHTTPRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// RequestID tags every request with a unique id, propagated in the
// response header and available to handlers for log correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// CORS allows cross-origin requests from the configured UI origins (or
// all origins when none are configured, matching a broker typically
// embedded behind another service's edge).
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll || allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", firstNonEmpty(origin, "*"))
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ipLimiter is a per-client-IP token bucket, cleaned up periodically so
// long-idle clients don't leak limiter state forever.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry
	rps      rate.Limit
	burst    int
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var globalLimiter *ipLimiter

// InitRateLimiter configures the global per-IP limiter: rps requests per
// second sustained, burst allowed instantaneously.
func InitRateLimiter(rps float64, burst int) {
	globalLimiter = &ipLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go globalLimiter.cleanupLoop()
}

// RateLimit rejects requests once a client IP exceeds its token bucket.
// InitRateLimiter must be called first; if it wasn't, the middleware is a
// no-op rather than panicking on every request.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if globalLimiter == nil {
			c.Next()
			return
		}
		if !globalLimiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limited",
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &rateLimiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

func (l *ipLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-30 * time.Minute)
		l.mu.Lock()
		for ip, e := range l.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

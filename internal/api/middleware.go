package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yoyo3287258/wol-gateway/internal/config"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
	"golang.org/x/time/rate"
)

const (
	traceIDKey    = "trace_id"
	traceIDHeader = "X-Trace-ID"
)

// LoggerMiddleware writes one access log line per request.
func LoggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}

		event.
			Str(xlog.FieldEvent, "http.request").
			Str(xlog.FieldTraceID, c.GetString(traceIDKey)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}

// CORSMiddleware allows cross-origin calls.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Trace-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// TraceIDMiddleware takes X-Trace-ID from the request or generates one.
func TraceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(traceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(traceIDKey, traceID)
		c.Header(traceIDHeader, traceID)

		c.Next()
	}
}

// APITokenAuthMiddleware checks Authorization: Bearer <token>.
// An empty token disables the check.
func APITokenAuthMiddleware(securityCfg *config.SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if securityCfg.APIToken == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing Authorization header",
			})
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "malformed Authorization header, want: Bearer <token>",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(securityCfg.APIToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "invalid API token",
			})
			return
		}

		c.Next()
	}
}

// IPWhitelistMiddleware accepts single IPs and CIDRs. Invalid entries are skipped.
func IPWhitelistMiddleware(securityCfg *config.SecurityConfig) gin.HandlerFunc {
	var networks []*net.IPNet
	var singleIPs []net.IP

	for _, entry := range securityCfg.IPWhitelist {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil {
				networks = append(networks, network)
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			singleIPs = append(singleIPs, ip)
		}
	}

	return func(c *gin.Context) {
		if len(securityCfg.IPWhitelist) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "cannot parse client IP",
			})
			return
		}

		if !ipAllowed(clientIP, singleIPs, networks) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": fmt.Sprintf("IP %s is not whitelisted", c.ClientIP()),
			})
			return
		}

		c.Next()
	}
}

func ipAllowed(ip net.IP, singleIPs []net.IP, networks []*net.IPNet) bool {
	for _, allowed := range singleIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, network := range networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows limitPerMinute requests per key, with bursts up to the same amount.
func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(limitPerMinute)),
		burst:    limitPerMinute,
	}
}

// Allow reports whether a request for key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}

// RateLimitMiddleware limits requests per client IP. Zero or less disables it.
func RateLimitMiddleware(securityCfg *config.SecurityConfig) gin.HandlerFunc {
	if securityCfg.RateLimitPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := NewRateLimiter(securityCfg.RateLimitPerMinute)

	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": fmt.Sprintf("too many requests, limit is %d per minute", securityCfg.RateLimitPerMinute),
			})
			return
		}
		c.Next()
	}
}

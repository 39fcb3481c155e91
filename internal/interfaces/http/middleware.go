package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterCleanupTick = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Middleware struct {
	rateLimiters map[string]*clientLimiter
	mu           sync.Mutex
	now          func() time.Time
	stop         chan struct{}
	stopOnce     sync.Once
	log          zerolog.Logger
}

// NewMiddleware starts a cleanup goroutine for idle per-client limiters.
// Call Close to stop it.
func NewMiddleware(log zerolog.Logger) *Middleware {
	m := &Middleware{
		rateLimiters: make(map[string]*clientLimiter),
		now:          time.Now,
		stop:         make(chan struct{}),
		log:          log.With().Str("component", "http").Logger(),
	}
	go m.cleanup()
	return m
}

func (m *Middleware) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// cleanup drops limiters of clients that have gone quiet
func (m *Middleware) cleanup() {
	ticker := time.NewTicker(limiterCleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Middleware) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, cl := range m.rateLimiters {
		if now.Sub(cl.lastSeen) >= limiterIdleTTL {
			delete(m.rateLimiters, key)
		}
	}
}

// RateLimitPerClient limits requests per client IP.
func (m *Middleware) RateLimitPerClient(r float64, b int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		m.mu.Lock()
		cl, exists := m.rateLimiters[key]
		if !exists {
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(r), b)}
			m.rateLimiters[key] = cl
		}
		cl.lastSeen = m.now()
		limiter := cl.limiter
		m.mu.Unlock()

		if !limiter.Allow() {
			m.log.Warn().Str("client_ip", key).Msg("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "msg": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// RequestLogger writes one log line per request.
func (m *Middleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := m.log.Info()
		if status >= http.StatusInternalServerError {
			evt = m.log.Error()
		} else if status >= http.StatusBadRequest {
			evt = m.log.Warn()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// SecurityHeaders adds security headers to every response
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "no-referrer")
		c.Writer.Header().Set("Content-Security-Policy", "default-src 'none'")

		c.Next()
	}
}

// RequestSizeLimiter limits request body size
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"logitrack/internal/config"
	"logitrack/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket refills ratePerSec tokens up to burst.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64
	burst      float64
}

func newBucket(rpm, burst int, now time.Time) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: now,
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// limiter 一组按客户端 key 区分的令牌桶
type limiter struct {
	scope   string
	rpm     int
	burst   int
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.rpm, l.burst, now)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.allow(now)
}

// RateLimit limits requests per client. The first matching path prefix wins, otherwise the
// global quota applies. Rejections are counted on m (which may be nil).
func RateLimit(rl config.RateLimitConfig, m *metrics.AutomationMetrics) gin.HandlerFunc {
	return rateLimit(rl, m, time.Now)
}

func rateLimit(rl config.RateLimitConfig, m *metrics.AutomationMetrics, now func() time.Time) gin.HandlerFunc {
	if !rl.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	var paths []*limiter
	for _, p := range rl.Paths {
		if p.Prefix == "" || p.RequestsPerMinute <= 0 {
			continue
		}
		paths = append(paths, &limiter{scope: p.Prefix, rpm: p.RequestsPerMinute, burst: p.Burst, buckets: map[string]*tokenBucket{}})
	}
	var global *limiter
	if rl.RequestsPerMinute > 0 {
		global = &limiter{scope: "global", rpm: rl.RequestsPerMinute, burst: rl.Burst, buckets: map[string]*tokenBucket{}}
	}

	whitelisted := make(map[string]bool, len(rl.WhitelistIPs))
	for _, ip := range rl.WhitelistIPs {
		whitelisted[ip] = true
	}

	return func(c *gin.Context) {
		if whitelisted[c.ClientIP()] {
			c.Next()
			return
		}
		key := clientKey(c, rl.KeyHeader)

		l := global
		path := c.Request.URL.Path
		for _, pl := range paths {
			if strings.HasPrefix(path, pl.scope) {
				l = pl
				break
			}
		}
		if l != nil && !l.allow(key, now()) {
			m.IncRateLimitDrop(l.scope)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context, header string) string {
	if header != "" {
		if v := c.GetHeader(header); v != "" {
			// X-Forwarded-For 取第一个地址
			if strings.EqualFold(header, "X-Forwarded-For") {
				v = strings.TrimSpace(strings.Split(v, ",")[0])
			}
			return v
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

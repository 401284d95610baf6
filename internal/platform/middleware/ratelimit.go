package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig bounds how fast one caller may hit the console API.
// WhatsApp delivery retries and console reconnect storms both arrive in
// bursts, so the burst size is deliberately generous relative to the
// sustained rate.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// bucket is a token bucket refilled lazily on each take.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// limiter keys buckets by clinic and caller IP so one clinic's burst
// cannot starve another clinic sharing an egress address.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     RateLimitConfig

	lastSweep time.Time
}

// Buckets idle longer than this are forgotten on the next sweep.
const bucketIdleTTL = 10 * time.Minute

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		buckets:   make(map[string]*bucket),
		cfg:       cfg,
		lastSweep: time.Now(),
	}
}

// take consumes one token for key. When the bucket is empty it returns
// the whole seconds a caller should wait before retrying.
func (l *limiter) take(key string) (ok bool, retryAfter int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: float64(l.cfg.BurstSize), lastSeen: now}
		l.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * l.cfg.RequestsPerSecond
		if max := float64(l.cfg.BurstSize); b.tokens > max {
			b.tokens = max
		}
		b.lastSeen = now
	}

	if now.Sub(l.lastSweep) > bucketIdleTTL {
		l.sweep(now)
	}

	if b.tokens < 1 {
		wait := 1
		if l.cfg.RequestsPerSecond > 0 {
			wait = int((1-b.tokens)/l.cfg.RequestsPerSecond) + 1
		}
		return false, wait
	}
	b.tokens--
	return true, 0
}

// sweep requires l.mu held.
func (l *limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func rateLimitKey(c echo.Context) string {
	key := c.RealIP()
	if clinicID, ok := c.Get("jwt_clinic_id").(string); ok && clinicID != "" {
		key = clinicID + ":" + key
	}
	return key
}

// RateLimit rejects callers that exhaust their token bucket with a 429
// and a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retryAfter := l.take(rateLimitKey(c))

			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

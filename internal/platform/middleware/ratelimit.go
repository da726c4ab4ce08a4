package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops a client's bucket after this long without requests.
	// Zero means one minute.
	IdleTTL time.Duration
	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(c echo.Context) string
}

// DefaultRateLimitConfig matches the RATE_LIMIT_RPS and RATE_LIMIT_BURST
// defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
	}
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// limiter keeps one token bucket per key.
type limiter struct {
	rate    float64
	burst   float64
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   float64(burst),
		idleTTL: ttl,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// take spends one token for key. It returns whether the request may pass,
// the whole tokens left, and how long until the next token when refused.
func (l *limiter) take(key string) (ok bool, remaining int, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if l.rate <= 0 {
		return false, 0, time.Second
	}
	return false, 0, time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
}

// sweep drops idle buckets at most once per idleTTL. Caller holds mu.
func (l *limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit limits each client to cfg.RequestsPerSecond with bursts of
// cfg.BurstSize. Refused requests get a 429 with Retry-After in whole
// seconds.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, newLimiter(cfg))
}

func rateLimit(cfg RateLimitConfig, l *limiter) echo.MiddlewareFunc {
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = func(c echo.Context) string { return c.RealIP() }
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, remaining, wait := l.take(keyOf(c))

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

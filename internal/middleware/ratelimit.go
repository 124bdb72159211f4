package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// IPRateLimiter holds one token-bucket limiter per client IP; the cheap
// first line of defense ahead of the per-action Redis-counter limits
// below, since it needs no round trip.
type IPRateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func NewIPRateLimiter(limit rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{ips: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.ips[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.ips[ip] = lim
	}
	return lim
}

// GlobalRateLimit applies a flat per-IP token bucket to every request;
// disabled entirely when enabled is false.
func GlobalRateLimit(enabled bool, limit float64, burst int) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewIPRateLimiter(rate.Limit(limit), burst)
	return func(c *gin.Context) {
		if !limiter.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// ActionLimit names one of the rate-limit table's per-action budgets:
// a fixed request count per fixed window (the counter's expiry is set on
// its first request), tracked per authenticated
// user (or per IP, for routes reached before authentication).
type ActionLimit struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

var (
	LoginLimit  = ActionLimit{MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "ratelimit:login"}
	APILimit    = ActionLimit{MaxRequests: 100, Window: time.Minute, KeyPrefix: "ratelimit:api"}
	UploadLimit = ActionLimit{MaxRequests: 10, Window: time.Minute, KeyPrefix: "ratelimit:upload"}
	SearchLimit = ActionLimit{MaxRequests: 30, Window: time.Minute, KeyPrefix: "ratelimit:search"}
)

// ActionRateLimit enforces limit using a Redis counter keyed by the
// authenticated user (falling back to client IP when no user context is
// set yet, e.g. ahead of RequireAuth on a login-style route).
func ActionRateLimit(rdb *redis.Client, limit ActionLimit) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		if userID, ok := currentUserIDForLimit(c); ok {
			subject = userID
		}
		key := fmt.Sprintf("%s:%s", limit.KeyPrefix, subject)
		ctx := c.Request.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: a Redis outage must not take the API down.
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, key, limit.Window)
		}
		remaining := limit.MaxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > limit.MaxRequests {
			ttl, _ := rdb.TTL(ctx, key).Result()
			c.Header("Retry-After", strconv.FormatInt(int64(ttl.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited", "retryAfterSeconds": int64(ttl.Seconds()),
			})
			return
		}
		c.Next()
	}
}

func currentUserIDForLimit(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return "", false
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String(), true
	}
	return "", false
}

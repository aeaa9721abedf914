package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc derives the rate limiting key for a request.
type KeyFunc func(c *gin.Context) string

// ClientIPKey limits per client address.
func ClientIPKey(c *gin.Context) string { return c.ClientIP() }

// ActorOrIPKey limits per actor when one was extracted and falls back to the client address.
func ActorOrIPKey(c *gin.Context) string {
	if actorID, err := ActorIDFromGinContext(c); err == nil {
		return "actor:" + actorID
	}
	return "ip:" + c.ClientIP()
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages one token bucket per key and forgets keys that
// have been idle longer than the configured TTL.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	r        rate.Limit
	b        int
	idleTTL  time.Duration
	now      func() time.Time
}

// NewKeyedRateLimiter creates a limiter. r is the refill rate in events per
// second and b the burst size.
func NewKeyedRateLimiter(r rate.Limit, b int, idleTTL time.Duration) *KeyedRateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedRateLimiter{
		visitors: make(map[string]*visitor),
		r:        r,
		b:        b,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Allow reports whether one more event for key fits the bucket.
func (l *KeyedRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.r, l.b)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Cleanup drops keys idle for longer than the TTL and returns how many were removed.
func (l *KeyedRateLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *KeyedRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimit returns a Gin middleware backed by limiter.
func RateLimit(limiter *KeyedRateLimiter, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware creates a per client IP rate limiter middleware.
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	return RateLimit(NewKeyedRateLimiter(limit, burst, 0), ClientIPKey)
}

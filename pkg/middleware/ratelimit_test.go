package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Effectively no refill during the test run.
	r.Use(RateLimitMiddleware(rate.Every(time.Hour), 1))
	r.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
}

func TestRateLimitPerActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewKeyedRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	r := gin.New()
	r.Use(ActorExtractor(ActorConfig{}))
	r.Use(RateLimit(limiter, ActorOrIPKey))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(actor string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DefaultActorHeader, actor)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("alice"); code != http.StatusOK {
		t.Fatalf("alice first request: %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Fatalf("bob should have an independent bucket: %d", code)
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice second request: %d", code)
	}
}

func TestKeyedRateLimiterCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewKeyedRateLimiter(rate.Limit(1), 1, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(30 * time.Second)
	limiter.Allow("b")
	now = now.Add(45 * time.Second)

	if removed := limiter.Cleanup(); removed != 1 {
		t.Fatalf("expected one idle key removed, got %d", removed)
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected one key left, got %d", limiter.Len())
	}
}

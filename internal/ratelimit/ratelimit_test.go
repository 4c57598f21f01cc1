package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newRouter(l *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(l.Middleware(ByActor))
	r.POST("/tickets/:id/transition", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func post(r *gin.Engine, actor string) int {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tickets/1/transition", nil)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	r.ServeHTTP(rr, req)
	return rr.Code
}

func TestMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	l := New(rdb, 2, time.Minute, "transition", WithClock(func() time.Time { return now }))
	r := newRouter(l)

	for i := 0; i < 2; i++ {
		if code := post(r, "agent-1"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := post(r, "agent-1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	// other actors have their own bucket
	if code := post(r, "agent-2"); code != http.StatusOK {
		t.Fatalf("expected 200 for second actor, got %d", code)
	}
	// one token refills every window/limit
	now = now.Add(30 * time.Second)
	if code := post(r, "agent-1"); code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", code)
	}
	if !mr.Exists("rl:transition:actor:agent-1") {
		t.Fatalf("expected bucket key, have %v", mr.Keys())
	}
}

func TestNilClientAllows(t *testing.T) {
	r := newRouter(New(nil, 1, time.Minute, ""))
	for i := 0; i < 3; i++ {
		if code := post(r, ""); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	}
}

func TestRedisFailureRejects(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	r := newRouter(New(rdb, 5, time.Minute, "x"))
	mr.Close()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tickets/1/transition", nil))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d %v", rr.Code, rr.Header())
	}
}

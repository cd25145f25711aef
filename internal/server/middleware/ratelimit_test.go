package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

type fakeLimiter struct {
	result   domain.RateLimitResult
	err      error
	endpoint string
	identity string
}

func (f *fakeLimiter) Allow(_ context.Context, endpoint, identity string, _ int, _ time.Duration) (domain.RateLimitResult, error) {
	f.endpoint = endpoint
	f.identity = identity
	return f.result, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitAllows(t *testing.T) {
	limiter := &fakeLimiter{result: domain.RateLimitResult{Allowed: true, Remaining: 4}}
	h := RateLimit(limiter, "payments", 5, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/payments", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if limiter.endpoint != "payments" || limiter.identity != "203.0.113.9" {
		t.Errorf("limiter key = (%q, %q)", limiter.endpoint, limiter.identity)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
}

func TestRateLimitBlocksWithRetryAfter(t *testing.T) {
	limiter := &fakeLimiter{result: domain.RateLimitResult{
		Allowed: false,
		ResetAt: time.Now().Add(30 * time.Second),
	}}
	h := RateLimit(limiter, "payments", 5, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/payments", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	h := RateLimit(limiter, "payments", 5, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/payments", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 on limiter failure", rec.Code)
	}
}

func TestExtractClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if ip := extractClientIP(req); ip != "198.51.100.7" {
		t.Errorf("ip = %q, want first forwarded address", ip)
	}
}

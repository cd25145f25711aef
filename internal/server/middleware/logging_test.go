package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type captureTracker struct {
	endpoints []string
	statuses  []int
}

func (c *captureTracker) Track(_ context.Context, endpoint string, status int, _ time.Duration) {
	c.endpoints = append(c.endpoints, endpoint)
	c.statuses = append(c.statuses, status)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoggingTracksRoutePattern(t *testing.T) {
	tracker := &captureTracker{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Logging(discardLogger(), tracker)(mux)

	// Different position ids must collapse onto one metrics key, otherwise
	// the sink grows one key per id.
	for _, path := range []string{"/api/positions/pos_1", "/api/positions/pos_2"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d", path, rec.Code)
		}
	}

	if len(tracker.endpoints) != 2 {
		t.Fatalf("tracked %d requests, want 2", len(tracker.endpoints))
	}
	for _, got := range tracker.endpoints {
		if got != "GET /api/positions/{id}" {
			t.Errorf("tracked endpoint = %q, want the route pattern", got)
		}
	}
}

func TestLoggingTracksPathWhenUnmatched(t *testing.T) {
	tracker := &captureTracker{}
	h := Logging(discardLogger(), tracker)(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if len(tracker.endpoints) != 1 || tracker.endpoints[0] != "/nope" {
		t.Errorf("tracked endpoints = %v, want [/nope]", tracker.endpoints)
	}
	if tracker.statuses[0] != http.StatusNotFound {
		t.Errorf("status = %d, want 404", tracker.statuses[0])
	}
}

func TestLoggingNilTracker(t *testing.T) {
	h := Logging(discardLogger(), nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

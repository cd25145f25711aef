package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

type recordingSink struct {
	mu       sync.Mutex
	requests int
	reports  []domain.ErrorReport
	fail     bool
}

func (s *recordingSink) RecordRequest(context.Context, string, int, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.requests++
	return nil
}

func (s *recordingSink) RecordError(_ context.Context, report domain.ErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.reports = append(s.reports, report)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrackRecords(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, 1, testLogger())

	tr.Track(context.Background(), "payments", 200, 50*time.Millisecond)
	if sink.requests != 1 {
		t.Errorf("requests = %d, want 1", sink.requests)
	}
}

func TestTrackSurvivesSinkFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	tr := NewTracker(sink, 1, testLogger())

	// Must not panic or propagate.
	tr.Track(context.Background(), "payments", 500, time.Millisecond)
	tr.ReportError(context.Background(), domain.ErrorReport{Endpoint: "payments"})
}

func TestReportErrorRedacts(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, 1, testLogger())

	tr.ReportError(context.Background(), domain.ErrorReport{
		Endpoint: "payments",
		Kind:     "gateway_declined",
		Context: map[string]any{
			"source_token": "cnon:secret",
			"email":        "user@example.com",
			"amount":       100.0,
		},
	})

	if len(sink.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(sink.reports))
	}
	got := sink.reports[0].Context
	if got["source_token"] != "[redacted]" {
		t.Errorf("source_token = %v, want redacted", got["source_token"])
	}
	if got["email"] != "[redacted]" {
		t.Errorf("email = %v, want redacted", got["email"])
	}
	if got["amount"] != 100.0 {
		t.Errorf("amount = %v, want passthrough", got["amount"])
	}
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"email": "user@example.com"}
	Redact(in)
	if in["email"] != "user@example.com" {
		t.Error("input map mutated")
	}
}

func TestReportErrorSampling(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, 0.5, testLogger())

	for i := 0; i < 1000; i++ {
		tr.ReportError(context.Background(), domain.ErrorReport{Endpoint: "payments"})
	}
	// Loose bounds: a fair coin over 1000 trials stays well inside these.
	if n := len(sink.reports); n < 350 || n > 650 {
		t.Errorf("sampled reports = %d, want roughly half of 1000", n)
	}
}

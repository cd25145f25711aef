// Package monitor wraps externally reachable operations with duration and
// error recording. A broken sink must never break the operation it observes,
// so every write here is fire-and-forget.
package monitor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

// Sensitive context keys are replaced before a report leaves the process.
var redactedKeys = map[string]bool{
	"source_token": true,
	"card_number":  true,
	"cvv":          true,
	"email":        true,
	"api_key":      true,
	"secret":       true,
}

// Tracker records request metrics and error reports with sampling.
type Tracker struct {
	sink domain.MetricsSink
	// sampleRate in [0,1]: fraction of error reports that reach the sink.
	// Request counters are never sampled; they are cheap increments.
	sampleRate float64
	log        *slog.Logger
}

// NewTracker creates a Tracker. A nil sink disables recording entirely.
func NewTracker(sink domain.MetricsSink, sampleRate float64, log *slog.Logger) *Tracker {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	return &Tracker{
		sink:       sink,
		sampleRate: sampleRate,
		log:        log.With("component", "monitor"),
	}
}

// Track records one request observation.
func (t *Tracker) Track(ctx context.Context, endpoint string, status int, dur time.Duration) {
	if t.sink == nil {
		return
	}
	if err := t.sink.RecordRequest(ctx, endpoint, status, dur); err != nil {
		t.log.Warn("request record failed", "endpoint", endpoint, "error", err)
	}
}

// ReportError records a structured error report, subject to sampling and
// redaction.
func (t *Tracker) ReportError(ctx context.Context, report domain.ErrorReport) {
	if t.sink == nil {
		return
	}
	if t.sampleRate < 1 && rand.Float64() >= t.sampleRate {
		return
	}

	report.Context = Redact(report.Context)
	if report.At.IsZero() {
		report.At = time.Now().UTC()
	}
	if err := t.sink.RecordError(ctx, report); err != nil {
		t.log.Warn("error record failed", "endpoint", report.Endpoint, "error", err)
	}
}

// Redact returns a copy of ctx with sensitive values replaced. The input map
// is never mutated; reports share context maps with live request handling.
func Redact(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return ctx
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if redactedKeys[k] {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

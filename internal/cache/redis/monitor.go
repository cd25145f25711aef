package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiltvault/vaultd/internal/domain"
)

const (
	metricsTTL   = 7 * 24 * time.Hour
	errorListMax = 1000
	errorListTTL = 7 * 24 * time.Hour
)

// MetricsSink records per-endpoint request counters, latency sums, and error
// reports in Redis hashes and lists. Writes are best effort: a failed write is
// logged and swallowed so the observed operation never pays for it.
type MetricsSink struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewMetricsSink creates a MetricsSink backed by the given Client.
func NewMetricsSink(c *Client, log *slog.Logger) *MetricsSink {
	return &MetricsSink{
		rdb: c.Underlying(),
		log: log.With("component", "metrics_sink"),
	}
}

// RecordRequest increments the per-endpoint counters for the current day.
func (m *MetricsSink) RecordRequest(ctx context.Context, endpoint string, status int, dur time.Duration) error {
	day := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("metrics:%s:%s", endpoint, day)

	pipe := m.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HIncrBy(ctx, key, fmt.Sprintf("status:%d", status), 1)
	pipe.HIncrBy(ctx, key, "duration_ms", dur.Milliseconds())
	pipe.Expire(ctx, key, metricsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("metrics write failed", "endpoint", endpoint, "error", err)
	}
	return nil
}

// RecordError appends a structured error report to the bounded error list.
func (m *MetricsSink) RecordError(ctx context.Context, report domain.ErrorReport) error {
	if report.At.IsZero() {
		report.At = time.Now().UTC()
	}
	data, err := json.Marshal(report)
	if err != nil {
		m.log.Warn("error report marshal failed", "endpoint", report.Endpoint, "error", err)
		return nil
	}

	key := "errors:" + report.Endpoint
	pipe := m.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, errorListMax-1)
	pipe.Expire(ctx, key, errorListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("error report write failed", "endpoint", report.Endpoint, "error", err)
	}
	return nil
}

var _ domain.MetricsSink = (*MetricsSink)(nil)

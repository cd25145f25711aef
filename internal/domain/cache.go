package domain

import (
	"context"
	"time"
)

// RateLimitResult is the outcome of a rate-limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter provides distributed fixed-window rate limiting keyed by
// (endpoint, identity). The window resets implicitly via TTL expiry; a burst
// straddling a window boundary may be marginally miscounted, which is
// acceptable for abuse prevention.
type RateLimiter interface {
	Allow(ctx context.Context, endpoint, identity string, limit int, window time.Duration) (RateLimitResult, error)
}

// SpendTracker enforces per-identity hourly and daily USD velocity caps.
type SpendTracker interface {
	// AddSpend returns false if adding amountUSD would exceed either cap. On
	// success the running totals are updated.
	AddSpend(ctx context.Context, identity string, amountUSD float64) (bool, error)
}

// ErrorReport is a structured error record for the monitoring sink. Context
// values are redacted before they reach the store.
type ErrorReport struct {
	Endpoint  string         `json:"endpoint"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	PaymentID string         `json:"payment_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	At        time.Time      `json:"at"`
}

// MetricsSink records per-endpoint latency/status counters and error reports.
// Implementations must never let a sink failure propagate to the operation
// being observed.
type MetricsSink interface {
	RecordRequest(ctx context.Context, endpoint string, status int, dur time.Duration) error
	RecordError(ctx context.Context, report ErrorReport) error
}

// SignalBus publishes position lifecycle events for the websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// WalletDirectory maps user wallet addresses to custody-service wallet ids.
// Entries are written by the authentication flow; a missing entry is fatal
// for the current payment.
type WalletDirectory interface {
	CustodyID(ctx context.Context, walletAddress string) (string, error)
	Register(ctx context.Context, walletAddress, custodyID string) error
}

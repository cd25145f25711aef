package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore is the durable position ledger.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetByPaymentID(ctx context.Context, paymentID string) (Position, error)
	// RecordGatewayID stores the gateway-assigned payment id once known. It is
	// safe to call from both triggers; the first write wins and later writes
	// with the same value are no-ops.
	RecordGatewayID(ctx context.Context, paymentID, gatewayID string) error
	UpdateStatus(ctx context.Context, paymentID string, status PositionStatus, errMsg string) error
	RecordFunding(ctx context.Context, paymentID, txHash string) error
	RecordSupply(ctx context.Context, paymentID, txHash string, amount float64) error
	RecordOrder(ctx context.Context, paymentID, txHash, orderKey string, size, entryPrice float64) error
	// MarkActive transitions to active and stamps executed_at.
	MarkActive(ctx context.Context, paymentID string) error
	ListByStatus(ctx context.Context, status PositionStatus, opts ListOpts) ([]Position, error)
}

// ClaimLedger is the idempotency and mapping layer in the shared key-value
// store. ClaimExecution is the single cross-process synchronization primitive
// of the whole system: it must be an atomic set-if-absent, never read-then-
// write.
type ClaimLedger interface {
	// ClaimExecution returns true if the caller now owns execution for the
	// payment, false if another claimant beat it to the store.
	ClaimExecution(ctx context.Context, paymentID string, claimant Claimant) (bool, error)
	GetClaim(ctx context.Context, paymentID string) (ExecutionClaim, error)
	// RecordOutcome annotates an existing claim with the execution result.
	RecordOutcome(ctx context.Context, paymentID, outcome string) error

	// MapGatewayID writes gatewayID -> paymentID so the webhook can resolve
	// the internal position.
	MapGatewayID(ctx context.Context, gatewayID, paymentID string) error
	ResolveGatewayID(ctx context.Context, gatewayID string) (string, error)

	PutPaymentInfo(ctx context.Context, info PaymentInfo) error
	GetPaymentInfo(ctx context.Context, paymentID string) (PaymentInfo, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

package domain

import "time"

// Claimant identifies which of the two racing triggers acquired execution.
type Claimant string

const (
	ClaimantIntake  Claimant = "intake"
	ClaimantWebhook Claimant = "webhook"
)

// ExecutionClaim marks that exactly one orchestration attempt has been
// authorized for a payment. It is written with a set-if-absent operation and
// never released: ownership is permanent, so a crash mid-execution leaves the
// payment in "executing" for operator-driven recovery.
type ExecutionClaim struct {
	PaymentID string    `json:"payment_id"`
	ClaimedBy Claimant  `json:"claimed_by"`
	ClaimedAt time.Time `json:"claimed_at"`
	Outcome   string    `json:"outcome,omitempty"`
}

package domain

import "time"

// StrategyType selects how a deposited payment is put to work on-chain.
type StrategyType string

const (
	// StrategyConservative supplies the full amount to the Aave v3 pool.
	StrategyConservative StrategyType = "conservative"
	// StrategyLeveraged opens a leveraged long via the perp position router.
	StrategyLeveraged StrategyType = "leveraged"
)

// Valid reports whether s is a known strategy.
func (s StrategyType) Valid() bool {
	return s == StrategyConservative || s == StrategyLeveraged
}

// PositionStatus tracks the lifecycle of a funded position.
type PositionStatus string

const (
	// PositionPending: the row exists but execution has not been claimed yet.
	PositionPending PositionStatus = "pending"
	// PositionExecuting: an execution claim is held and on-chain steps are in
	// flight. A crash here requires an operator re-claim, never an automatic
	// failover.
	PositionExecuting PositionStatus = "executing"
	// PositionActive: all on-chain steps completed.
	PositionActive PositionStatus = "active"
	// PositionFailed: execution exhausted retries or hit a fatal error. The
	// charge stands; recovery is operator-driven.
	PositionFailed PositionStatus = "failed"
	// PositionClosed: unwound by the separate withdrawal flow.
	PositionClosed PositionStatus = "closed"
)

// Position is the durable record of a user's intent and the on-chain outcome
// of a single card payment. Exactly one Position exists per PaymentID.
type Position struct {
	ID        string
	PaymentID string // internal id, generated before any external call
	// GatewayPaymentID is assigned by the payment gateway. It may arrive only
	// with the webhook, or never (gateway failure before a charge id exists).
	GatewayPaymentID string

	WalletAddress string
	UserEmail     string
	Strategy      StrategyType

	// DepositAmount is the exact user-intended USD amount. It is the only
	// amount the orchestrator may ever see; the gateway-charged total includes
	// processing fees and must not leak into execution.
	DepositAmount float64

	// Per-step outputs. A recorded hash means the step's transaction was
	// broadcast and must not be broadcast again.
	FundingTxHash string
	SupplyTxHash  string
	SupplyAmount  float64
	OrderTxHash   string
	OrderKey      string
	OrderSize     float64
	EntryPrice    float64

	Status PositionStatus
	Error  string

	CreatedAt  time.Time
	ExecutedAt *time.Time
	ClosedAt   *time.Time
}

// PaymentInfo is the ledger snapshot written before the gateway is called.
// Both execution triggers (intake and webhook) read the deposit amount from
// here so a fee-inclusive gateway total can never reach the orchestrator.
type PaymentInfo struct {
	PaymentID     string       `json:"payment_id"`
	WalletAddress string       `json:"wallet_address"`
	UserEmail     string       `json:"user_email,omitempty"`
	Strategy      StrategyType `json:"strategy"`
	AmountUSD     float64      `json:"amount_usd"`
	CreatedAt     time.Time    `json:"created_at"`
}

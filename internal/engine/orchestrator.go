// Package engine executes the on-chain side of a paid deposit: fund the
// user's custodial wallet from the hub, then run the chosen strategy. Every
// broadcast is irreversible, so each step checks the ledger for an already
// recorded transaction hash before acting.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

// positionEventChannel is the bus channel position lifecycle events go out on.
const positionEventChannel = "position_events"

// Config holds chain addresses and execution parameters.
type Config struct {
	// HubAddress is the treasury wallet payments are funded from.
	HubAddress string
	// StablecoinAddress is the deposit token contract.
	StablecoinAddress string
	// StablecoinDecimals converts USD amounts to token units.
	StablecoinDecimals int
	// GasTopUpWei is the fixed native-token amount sent alongside funding so
	// the wallet can pay for its own approvals.
	GasTopUpWei *big.Int

	// LendingPoolAddress is the yield protocol pool for conservative deposits.
	LendingPoolAddress string

	// PerpRouterAddress is the trading protocol's order router.
	PerpRouterAddress string
	// PerpIndexToken is the asset the leveraged position tracks.
	PerpIndexToken string
	// TargetLeverage multiplies collateral into position size.
	TargetLeverage float64
	// PerpExecutionFeeWei is forwarded as order value per router rules.
	PerpExecutionFeeWei *big.Int
	// PerpAcceptablePriceUSD is the max fill price for long entries. Operator
	// maintained; orders reverting on it are safer than unbounded fills.
	PerpAcceptablePriceUSD float64

	// ConfirmTimeout bounds waiting for each transaction to mine.
	ConfirmTimeout time.Duration

	Retry RetryPolicy
}

// Alerter is the slice of the notifier the engine needs for operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Orchestrator drives a claimed payment from funded wallet to active
// position. It assumes the caller already owns the execution claim; it never
// claims on its own.
type Orchestrator struct {
	cfg     Config
	store   domain.PositionStore
	claims  domain.ClaimLedger
	signer  domain.CustodialSigner
	reader  domain.ChainReader
	perp    perpReader
	bus     domain.SignalBus
	alerter Alerter
	log     *slog.Logger
}

// perpReader reads the router state needed to derive order keys.
type perpReader interface {
	IncreasePositionsIndex(ctx context.Context, router, account string) (*big.Int, error)
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	cfg Config,
	store domain.PositionStore,
	claims domain.ClaimLedger,
	signer domain.CustodialSigner,
	reader domain.ChainReader,
	perp perpReader,
	bus domain.SignalBus,
	alerter Alerter,
	log *slog.Logger,
) *Orchestrator {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = defaultRetryPolicy()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		claims:  claims,
		signer:  signer,
		reader:  reader,
		perp:    perp,
		bus:     bus,
		alerter: alerter,
		log:     log.With("component", "orchestrator"),
	}
}

// Execute runs the full pipeline for a claimed payment. usdAmount must be the
// user's original deposit amount from the ledger, never a gateway-reported
// total, which may include processing fees.
func (o *Orchestrator) Execute(ctx context.Context, walletAddress string, usdAmount float64, paymentID string) error {
	log := o.log.With("payment_id", paymentID, "wallet", walletAddress)

	pos, err := o.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("engine: load position %s: %w", paymentID, err)
	}
	if pos.Status == domain.PositionActive {
		log.Info("position already active, nothing to execute")
		return nil
	}

	if err := o.store.UpdateStatus(ctx, paymentID, domain.PositionExecuting, ""); err != nil {
		return fmt.Errorf("engine: mark executing %s: %w", paymentID, err)
	}
	o.publishEvent(ctx, pos.ID, paymentID, domain.PositionExecuting, "")

	tokenAmount := o.usdToTokenUnits(usdAmount)
	log.Info("execution started", "amount_usd", usdAmount, "strategy", pos.Strategy)

	if err := o.fundWallet(ctx, log, &pos, walletAddress, tokenAmount); err != nil {
		return o.fail(ctx, log, pos, err)
	}

	switch pos.Strategy {
	case domain.StrategyConservative:
		err = o.executeConservative(ctx, log, &pos, walletAddress, tokenAmount)
	case domain.StrategyLeveraged:
		err = o.executeLeveraged(ctx, log, &pos, walletAddress, tokenAmount, usdAmount)
	default:
		err = domain.NewPaymentError(domain.KindInternal,
			fmt.Sprintf("unknown strategy %q", pos.Strategy), "", nil)
	}
	if err != nil {
		return o.fail(ctx, log, pos, err)
	}

	if err := o.store.MarkActive(ctx, paymentID); err != nil {
		return fmt.Errorf("engine: mark active %s: %w", paymentID, err)
	}
	if err := o.claims.RecordOutcome(ctx, paymentID, "succeeded"); err != nil {
		log.Warn("record claim outcome failed", "error", err)
	}
	o.publishEvent(ctx, pos.ID, paymentID, domain.PositionActive, "")
	log.Info("execution complete")
	return nil
}

// fail records the classified failure on the position and the claim, fires
// operator alerts for the kinds that need a human, and returns the error.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, pos domain.Position, execErr error) error {
	kind := domain.ErrorKindOf(execErr)
	log.Error("execution failed", "kind", kind, "error", execErr)

	if err := o.store.UpdateStatus(ctx, pos.PaymentID, domain.PositionFailed, execErr.Error()); err != nil {
		log.Error("record failure status failed", "error", err)
	}
	if err := o.claims.RecordOutcome(ctx, pos.PaymentID, "failed: "+string(kind)); err != nil {
		log.Warn("record claim outcome failed", "error", err)
	}
	o.publishEvent(ctx, pos.ID, pos.PaymentID, domain.PositionFailed, string(kind))

	if kind == domain.KindInsufficientHub && o.alerter != nil {
		_ = o.alerter.Notify(ctx, "hub_balance", "Hub wallet balance insufficient",
			fmt.Sprintf("Payment %s could not be funded. Top up the hub wallet and re-claim the payment.", pos.PaymentID))
	}
	return execErr
}

// sendAndConfirm broadcasts via the signer, immediately hands the hash to
// record so a crash after broadcast never loses it, then waits for mining.
func (o *Orchestrator) sendAndConfirm(ctx context.Context, walletAddress string, call domain.TxCall, record func(txHash string) error) (domain.TxOutcome, error) {
	txHash, err := o.signer.SignAndSend(ctx, walletAddress, call)
	if err != nil {
		return domain.TxOutcome{}, err
	}
	if err := record(txHash); err != nil {
		return domain.TxOutcome{}, fmt.Errorf("engine: record tx %s: %w", txHash, err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()
	return o.reader.WaitMined(confirmCtx, txHash)
}

func (o *Orchestrator) usdToTokenUnits(usd float64) *big.Int {
	scaled := usd * math.Pow10(o.cfg.StablecoinDecimals)
	units, _ := new(big.Float).SetFloat64(math.Round(scaled)).Int(nil)
	return units
}

type positionEvent struct {
	PositionID string    `json:"position_id"`
	PaymentID  string    `json:"payment_id"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	At         time.Time `json:"at"`
}

func (o *Orchestrator) publishEvent(ctx context.Context, positionID, paymentID string, status domain.PositionStatus, errKind string) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(positionEvent{
		PositionID: positionID,
		PaymentID:  paymentID,
		Status:     string(status),
		ErrorKind:  errKind,
		At:         time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, positionEventChannel, payload); err != nil {
		o.log.Warn("publish position event failed", "payment_id", paymentID, "error", err)
	}
}

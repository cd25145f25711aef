// Package intake is the synchronous payment path: validate the request,
// charge the card, record the position, and, when the charge lands with a
// terminal success status, race the webhook for the execution claim.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/tiltvault/vaultd/internal/domain"
	"github.com/tiltvault/vaultd/internal/gateway/square"
)

var walletAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Limits are the validation boundaries for a deposit request.
type Limits struct {
	MinAmountUSD float64
	MaxAmountUSD float64
	Currency     string
}

// DefaultLimits returns the production deposit boundaries.
func DefaultLimits() Limits {
	return Limits{MinAmountUSD: 1, MaxAmountUSD: 1_000_000, Currency: "USD"}
}

// PaymentRequest is a deposit submission from the browser.
type PaymentRequest struct {
	AmountUSD     float64 `json:"amount"`
	Currency      string  `json:"currency"`
	WalletAddress string  `json:"wallet_address"`
	Email         string  `json:"email,omitempty"`
	Strategy      string  `json:"strategy"`
	SourceToken   string  `json:"source_token"`
}

// PaymentResult is returned to the browser after the charge. Execution may
// still be in flight; the position id lets the client poll or subscribe.
type PaymentResult struct {
	PaymentID  string `json:"payment_id"`
	PositionID string `json:"position_id"`
	GatewayID  string `json:"gateway_payment_id"`
	Status     string `json:"status"`
	ReceiptURL string `json:"receipt_url,omitempty"`
}

// executor is the slice of the engine the intake path invokes after winning
// the claim.
type executor interface {
	Execute(ctx context.Context, walletAddress string, usdAmount float64, paymentID string) error
}

// Service processes deposit submissions.
type Service struct {
	limits  Limits
	store   domain.PositionStore
	claims  domain.ClaimLedger
	gateway domain.PaymentGateway
	spend   domain.SpendTracker
	audit   domain.AuditStore
	exec    executor
	log     *slog.Logger
}

// NewService creates an intake Service. spend and audit may be nil in tests.
func NewService(
	limits Limits,
	store domain.PositionStore,
	claims domain.ClaimLedger,
	gateway domain.PaymentGateway,
	spend domain.SpendTracker,
	audit domain.AuditStore,
	exec executor,
	log *slog.Logger,
) *Service {
	return &Service{
		limits:  limits,
		store:   store,
		claims:  claims,
		gateway: gateway,
		spend:   spend,
		audit:   audit,
		exec:    exec,
		log:     log.With("component", "intake"),
	}
}

// ProcessPayment runs the full synchronous path. The returned error, when
// non-nil, is a classified PaymentError the handler maps to a status code.
// A successful charge whose execution fails still returns success: the
// webhook path and the operator runbook are the safety nets, and the card
// holder has already been charged.
func (s *Service) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := s.validate(req); err != nil {
		return PaymentResult{}, err
	}

	if s.spend != nil {
		ok, err := s.spend.AddSpend(ctx, req.WalletAddress, req.AmountUSD)
		if err != nil {
			s.log.Warn("velocity check failed open", "wallet", req.WalletAddress, "error", err)
		} else if !ok {
			return PaymentResult{}, domain.NewPaymentError(domain.KindRateLimited,
				"velocity cap exceeded", "Deposit limit reached, try again later", domain.ErrRateLimited)
		}
	}

	// The internal id exists before the gateway call so the gateway-id
	// mapping can be written the moment the charge responds.
	paymentID := uuid.NewString()
	positionID := uuid.NewString()
	log := s.log.With("payment_id", paymentID, "wallet", req.WalletAddress)

	pos := domain.Position{
		ID:            positionID,
		PaymentID:     paymentID,
		WalletAddress: req.WalletAddress,
		UserEmail:     req.Email,
		Strategy:      domain.StrategyType(req.Strategy),
		DepositAmount: req.AmountUSD,
		Status:        domain.PositionPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Create(ctx, pos); err != nil {
		return PaymentResult{}, fmt.Errorf("intake: create position: %w", err)
	}

	info := domain.PaymentInfo{
		PaymentID:     paymentID,
		WalletAddress: req.WalletAddress,
		UserEmail:     req.Email,
		Strategy:      domain.StrategyType(req.Strategy),
		AmountUSD:     req.AmountUSD,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.claims.PutPaymentInfo(ctx, info); err != nil {
		// The note field still carries everything the webhook needs.
		log.Warn("payment info write failed", "error", err)
	}

	note := square.BuildNote(square.NoteFields{
		PaymentID:     paymentID,
		WalletAddress: req.WalletAddress,
		Strategy:      req.Strategy,
		AmountUSD:     req.AmountUSD,
	})

	charge, err := s.gateway.Charge(ctx, domain.ChargeRequest{
		SourceToken:    req.SourceToken,
		AmountUSD:      req.AmountUSD,
		Currency:       s.limits.Currency,
		IdempotencyKey: uuid.NewString(),
		Note:           note,
	})
	if err != nil {
		if updateErr := s.store.UpdateStatus(ctx, paymentID, domain.PositionFailed, err.Error()); updateErr != nil {
			log.Error("record charge failure failed", "error", updateErr)
		}
		s.auditLog(ctx, "charge_failed", map[string]any{
			"payment_id": paymentID,
			"kind":       string(domain.ErrorKindOf(err)),
		})
		return PaymentResult{}, err
	}

	log = log.With("gateway_payment_id", charge.GatewayID)
	log.Info("charge accepted", "status", charge.Status, "amount_cents", charge.AmountCents)

	if err := s.store.RecordGatewayID(ctx, paymentID, charge.GatewayID); err != nil {
		log.Warn("record gateway id failed", "error", err)
	}
	if err := s.claims.MapGatewayID(ctx, charge.GatewayID, paymentID); err != nil {
		// Note fallback covers the webhook path; keep going.
		log.Warn("gateway id mapping write failed", "error", err)
	}

	s.auditLog(ctx, "charge_accepted", map[string]any{
		"payment_id":         paymentID,
		"gateway_payment_id": charge.GatewayID,
		"amount_usd":         req.AmountUSD,
		"strategy":           req.Strategy,
	})

	result := PaymentResult{
		PaymentID:  paymentID,
		PositionID: positionID,
		GatewayID:  charge.GatewayID,
		Status:     string(charge.Status),
		ReceiptURL: charge.ReceiptURL,
	}

	if !charge.Status.TerminalSuccess() {
		// PENDING charges resolve via webhook; nothing to execute yet.
		return result, nil
	}

	won, err := s.claims.ClaimExecution(ctx, paymentID, domain.ClaimantIntake)
	if err != nil {
		log.Error("claim attempt failed, leaving execution to webhook", "error", err)
		return result, nil
	}
	if !won {
		log.Info("webhook already owns execution")
		return result, nil
	}

	// Execution failure must not fail the payment response: the card has
	// been charged and the position record carries the failure for the
	// operator runbook.
	if err := s.exec.Execute(ctx, req.WalletAddress, req.AmountUSD, paymentID); err != nil {
		log.Error("synchronous execution failed", "error", err)
	}
	return result, nil
}

func (s *Service) validate(req PaymentRequest) error {
	if req.AmountUSD < s.limits.MinAmountUSD || req.AmountUSD > s.limits.MaxAmountUSD {
		return domain.NewPaymentError(domain.KindValidation,
			fmt.Sprintf("amount %.2f outside [%.0f, %.0f]", req.AmountUSD, s.limits.MinAmountUSD, s.limits.MaxAmountUSD),
			fmt.Sprintf("Amount must be between %.0f and %.0f %s", s.limits.MinAmountUSD, s.limits.MaxAmountUSD, s.limits.Currency),
			nil)
	}
	if req.Currency != s.limits.Currency {
		return domain.NewPaymentError(domain.KindValidation,
			fmt.Sprintf("unsupported currency %q", req.Currency),
			fmt.Sprintf("Only %s is supported", s.limits.Currency), nil)
	}
	if !walletAddressRe.MatchString(req.WalletAddress) {
		return domain.NewPaymentError(domain.KindValidation,
			"malformed wallet address", "Wallet address is not a valid chain address", nil)
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return domain.NewPaymentError(domain.KindValidation,
				"malformed email", "Email address is not valid", nil)
		}
	}
	if !domain.StrategyType(req.Strategy).Valid() {
		return domain.NewPaymentError(domain.KindValidation,
			fmt.Sprintf("unknown strategy %q", req.Strategy),
			"Strategy must be conservative or leveraged", nil)
	}
	if req.SourceToken == "" {
		return domain.NewPaymentError(domain.KindValidation,
			"missing card token", "Card details are missing", nil)
	}
	return nil
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.log.Warn("audit write failed", "event", event, "error", err)
	}
}

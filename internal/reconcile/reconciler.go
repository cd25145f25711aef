// Package reconcile is the asynchronous payment path: verify a gateway
// webhook delivery, resolve the internal position, and race the synchronous
// intake path for the execution claim. Delivery is at-least-once, so every
// step here must be safely repeatable.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tiltvault/vaultd/internal/domain"
	"github.com/tiltvault/vaultd/internal/gateway/square"
)

// executor is the slice of the engine the webhook path invokes after winning
// the claim.
type executor interface {
	Execute(ctx context.Context, walletAddress string, usdAmount float64, paymentID string) error
}

// Reconciler processes verified webhook events.
type Reconciler struct {
	verifier domain.WebhookVerifier
	store    domain.PositionStore
	claims   domain.ClaimLedger
	audit    domain.AuditStore
	exec     executor
	log      *slog.Logger
}

// NewReconciler creates a Reconciler. audit may be nil in tests.
func NewReconciler(
	verifier domain.WebhookVerifier,
	store domain.PositionStore,
	claims domain.ClaimLedger,
	audit domain.AuditStore,
	exec executor,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		store:    store,
		claims:   claims,
		audit:    audit,
		exec:     exec,
		log:      log.With("component", "reconciler"),
	}
}

// HandleEvent processes one webhook delivery. It returns
// domain.ErrUnauthorized for signature failures (the only non-200 outcome);
// every other path returns nil so the gateway stops redelivering, including
// unresolvable events and failed executions.
func (r *Reconciler) HandleEvent(ctx context.Context, signature string, body []byte) error {
	payment, err := r.verifier.VerifyAndParse(signature, body)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			r.log.Warn("webhook signature rejected")
			return domain.ErrUnauthorized
		}
		if errors.Is(err, domain.ErrNotFound) {
			// Not a payment event; acknowledge and move on.
			return nil
		}
		r.log.Error("webhook parse failed", "error", err)
		return nil
	}

	log := r.log.With("gateway_payment_id", payment.GatewayID, "status", payment.Status)

	if !payment.Status.TerminalSuccess() {
		log.Info("non-success payment event, nothing to do")
		return nil
	}

	paymentID, err := r.resolve(ctx, payment)
	if err != nil {
		// Permanently unresolvable: log loudly for manual reconciliation and
		// acknowledge so the gateway does not redeliver forever.
		log.Error("no position resolvable for webhook event", "error", err)
		r.auditLog(ctx, "webhook_unresolvable", map[string]any{
			"gateway_payment_id": payment.GatewayID,
			"amount_cents":       payment.AmountCents,
		})
		return nil
	}
	log = log.With("payment_id", paymentID)

	// Repair auxiliary records regardless of who owns execution. Both writes
	// are first-write-wins, so repeat deliveries are harmless.
	if err := r.store.RecordGatewayID(ctx, paymentID, payment.GatewayID); err != nil {
		log.Warn("record gateway id failed", "error", err)
	}
	if err := r.claims.MapGatewayID(ctx, payment.GatewayID, paymentID); err != nil {
		log.Warn("mapping repair failed", "error", err)
	}

	won, err := r.claims.ClaimExecution(ctx, paymentID, domain.ClaimantWebhook)
	if err != nil {
		log.Error("claim attempt failed", "error", err)
		return nil
	}
	if !won {
		log.Info("execution already claimed, acknowledging")
		return nil
	}

	wallet, amount, err := r.executionInputs(ctx, paymentID, payment)
	if err != nil {
		log.Error("execution inputs unavailable", "error", err)
		if updateErr := r.store.UpdateStatus(ctx, paymentID, domain.PositionFailed, err.Error()); updateErr != nil {
			log.Error("record failure status failed", "error", updateErr)
		}
		return nil
	}

	r.auditLog(ctx, "webhook_execution_claimed", map[string]any{
		"payment_id":         paymentID,
		"gateway_payment_id": payment.GatewayID,
		"amount_usd":         amount,
	})

	// Execution failure is recorded on the position, not surfaced to the
	// gateway: the event is durably processed either way.
	if err := r.exec.Execute(ctx, wallet, amount, paymentID); err != nil {
		log.Error("webhook-triggered execution failed", "error", err)
	}
	return nil
}

// resolve maps the gateway payment id to the internal payment id, first via
// the direct mapping, then by parsing the note field recorded at charge time.
func (r *Reconciler) resolve(ctx context.Context, payment domain.WebhookPayment) (string, error) {
	paymentID, err := r.claims.ResolveGatewayID(ctx, payment.GatewayID)
	if err == nil {
		return paymentID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if fields, ok := square.ParseNote(payment.Note); ok {
		r.log.Info("resolved position via note fallback",
			"gateway_payment_id", payment.GatewayID,
			"payment_id", fields.PaymentID,
		)
		return fields.PaymentID, nil
	}
	return "", domain.ErrMappingMissing
}

// executionInputs loads the wallet and the user's original deposit amount.
// The amount always comes from the ledger, never from the webhook's
// amount_money, which is the gateway-charged total and may include fees.
func (r *Reconciler) executionInputs(ctx context.Context, paymentID string, payment domain.WebhookPayment) (string, float64, error) {
	info, err := r.claims.GetPaymentInfo(ctx, paymentID)
	if err == nil {
		return info.WalletAddress, info.AmountUSD, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		r.log.Warn("payment info read failed, falling back to position", "error", err)
	}

	pos, err := r.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return "", 0, fmt.Errorf("reconcile: load position %s: %w", paymentID, err)
	}
	return pos.WalletAddress, pos.DepositAmount, nil
}

func (r *Reconciler) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.log.Warn("audit write failed", "event", event, "error", err)
	}
}

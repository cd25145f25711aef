package domain

import "context"

// ChargeRequest is the outbound card charge sent to the payment gateway.
type ChargeRequest struct {
	// SourceToken is the one-time card token produced by the gateway's
	// browser SDK. Never logged.
	SourceToken string
	AmountUSD   float64
	Currency    string
	// IdempotencyKey is server-generated per charge attempt and distinct from
	// the internal payment id.
	IdempotencyKey string
	// Note carries the internal payment id, wallet address, strategy, and the
	// original amount through the gateway. It is the fallback channel the
	// webhook reconciler uses when the direct gateway-id mapping is missing.
	Note string
}

// ChargeStatus is the gateway's payment state as reported on the charge
// response and on webhook events.
type ChargeStatus string

const (
	ChargeCompleted ChargeStatus = "COMPLETED"
	ChargeApproved  ChargeStatus = "APPROVED"
	ChargePending   ChargeStatus = "PENDING"
	ChargeFailed    ChargeStatus = "FAILED"
	ChargeCanceled  ChargeStatus = "CANCELED"
)

// TerminalSuccess reports whether the status means the card was charged and
// execution may proceed.
func (s ChargeStatus) TerminalSuccess() bool {
	return s == ChargeCompleted || s == ChargeApproved
}

// Charge is the gateway's successful response to a ChargeRequest. AmountCents
// is the gateway-charged total in minor units and may include processing fees;
// it exists for reconciliation only and is never an execution input.
type Charge struct {
	GatewayID   string
	Status      ChargeStatus
	AmountCents int64
	Currency    string
	OrderID     string
	ReceiptURL  string
}

// WebhookPayment is the payment object carried by a gateway webhook event.
type WebhookPayment struct {
	GatewayID   string
	Status      ChargeStatus
	AmountCents int64
	Currency    string
	Note        string
}

// PaymentGateway is the outbound charge surface of the card processor.
// Implementations classify failures into PaymentError kinds so callers can
// map them to HTTP statuses without knowing gateway error codes.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
}

// WebhookVerifier authenticates and decodes inbound gateway webhook bodies.
type WebhookVerifier interface {
	// VerifyAndParse checks the event signature and returns the payment object
	// for payment-class events. ErrUnauthorized means the signature failed;
	// ErrNotFound means the event is not a payment event and should be
	// acknowledged without action.
	VerifyAndParse(signature string, body []byte) (WebhookPayment, error)
}

package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiltvault/vaultd/internal/domain"
)

// WebhookVerifier authenticates webhook deliveries. The signature is an
// HMAC-SHA256 of the notification URL concatenated with the raw body, keyed
// by the per-subscription signature key, base64 encoded.
type WebhookVerifier struct {
	signatureKey    []byte
	notificationURL string
}

// NewWebhookVerifier creates a verifier for the given subscription.
func NewWebhookVerifier(signatureKey, notificationURL string) *WebhookVerifier {
	return &WebhookVerifier{
		signatureKey:    []byte(signatureKey),
		notificationURL: notificationURL,
	}
}

// VerifyAndParse checks the signature and extracts the payment object.
// Signature failure returns domain.ErrUnauthorized. A valid event that is not
// a payment event returns domain.ErrNotFound so the caller can acknowledge
// without acting.
func (v *WebhookVerifier) VerifyAndParse(signature string, body []byte) (domain.WebhookPayment, error) {
	if !v.validSignature(signature, body) {
		return domain.WebhookPayment{}, domain.ErrUnauthorized
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.WebhookPayment{}, fmt.Errorf("square: decode webhook event: %w", err)
	}

	if !strings.HasPrefix(event.Type, "payment.") {
		return domain.WebhookPayment{}, domain.ErrNotFound
	}

	p := event.Data.Object.Payment
	if p.ID == "" {
		return domain.WebhookPayment{}, fmt.Errorf("square: payment event %s has no payment id", event.EventID)
	}

	return domain.WebhookPayment{
		GatewayID:   p.ID,
		Status:      domain.ChargeStatus(p.Status),
		AmountCents: p.AmountMoney.Amount,
		Currency:    p.AmountMoney.Currency,
		Note:        p.Note,
	}, nil
}

func (v *WebhookVerifier) validSignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.signatureKey)
	mac.Write([]byte(v.notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ domain.WebhookVerifier = (*WebhookVerifier)(nil)

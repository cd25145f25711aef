package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/tiltvault/vaultd/internal/domain"
)

const (
	testSignatureKey = "whsec_test_key"
	testNotifyURL    = "https://example.com/api/square/webhook"
)

func signBody(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSignatureKey))
	mac.Write([]byte(testNotifyURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func paymentEventBody(status string) []byte {
	return []byte(`{
		"merchant_id": "M1",
		"type": "payment.updated",
		"event_id": "evt_1",
		"data": {
			"type": "payment",
			"id": "sq_pay_1",
			"object": {
				"payment": {
					"id": "sq_pay_1",
					"status": "` + status + `",
					"amount_money": {"amount": 10000, "currency": "USD"},
					"note": "payment_id:int_1 wallet:0xabc risk:conservative amount:100"
				}
			}
		}
	}`)
}

func TestVerifyAndParse(t *testing.T) {
	v := NewWebhookVerifier(testSignatureKey, testNotifyURL)
	body := paymentEventBody("COMPLETED")

	p, err := v.VerifyAndParse(signBody(t, body), body)
	if err != nil {
		t.Fatalf("VerifyAndParse: %v", err)
	}
	if p.GatewayID != "sq_pay_1" {
		t.Errorf("GatewayID = %q, want sq_pay_1", p.GatewayID)
	}
	if p.Status != domain.ChargeCompleted {
		t.Errorf("Status = %q, want COMPLETED", p.Status)
	}
	if p.AmountCents != 10000 {
		t.Errorf("AmountCents = %d, want 10000", p.AmountCents)
	}
	if p.Note == "" {
		t.Error("Note is empty, want note passthrough")
	}
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	v := NewWebhookVerifier(testSignatureKey, testNotifyURL)
	body := paymentEventBody("COMPLETED")

	for _, sig := range []string{"", "bogus", signBody(t, []byte("other body"))} {
		if _, err := v.VerifyAndParse(sig, body); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("signature %q: err = %v, want ErrUnauthorized", sig, err)
		}
	}
}

func TestVerifyAndParseTamperedBody(t *testing.T) {
	v := NewWebhookVerifier(testSignatureKey, testNotifyURL)
	body := paymentEventBody("COMPLETED")
	sig := signBody(t, body)

	tampered := paymentEventBody("FAILED")
	if _, err := v.VerifyAndParse(sig, tampered); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyAndParseIgnoresNonPaymentEvents(t *testing.T) {
	v := NewWebhookVerifier(testSignatureKey, testNotifyURL)
	body := []byte(`{"type": "order.created", "event_id": "evt_2", "data": {}}`)

	if _, err := v.VerifyAndParse(signBody(t, body), body); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

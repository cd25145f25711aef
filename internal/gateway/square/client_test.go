package square

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiltvault/vaultd/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:     srv.URL,
		AccessToken: "tok",
		LocationID:  "loc",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChargeSuccess(t *testing.T) {
	var got createPaymentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payments" {
			t.Errorf("path = %q, want /v2/payments", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(createPaymentResponse{
			Payment: paymentObject{
				ID:          "sq_1",
				Status:      "COMPLETED",
				AmountMoney: money{Amount: 10050, Currency: "USD"},
				ReceiptURL:  "https://squareup.com/receipt/1",
			},
		})
	})

	charge, err := c.Charge(context.Background(), domain.ChargeRequest{
		SourceToken:    "cnon:tok",
		AmountUSD:      100.50,
		Currency:       "USD",
		IdempotencyKey: "idem-1",
		Note:           "payment_id:int_1",
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}

	if got.AmountMoney.Amount != 10050 {
		t.Errorf("request amount = %d cents, want 10050", got.AmountMoney.Amount)
	}
	if got.IdempotencyKey != "idem-1" {
		t.Errorf("idempotency key = %q", got.IdempotencyKey)
	}
	if !got.Autocomplete {
		t.Error("autocomplete not set")
	}
	if charge.GatewayID != "sq_1" {
		t.Errorf("GatewayID = %q", charge.GatewayID)
	}
	if !charge.Status.TerminalSuccess() {
		t.Errorf("Status = %q, want terminal success", charge.Status)
	}
}

func TestChargeClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind domain.ErrorKind
	}{
		{
			"card declined",
			http.StatusPaymentRequired,
			`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"GENERIC_DECLINE","detail":"declined"}]}`,
			domain.KindGatewayDeclined,
		},
		{
			"cvv failure",
			http.StatusPaymentRequired,
			`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CVV_FAILURE"}]}`,
			domain.KindGatewayDeclined,
		},
		{
			"bad credentials",
			http.StatusUnauthorized,
			`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`,
			domain.KindGatewayConfig,
		},
		{
			"gateway timeout",
			http.StatusGatewayTimeout,
			`{}`,
			domain.KindGatewayTimeout,
		},
		{
			"service unavailable",
			http.StatusServiceUnavailable,
			`{}`,
			domain.KindGatewayTimeout,
		},
		{
			"upstream api error",
			http.StatusInternalServerError,
			`{"errors":[{"category":"API_ERROR","code":"INTERNAL_SERVER_ERROR"}]}`,
			domain.KindGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.Charge(context.Background(), domain.ChargeRequest{
				SourceToken: "cnon:tok", AmountUSD: 100, Currency: "USD", IdempotencyKey: "k",
			})
			if err == nil {
				t.Fatal("Charge returned nil error")
			}
			if kind := domain.ErrorKindOf(err); kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			var pe *domain.PaymentError
			if !errors.As(err, &pe) {
				t.Errorf("error is not a PaymentError: %v", err)
			}
		})
	}
}

func TestUSDToCents(t *testing.T) {
	tests := []struct {
		usd  float64
		want int64
	}{
		{1, 100},
		{100.50, 10050},
		{0.1, 10},
		{19.99, 1999},
		{1000000, 100000000},
	}
	for _, tt := range tests {
		if got := usdToCents(tt.usd); got != tt.want {
			t.Errorf("usdToCents(%v) = %d, want %d", tt.usd, got, tt.want)
		}
	}
}

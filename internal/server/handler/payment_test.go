package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tiltvault/vaultd/internal/domain"
	"github.com/tiltvault/vaultd/internal/intake"
)

type fakeProcessor struct {
	result intake.PaymentResult
	err    error
	got    intake.PaymentRequest
	calls  int
}

func (f *fakeProcessor) ProcessPayment(_ context.Context, req intake.PaymentRequest) (intake.PaymentResult, error) {
	f.calls++
	f.got = req
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validPaymentBody = `{
	"amount": 100,
	"currency": "USD",
	"wallet_address": "0x1111111111111111111111111111111111111111",
	"strategy": "conservative",
	"source_token": "cnon:card-ok"
}`

func TestCreatePaymentSuccess(t *testing.T) {
	proc := &fakeProcessor{result: intake.PaymentResult{
		PaymentID:  "pay-1",
		PositionID: "pos-1",
		GatewayID:  "sq-1",
		Status:     "COMPLETED",
	}}
	h := NewPaymentHandler(proc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(validPaymentBody))
	rec := httptest.NewRecorder()
	h.CreatePayment(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var result intake.PaymentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.PaymentID != "pay-1" || result.GatewayID != "sq-1" {
		t.Errorf("result = %+v", result)
	}
	if proc.got.AmountUSD != 100 || proc.got.Strategy != "conservative" {
		t.Errorf("decoded request = %+v", proc.got)
	}
}

func TestCreatePaymentMalformedBody(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewPaymentHandler(proc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"amount": `))
	rec := httptest.NewRecorder()
	h.CreatePayment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if proc.calls != 0 {
		t.Errorf("processor called %d times on malformed body", proc.calls)
	}
}

func TestCreatePaymentUnknownField(t *testing.T) {
	h := NewPaymentHandler(&fakeProcessor{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/payments",
		strings.NewReader(`{"amount": 100, "bogus": true}`))
	rec := httptest.NewRecorder()
	h.CreatePayment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreatePaymentErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", domain.NewPaymentError(domain.KindValidation, "bad amount", "", nil), http.StatusBadRequest},
		{"rate limited", domain.NewPaymentError(domain.KindRateLimited, "cap", "", nil), http.StatusTooManyRequests},
		{"declined", domain.NewPaymentError(domain.KindGatewayDeclined, "cvv", "", nil), http.StatusPaymentRequired},
		{"gateway timeout", domain.NewPaymentError(domain.KindGatewayTimeout, "504", "", nil), http.StatusGatewayTimeout},
		{"gateway config", domain.NewPaymentError(domain.KindGatewayConfig, "bad key", "", nil), http.StatusBadGateway},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentHandler(&fakeProcessor{err: tt.err}, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(validPaymentBody))
			rec := httptest.NewRecorder()
			h.CreatePayment(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCreatePaymentErrorHidesInternalDetail(t *testing.T) {
	err := domain.NewPaymentError(domain.KindGatewayDeclined,
		"CVV_FAILURE on card cnon:tok", "Payment was declined", nil)
	h := NewPaymentHandler(&fakeProcessor{err: err}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(validPaymentBody))
	rec := httptest.NewRecorder()
	h.CreatePayment(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "CVV_FAILURE") || strings.Contains(body, "cnon:") {
		t.Errorf("internal detail leaked to client: %s", body)
	}
	if !strings.Contains(body, "Payment was declined") {
		t.Errorf("user message missing: %s", body)
	}
}

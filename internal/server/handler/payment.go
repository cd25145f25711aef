package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tiltvault/vaultd/internal/intake"
)

// maxPaymentBody bounds the request body; a deposit submission is tiny.
const maxPaymentBody = 1 << 16

// paymentProcessor is the slice of the intake service this handler needs.
type paymentProcessor interface {
	ProcessPayment(ctx context.Context, req intake.PaymentRequest) (intake.PaymentResult, error)
}

// PaymentHandler serves the synchronous deposit endpoint.
type PaymentHandler struct {
	svc    paymentProcessor
	logger *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(svc paymentProcessor, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// CreatePayment accepts a deposit submission, charges the card, and returns
// the position identifiers. Execution may still be running when the response
// goes out; clients poll the position or subscribe to the event stream.
// POST /api/payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "payment")

	var req intake.PaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPaymentBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.svc.ProcessPayment(r.Context(), req)
	if err != nil {
		log.Warn("payment rejected",
			slog.String("wallet", req.WalletAddress),
			slog.String("error", err.Error()),
		)
		writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

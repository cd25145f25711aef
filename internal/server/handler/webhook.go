package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tiltvault/vaultd/internal/domain"
)

// signatureHeader carries the gateway's HMAC over the notification URL and
// raw body.
const signatureHeader = "X-Square-Hmacsha256-Signature"

// maxWebhookBody bounds the event payload.
const maxWebhookBody = 1 << 20

// webhookProcessor is the slice of the reconciler this handler needs.
type webhookProcessor interface {
	HandleEvent(ctx context.Context, signature string, body []byte) error
}

// WebhookHandler serves gateway webhook deliveries.
type WebhookHandler struct {
	rec    webhookProcessor
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(rec webhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{rec: rec, logger: logger}
}

// HandleSquareWebhook verifies and processes one delivery. Anything but a
// signature failure acknowledges with 200 so the gateway stops redelivering;
// the reconciler owns all downstream error handling.
// POST /api/webhooks/square
func (h *WebhookHandler) HandleSquareWebhook(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "webhook")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.rec.HandleEvent(r.Context(), r.Header.Get(signatureHeader), body); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		// The reconciler contract makes this unreachable; log and acknowledge
		// so a future contract change cannot cause a redelivery storm.
		log.Error("unexpected reconciler error", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

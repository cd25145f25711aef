package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

// PositionHandler serves position lookup and listing endpoints.
type PositionHandler struct {
	store  domain.PositionStore
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(store domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{store: store, logger: logger}
}

// positionResponse is the wire shape of a position. Custody internals and the
// raw error chain stay out of it.
type positionResponse struct {
	ID               string  `json:"id"`
	PaymentID        string  `json:"payment_id"`
	GatewayPaymentID string  `json:"gateway_payment_id,omitempty"`
	WalletAddress    string  `json:"wallet_address"`
	Strategy         string  `json:"strategy"`
	DepositAmount    float64 `json:"deposit_amount"`
	FundingTxHash    string  `json:"funding_tx_hash,omitempty"`
	SupplyTxHash     string  `json:"supply_tx_hash,omitempty"`
	SupplyAmount     float64 `json:"supply_amount,omitempty"`
	OrderTxHash      string  `json:"order_tx_hash,omitempty"`
	OrderKey         string  `json:"order_key,omitempty"`
	OrderSize        float64 `json:"order_size,omitempty"`
	Status           string  `json:"status"`
	Error            string  `json:"error,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ExecutedAt       string  `json:"executed_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	resp := positionResponse{
		ID:               p.ID,
		PaymentID:        p.PaymentID,
		GatewayPaymentID: p.GatewayPaymentID,
		WalletAddress:    p.WalletAddress,
		Strategy:         string(p.Strategy),
		DepositAmount:    p.DepositAmount,
		FundingTxHash:    p.FundingTxHash,
		SupplyTxHash:     p.SupplyTxHash,
		SupplyAmount:     p.SupplyAmount,
		OrderTxHash:      p.OrderTxHash,
		OrderKey:         p.OrderKey,
		OrderSize:        p.OrderSize,
		Status:           string(p.Status),
		Error:            p.Error,
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.ExecutedAt != nil {
		resp.ExecutedAt = p.ExecutedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// GetPosition returns a single position by its id.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "position")

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		log.Error("position lookup failed", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// ListPositions returns positions filtered by status. Operator endpoint.
// GET /api/positions?status=failed&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "position")

	status := domain.PositionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PositionActive
	}
	switch status {
	case domain.PositionPending, domain.PositionExecuting, domain.PositionActive,
		domain.PositionFailed, domain.PositionClosed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	positions, err := h.store.ListByStatus(r.Context(), status, parseListOpts(r))
	if err != nil {
		log.Error("position list failed", slog.String("status", string(status)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": out,
		"count":     len(out),
	})
}

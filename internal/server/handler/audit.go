package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

// AuditHandler serves the append-only audit log. Operator endpoint.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

// ListAudit returns audit entries, newest first, optionally bounded by a
// since timestamp (RFC3339).
// GET /api/audit?since=2026-01-01T00:00:00Z&limit=100
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "audit")

	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = &t
	}

	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		log.Error("audit list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

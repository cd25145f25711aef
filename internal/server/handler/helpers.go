package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tiltvault/vaultd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePaymentError maps a classified payment failure to an HTTP status and a
// card-holder-safe message. Internal detail stays in the logs.
func writePaymentError(w http.ResponseWriter, err error) {
	status := statusForKind(domain.ErrorKindOf(err))

	msg := "An internal error occurred"
	var pe *domain.PaymentError
	if errors.As(err, &pe) && pe.UserMessage != "" {
		msg = pe.UserMessage
	}

	writeJSON(w, status, map[string]string{
		"error": msg,
		"kind":  string(domain.ErrorKindOf(err)),
	})
}

// statusForKind picks the HTTP status still owed to the caller for each
// failure class. Post-charge failures never reach here; they resolve to a
// success response with the position carrying the failure.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindGatewayDeclined:
		return http.StatusPaymentRequired
	case domain.KindGatewayTimeout:
		return http.StatusGatewayTimeout
	case domain.KindGatewayConfig:
		return http.StatusBadGateway
	case domain.KindWalletNotFound:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

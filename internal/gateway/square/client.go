// Package square is the client for the card gateway's Payments API and the
// verifier for its webhook deliveries.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

const (
	defaultTimeout = 15 * time.Second
	apiVersion     = "2024-06-04"
)

// ClientConfig holds credentials and endpoints for the Payments API.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	// LocationID scopes payments to a merchant location.
	LocationID string
	Timeout    time.Duration
}

// Client calls the Payments API. It implements domain.PaymentGateway.
type Client struct {
	baseURL     string
	accessToken string
	locationID  string
	httpClient  *http.Client
	log         *slog.Logger
}

// NewClient creates a gateway client from cfg.
func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		locationID:  cfg.LocationID,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log.With("component", "square_client"),
	}
}

// Charge creates a payment for req. The USD amount is converted to cents at
// this boundary; everything upstream works in whole USD.
func (c *Client) Charge(ctx context.Context, req domain.ChargeRequest) (domain.Charge, error) {
	body := createPaymentRequest{
		SourceID:       req.SourceToken,
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney: money{
			Amount:   usdToCents(req.AmountUSD),
			Currency: req.Currency,
		},
		Autocomplete: true,
		Note:         req.Note,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("square: marshal charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/payments", bytes.NewReader(payload))
	if err != nil {
		return domain.Charge{}, fmt.Errorf("square: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Square-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return domain.Charge{}, domain.NewPaymentError(domain.KindGatewayTimeout, "charge request timed out", "", err)
		}
		return domain.Charge{}, domain.NewPaymentError(domain.KindGatewayConfig, "charge request failed", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Charge{}, fmt.Errorf("square: read response: %w", err)
	}

	var decoded createPaymentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.Charge{}, fmt.Errorf("square: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 || len(decoded.Errors) > 0 {
		return domain.Charge{}, c.classifyError(resp.StatusCode, decoded.Errors)
	}

	p := decoded.Payment
	c.log.Info("charge created",
		"gateway_payment_id", p.ID,
		"status", p.Status,
		"amount_cents", p.AmountMoney.Amount,
	)

	return domain.Charge{
		GatewayID:   p.ID,
		Status:      domain.ChargeStatus(p.Status),
		AmountCents: p.AmountMoney.Amount,
		Currency:    p.AmountMoney.Currency,
		OrderID:     p.OrderID,
		ReceiptURL:  p.ReceiptURL,
	}, nil
}

// classifyError maps the gateway error array to a PaymentError kind. The
// first error in the array decides; the gateway puts the primary cause first.
func (c *Client) classifyError(status int, errs []apiError) error {
	if status == http.StatusGatewayTimeout || status == http.StatusServiceUnavailable {
		return domain.NewPaymentError(domain.KindGatewayTimeout,
			fmt.Sprintf("gateway returned %d", status), "", nil)
	}
	if len(errs) == 0 {
		return domain.NewPaymentError(domain.KindGatewayConfig,
			fmt.Sprintf("gateway returned %d with no error detail", status), "", nil)
	}

	first := errs[0]
	reason := first.Code
	if first.Detail != "" {
		reason = first.Code + ": " + first.Detail
	}

	switch first.Category {
	case "PAYMENT_METHOD_ERROR", "REFUND_ERROR":
		return domain.NewPaymentError(domain.KindGatewayDeclined, reason, declineMessage(first.Code), nil)
	case "AUTHENTICATION_ERROR", "INVALID_REQUEST_ERROR":
		return domain.NewPaymentError(domain.KindGatewayConfig, reason, "", nil)
	case "RATE_LIMITED":
		return domain.NewPaymentError(domain.KindRateLimited, reason, "", nil)
	case "API_ERROR":
		return domain.NewPaymentError(domain.KindGatewayTimeout, reason, "", nil)
	}
	return domain.NewPaymentError(domain.KindGatewayConfig, reason, "", nil)
}

// declineMessage turns the common decline codes into card-holder wording.
func declineMessage(code string) string {
	switch code {
	case "CVV_FAILURE":
		return "Card security code was incorrect"
	case "ADDRESS_VERIFICATION_FAILURE":
		return "Card billing address did not match"
	case "INSUFFICIENT_FUNDS":
		return "Card has insufficient funds"
	case "CARD_EXPIRED":
		return "Card has expired"
	case "GENERIC_DECLINE":
		return "Payment was declined by the card issuer"
	}
	return ""
}

// usdToCents converts whole-dollar amounts to minor units, rounding to the
// nearest cent to absorb float noise.
func usdToCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

var _ domain.PaymentGateway = (*Client)(nil)

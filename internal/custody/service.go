// Package custody integrates the remote key-custody service. The service
// holds all private keys; this package owns transaction assembly and hands
// the finished unsigned transaction over for signing and broadcast.
package custody

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// ServiceConfig holds the custody service endpoint and credentials.
type ServiceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Service is the HTTP client for the custody signing API.
type Service struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewService creates a custody service client.
func NewService(cfg ServiceConfig) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	WalletID string `json:"wallet_id"`
	ChainID  int64  `json:"chain_id"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Data     string `json:"data,omitempty"`
	Nonce    uint64 `json:"nonce"`
	GasLimit uint64 `json:"gas_limit"`
	GasPrice string `json:"gas_price"`
}

type signResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// SignAndBroadcast submits a fully assembled transaction for signing and
// broadcast under the custody wallet's key. Returns the broadcast tx hash.
func (s *Service) SignAndBroadcast(ctx context.Context, req signRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("custody: marshal sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("custody: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("custody: sign request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("custody: read response: %w", err)
	}

	var decoded signResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("custody: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("custody: sign rejected: %s", msg)
	}
	if decoded.TxHash == "" {
		return "", fmt.Errorf("custody: sign response missing tx hash")
	}
	return decoded.TxHash, nil
}

func encodeData(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(data)
}

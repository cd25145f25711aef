package custody

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiltvault/vaultd/internal/domain"
)

type fakeDirectory map[string]string

func (d fakeDirectory) CustodyID(_ context.Context, addr string) (string, error) {
	id, ok := d[addr]
	if !ok {
		return "", domain.ErrWalletNotFound
	}
	return id, nil
}

func (d fakeDirectory) Register(_ context.Context, addr, id string) error {
	d[addr] = id
	return nil
}

type fakeAssembler struct {
	nonce    uint64
	gasPrice *big.Int
	gasUsed  uint64
}

func (a *fakeAssembler) PendingNonce(context.Context, string) (uint64, error) {
	return a.nonce, nil
}

func (a *fakeAssembler) SuggestGasPrice(context.Context) (*big.Int, error) {
	return a.gasPrice, nil
}

func (a *fakeAssembler) EstimateGas(context.Context, string, string, *big.Int, []byte) (uint64, error) {
	return a.gasUsed, nil
}

func TestSignAndSend(t *testing.T) {
	var got signRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(signResponse{TxHash: "0xdeadbeef"})
	}))
	defer srv.Close()

	signer := NewSigner(
		NewService(ServiceConfig{BaseURL: srv.URL, APIKey: "k"}),
		fakeDirectory{"0xwallet": "cust_1"},
		&fakeAssembler{nonce: 7, gasPrice: big.NewInt(25_000_000_000), gasUsed: 100_000},
		43114,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	hash, err := signer.SignAndSend(context.Background(), "0xwallet", domain.TxCall{
		To:   "0xcontract",
		Data: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("SignAndSend: %v", err)
	}
	if hash != "0xdeadbeef" {
		t.Errorf("hash = %q", hash)
	}

	if got.WalletID != "cust_1" {
		t.Errorf("WalletID = %q, want cust_1", got.WalletID)
	}
	if got.Nonce != 7 {
		t.Errorf("Nonce = %d, want 7", got.Nonce)
	}
	if got.ChainID != 43114 {
		t.Errorf("ChainID = %d", got.ChainID)
	}
	if got.Data != "0x0102" {
		t.Errorf("Data = %q, want 0x0102", got.Data)
	}
	// 100_000 estimate plus 20% headroom.
	if got.GasLimit != 120_000 {
		t.Errorf("GasLimit = %d, want 120000", got.GasLimit)
	}
}

func TestSignAndSendUnknownWallet(t *testing.T) {
	signer := NewSigner(
		NewService(ServiceConfig{BaseURL: "http://unused"}),
		fakeDirectory{},
		&fakeAssembler{gasPrice: big.NewInt(1)},
		43114,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	_, err := signer.SignAndSend(context.Background(), "0xunknown", domain.TxCall{To: "0xc"})
	if !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("err = %v, want ErrWalletNotFound", err)
	}
}

func TestSignAndSendServiceRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(signResponse{Error: "policy violation"})
	}))
	defer srv.Close()

	signer := NewSigner(
		NewService(ServiceConfig{BaseURL: srv.URL}),
		fakeDirectory{"0xwallet": "cust_1"},
		&fakeAssembler{nonce: 1, gasPrice: big.NewInt(1), gasUsed: 21_000},
		43114,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	_, err := signer.SignAndSend(context.Background(), "0xwallet", domain.TxCall{To: "0xc"})
	if err == nil {
		t.Fatal("expected error")
	}
}

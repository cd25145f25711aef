package chain

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/tiltvault/vaultd/internal/domain"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0x2222222222222222222222222222222222222222"
)

func TestPackSelectors(t *testing.T) {
	amount := big.NewInt(1_000_000)

	tests := []struct {
		name         string
		pack         func() ([]byte, error)
		wantSelector string
	}{
		{"transfer", func() ([]byte, error) { return PackTransfer(addrA, amount) }, "a9059cbb"},
		{"approve", func() ([]byte, error) { return PackApprove(addrA, amount) }, "095ea7b3"},
		{"balanceOf", func() ([]byte, error) { return PackBalanceOf(addrA) }, "70a08231"},
		{"allowance", func() ([]byte, error) { return PackAllowance(addrA, addrB) }, "dd62ed3e"},
		{"supply", func() ([]byte, error) { return PackSupply(addrA, amount, addrB) }, "617ba037"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.pack()
			if err != nil {
				t.Fatalf("pack: %v", err)
			}
			if got := hex.EncodeToString(data[:4]); got != tt.wantSelector {
				t.Errorf("selector = %s, want %s", got, tt.wantSelector)
			}
			if len(data) < 4 || (len(data)-4)%32 != 0 {
				t.Errorf("calldata length %d is not 4+32n", len(data))
			}
		})
	}
}

func TestPackCreateIncreasePosition(t *testing.T) {
	data, err := PackCreateIncreasePosition(IncreasePositionParams{
		Path:            []string{addrA},
		IndexToken:      addrB,
		AmountIn:        big.NewInt(100_000_000),
		MinOut:          big.NewInt(0),
		SizeDelta:       new(big.Int).Mul(big.NewInt(200), new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)),
		IsLong:          true,
		AcceptablePrice: big.NewInt(1),
		ExecutionFee:    big.NewInt(300_000_000_000_000_000),
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) < 4 {
		t.Fatal("calldata too short")
	}
}

func TestRequestKeyDeterministic(t *testing.T) {
	k1 := RequestKey(addrA, big.NewInt(7))
	k2 := RequestKey(addrA, big.NewInt(7))
	k3 := RequestKey(addrA, big.NewInt(8))

	if k1 != k2 {
		t.Errorf("same inputs produced different keys: %s vs %s", k1, k2)
	}
	if k1 == k3 {
		t.Error("different indexes produced the same key")
	}
	if !strings.HasPrefix(k1, "0x") || len(k1) != 66 {
		t.Errorf("key %q is not a 32-byte hex hash", k1)
	}
}

func TestClassifyRevert(t *testing.T) {
	const generic = "This deposit would fail on-chain"

	tests := []struct {
		reason  string
		wantMsg string
	}{
		{"ERC20: transfer amount exceeds balance", "Wallet balance is insufficient for this deposit"},
		{"SafeERC20: insufficient allowance", "Token approval is missing; the deposit will be retried"},
		{"Pausable: paused", "The on-chain protocol is temporarily paused"},
		{"RESERVE_PAUSED", "The on-chain protocol is temporarily paused"},
		{"RESERVE_FROZEN", "The on-chain reserve is temporarily frozen"},
		{"RESERVE_INACTIVE", "The on-chain reserve is not accepting deposits"},
		{"insufficient liquidity", "The protocol lacks liquidity for this deposit right now"},
		{"INVALID_AMOUNT", "Deposit amount is not accepted by the protocol"},
		{"ERC20: transfer failed", "Token transfer failed on-chain"},
		{"Vault: max leverage exceeded", "Requested leverage exceeds the protocol limit"},
		{"something the table has never seen", generic},
		{"", generic},
	}

	for _, tt := range tests {
		pe := ClassifyRevert(tt.reason)
		if pe.Kind != domain.KindContractRevert {
			t.Errorf("ClassifyRevert(%q).Kind = %q, want contract_revert", tt.reason, pe.Kind)
		}
		if pe.UserMessage != tt.wantMsg {
			t.Errorf("ClassifyRevert(%q).UserMessage = %q, want %q", tt.reason, pe.UserMessage, tt.wantMsg)
		}
		if domain.IsRetryable(pe) {
			t.Errorf("ClassifyRevert(%q) is retryable, reverts never are", tt.reason)
		}
	}
}

// Package chain provides read access to the EVM chain and the calldata
// builders for the contracts the execution pipeline touches.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tiltvault/vaultd/internal/domain"
)

// ClientConfig holds RPC parameters.
type ClientConfig struct {
	RPCURL  string
	ChainID int64
	// PollInterval is how often WaitMined checks for a receipt.
	PollInterval time.Duration
}

// Client wraps an ethclient connection. It implements domain.ChainReader.
type Client struct {
	eth          *ethclient.Client
	chainID      *big.Int
	pollInterval time.Duration
	log          *slog.Logger
}

// Dial connects to the RPC endpoint and verifies the chain id matches cfg.
func Dial(ctx context.Context, cfg ClientConfig, log *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint reports chain %d, want %d", chainID.Int64(), cfg.ChainID)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &Client{
		eth:          eth,
		chainID:      chainID,
		pollInterval: poll,
		log:          log.With("component", "chain_client"),
	}, nil
}

// ChainID returns the connected chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// NativeBalance returns the gas-token balance of addr.
func (c *Client) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, transientErr("native balance", err)
	}
	return bal, nil
}

// TokenBalance returns the ERC-20 balance of owner for token.
func (c *Client) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, token, data, "token balance")
}

// Allowance returns the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data, err := PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, token, data, "allowance")
}

func (c *Client) callUint256(ctx context.Context, to string, data []byte, op string) (*big.Int, error) {
	toAddr := common.HexToAddress(to)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &toAddr, Data: data}, nil)
	if err != nil {
		return nil, transientErr(op, err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("chain: %s: short return data (%d bytes)", op, len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// IncreasePositionsIndex returns the perp router's per-account request
// counter. The counter feeds the request key derivation for pending orders.
func (c *Client) IncreasePositionsIndex(ctx context.Context, router, account string) (*big.Int, error) {
	data, err := PackIncreasePositionsIndex(account)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, router, data, "increase positions index")
}

// PendingNonce returns the next nonce for addr including pending txs.
func (c *Client) PendingNonce(ctx context.Context, addr string) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, common.HexToAddress(addr))
	if err != nil {
		return 0, transientErr("pending nonce", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's recommended gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, transientErr("suggest gas price", err)
	}
	return price, nil
}

// EstimateGas estimates the gas limit for a call from sender.
func (c *Client) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	toAddr := common.HexToAddress(to)
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  common.HexToAddress(from),
		To:    &toAddr,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, transientErr("estimate gas", err)
	}
	return gas, nil
}

// WaitMined polls for the receipt of txHash until it lands or ctx expires.
// The timeout bounds confirmation waiting only; the transaction itself is
// already broadcast and cannot be recalled.
func (c *Client) WaitMined(ctx context.Context, txHash string) (domain.TxOutcome, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return c.outcomeFromReceipt(ctx, hash, receipt)
		}
		if err != ethereum.NotFound {
			c.log.Debug("receipt poll error", "tx", txHash, "error", err)
		}

		select {
		case <-ctx.Done():
			return domain.TxOutcome{TxHash: txHash}, transientErr("wait mined", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) outcomeFromReceipt(ctx context.Context, hash common.Hash, receipt *types.Receipt) (domain.TxOutcome, error) {
	outcome := domain.TxOutcome{
		TxHash:      hash.Hex(),
		Succeeded:   receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if outcome.Succeeded {
		return outcome, nil
	}

	outcome.RevertReason = c.revertReason(ctx, hash, receipt.BlockNumber)
	return outcome, nil
}

// revertReason replays the failed transaction as a call at its block to
// recover the revert string. Best effort: some nodes prune the state.
func (c *Client) revertReason(ctx context.Context, hash common.Hash, block *big.Int) string {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	signer := types.LatestSignerForChainID(c.chainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return ""
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err = c.eth.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	return err.Error()
}

func transientErr(op string, err error) error {
	return domain.NewPaymentError(domain.KindChainTransient, "chain: "+op, "", err)
}

var _ domain.ChainReader = (*Client)(nil)

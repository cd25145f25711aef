package domain

import (
	"context"
	"math/big"
)

// TxCall is a transaction to be constructed, signed, and broadcast by the
// custodial signer. Addresses are hex strings so the domain layer stays free
// of chain-client types.
type TxCall struct {
	To       string
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// CustodialSigner signs and broadcasts a transaction on behalf of a logical
// wallet. The remote custody service holds the key material; the signer owns
// nonce/gas assembly. Broadcast is irreversible: callers must record the
// returned hash before any retry decision.
type CustodialSigner interface {
	SignAndSend(ctx context.Context, walletAddress string, call TxCall) (txHash string, err error)
}

// TxOutcome is the mined result of a broadcast transaction, modeled as an
// explicit success/revert variant instead of a loose receipt blob.
type TxOutcome struct {
	TxHash       string
	Succeeded    bool
	RevertReason string
	GasUsed      uint64
	BlockNumber  uint64
}

// ChainReader is the read-only view of the chain the orchestrator needs.
type ChainReader interface {
	NativeBalance(ctx context.Context, addr string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner string) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	// WaitMined blocks until the transaction is mined or ctx expires. The
	// timeout bounds waiting for confirmation, never the broadcast itself.
	WaitMined(ctx context.Context, txHash string) (TxOutcome, error)
}

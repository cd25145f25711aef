package custody

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/tiltvault/vaultd/internal/domain"
)

// txAssembler is the slice of chain access the signer needs for nonce and
// gas assembly.
type txAssembler interface {
	PendingNonce(ctx context.Context, addr string) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
}

// Signer implements domain.CustodialSigner. It resolves the custody wallet
// id for an address, assembles nonce/gas/value, and delegates the actual
// signing to the remote service. Nonce ordering per sender is what serializes
// concurrent payments drawing on the same wallet.
type Signer struct {
	service   *Service
	directory domain.WalletDirectory
	assembler txAssembler
	chainID   int64
	log       *slog.Logger
}

// NewSigner creates a Signer.
func NewSigner(service *Service, directory domain.WalletDirectory, assembler txAssembler, chainID int64, log *slog.Logger) *Signer {
	return &Signer{
		service:   service,
		directory: directory,
		assembler: assembler,
		chainID:   chainID,
		log:       log.With("component", "custodial_signer"),
	}
}

// SignAndSend assembles, signs, and broadcasts a transaction from
// walletAddress. A missing custody mapping is fatal for the payment: the user
// must authenticate before depositing.
func (s *Signer) SignAndSend(ctx context.Context, walletAddress string, call domain.TxCall) (string, error) {
	custodyID, err := s.directory.CustodyID(ctx, walletAddress)
	if err != nil {
		return "", err
	}

	nonce, err := s.assembler.PendingNonce(ctx, walletAddress)
	if err != nil {
		return "", err
	}
	gasPrice, err := s.assembler.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit, err = s.assembler.EstimateGas(ctx, walletAddress, call.To, value, call.Data)
		if err != nil {
			return "", err
		}
		// Headroom for state drift between estimate and inclusion.
		gasLimit = gasLimit + gasLimit/5
	}

	txHash, err := s.service.SignAndBroadcast(ctx, signRequest{
		WalletID: custodyID,
		ChainID:  s.chainID,
		To:       call.To,
		Value:    value.String(),
		Data:     encodeData(call.Data),
		Nonce:    nonce,
		GasLimit: gasLimit,
		GasPrice: gasPrice.String(),
	})
	if err != nil {
		return "", fmt.Errorf("custody: sign and send from %s: %w", walletAddress, err)
	}

	s.log.Info("transaction broadcast",
		"wallet", walletAddress,
		"to", call.To,
		"nonce", nonce,
		"tx_hash", txHash,
	)
	return txHash, nil
}

var _ domain.CustodialSigner = (*Signer)(nil)

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/tiltvault/vaultd/internal/chain"
	"github.com/tiltvault/vaultd/internal/domain"
)

// fundWallet moves the deposit stablecoin and a fixed gas top-up from the hub
// to the user's wallet. The stablecoin transfer hash is the step's idempotency
// marker: if it is already recorded, the step is done and must not repeat.
func (o *Orchestrator) fundWallet(ctx context.Context, log *slog.Logger, pos *domain.Position, walletAddress string, tokenAmount *big.Int) error {
	if pos.FundingTxHash != "" {
		log.Info("funding already recorded, skipping", "tx_hash", pos.FundingTxHash)
		return nil
	}

	if err := o.checkHubBalances(ctx, tokenAmount); err != nil {
		return err
	}

	// Gas top-up first so the wallet can pay for its own approvals. Skipped
	// when the wallet already holds enough native token, which also makes a
	// re-run after a partial failure safe.
	nativeBal, err := o.reader.NativeBalance(ctx, walletAddress)
	if err != nil {
		return err
	}
	if nativeBal.Cmp(o.cfg.GasTopUpWei) < 0 {
		err := retry(ctx, o.cfg.Retry, func() error {
			outcome, err := o.sendAndConfirm(ctx, o.cfg.HubAddress, domain.TxCall{
				To:    walletAddress,
				Value: o.cfg.GasTopUpWei,
			}, func(string) error { return nil })
			if err != nil {
				return err
			}
			if !outcome.Succeeded {
				return chain.ClassifyRevert(outcome.RevertReason)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("engine: gas top-up: %w", err)
		}
		log.Info("gas top-up sent", "wei", o.cfg.GasTopUpWei)
	}

	data, err := chain.PackTransfer(walletAddress, tokenAmount)
	if err != nil {
		return err
	}

	err = retry(ctx, o.cfg.Retry, func() error {
		// Re-check before any retry: the previous attempt may have broadcast
		// and recorded before its confirmation wait failed.
		fresh, err := o.store.GetByPaymentID(ctx, pos.PaymentID)
		if err != nil {
			return err
		}
		if fresh.FundingTxHash != "" {
			pos.FundingTxHash = fresh.FundingTxHash
			outcome, err := o.waitRecorded(ctx, fresh.FundingTxHash)
			if err != nil {
				return err
			}
			if !outcome.Succeeded {
				return chain.ClassifyRevert(outcome.RevertReason)
			}
			return nil
		}

		outcome, err := o.sendAndConfirm(ctx, o.cfg.HubAddress, domain.TxCall{
			To:   o.cfg.StablecoinAddress,
			Data: data,
		}, func(txHash string) error {
			pos.FundingTxHash = txHash
			return o.store.RecordFunding(ctx, pos.PaymentID, txHash)
		})
		if err != nil {
			return err
		}
		if !outcome.Succeeded {
			return chain.ClassifyRevert(outcome.RevertReason)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: fund wallet: %w", err)
	}

	log.Info("wallet funded", "tx_hash", pos.FundingTxHash, "token_amount", tokenAmount)
	return nil
}

// waitRecorded confirms an already recorded broadcast without re-sending.
func (o *Orchestrator) waitRecorded(ctx context.Context, txHash string) (domain.TxOutcome, error) {
	confirmCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()
	return o.reader.WaitMined(confirmCtx, txHash)
}

// checkHubBalances verifies the hub can cover the stablecoin transfer and the
// gas top-up. A shortfall is fatal and alerts the operator; retrying cannot
// mint money.
func (o *Orchestrator) checkHubBalances(ctx context.Context, tokenAmount *big.Int) error {
	tokenBal, err := o.reader.TokenBalance(ctx, o.cfg.StablecoinAddress, o.cfg.HubAddress)
	if err != nil {
		return err
	}
	if tokenBal.Cmp(tokenAmount) < 0 {
		return domain.NewPaymentError(domain.KindInsufficientHub,
			fmt.Sprintf("hub stablecoin balance %s below required %s", tokenBal, tokenAmount),
			"", domain.ErrInsufficientHubBalance)
	}

	nativeBal, err := o.reader.NativeBalance(ctx, o.cfg.HubAddress)
	if err != nil {
		return err
	}
	if nativeBal.Cmp(o.cfg.GasTopUpWei) < 0 {
		return domain.NewPaymentError(domain.KindInsufficientHub,
			fmt.Sprintf("hub native balance %s below gas top-up %s", nativeBal, o.cfg.GasTopUpWei),
			"", domain.ErrInsufficientHubBalance)
	}
	return nil
}

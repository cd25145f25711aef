package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/tiltvault/vaultd/internal/chain"
	"github.com/tiltvault/vaultd/internal/domain"
)

// executeConservative supplies the funded stablecoin to the lending pool on
// behalf of the wallet. The supply tx hash is the step's idempotency marker.
func (o *Orchestrator) executeConservative(ctx context.Context, log *slog.Logger, pos *domain.Position, walletAddress string, tokenAmount *big.Int) error {
	if pos.SupplyTxHash != "" {
		log.Info("supply already recorded, skipping", "tx_hash", pos.SupplyTxHash)
		return nil
	}

	if err := o.ensureAllowance(ctx, log, walletAddress, o.cfg.LendingPoolAddress, tokenAmount); err != nil {
		return err
	}

	data, err := chain.PackSupply(o.cfg.StablecoinAddress, tokenAmount, walletAddress)
	if err != nil {
		return err
	}

	supplyUSD := tokenUnitsToUSD(tokenAmount, o.cfg.StablecoinDecimals)
	err = retry(ctx, o.cfg.Retry, func() error {
		fresh, err := o.store.GetByPaymentID(ctx, pos.PaymentID)
		if err != nil {
			return err
		}
		if fresh.SupplyTxHash != "" {
			pos.SupplyTxHash = fresh.SupplyTxHash
			outcome, err := o.waitRecorded(ctx, fresh.SupplyTxHash)
			if err != nil {
				return err
			}
			if !outcome.Succeeded {
				return chain.ClassifyRevert(outcome.RevertReason)
			}
			return nil
		}

		outcome, err := o.sendAndConfirm(ctx, walletAddress, domain.TxCall{
			To:   o.cfg.LendingPoolAddress,
			Data: data,
		}, func(txHash string) error {
			pos.SupplyTxHash = txHash
			return o.store.RecordSupply(ctx, pos.PaymentID, txHash, supplyUSD)
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
		return fmt.Errorf("engine: supply: %w", err)
	}

	log.Info("stablecoin supplied", "tx_hash", pos.SupplyTxHash, "amount_usd", supplyUSD)
	return nil
}

// ensureAllowance approves spender for at least amount. A failed approval is
// retried once after re-reading the allowance; a competing approval may have
// landed in between.
func (o *Orchestrator) ensureAllowance(ctx context.Context, log *slog.Logger, owner, spender string, amount *big.Int) error {
	allowance, err := o.reader.Allowance(ctx, o.cfg.StablecoinAddress, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := chain.PackApprove(spender, amount)
	if err != nil {
		return err
	}

	approve := func() error {
		outcome, err := o.sendAndConfirm(ctx, owner, domain.TxCall{
			To:   o.cfg.StablecoinAddress,
			Data: data,
		}, func(string) error { return nil })
		if err != nil {
			return err
		}
		if !outcome.Succeeded {
			return chain.ClassifyRevert(outcome.RevertReason)
		}
		return nil
	}

	if err := approve(); err != nil {
		allowance, recheckErr := o.reader.Allowance(ctx, o.cfg.StablecoinAddress, owner, spender)
		if recheckErr == nil && allowance.Cmp(amount) >= 0 {
			log.Info("allowance satisfied after failed approval", "spender", spender)
			return nil
		}
		if retryErr := approve(); retryErr != nil {
			return fmt.Errorf("engine: approve %s: %w", spender, retryErr)
		}
	}

	log.Info("allowance approved", "spender", spender, "amount", amount)
	return nil
}

func tokenUnitsToUSD(units *big.Int, decimals int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(units),
		big.NewFloat(math.Pow10(decimals)),
	).Float64()
	return f
}

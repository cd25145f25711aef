package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/tiltvault/vaultd/internal/chain"
	"github.com/tiltvault/vaultd/internal/domain"
)

// Router size and price values use 30-decimal USD fixed point.
var usd30 = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

// executeLeveraged opens a long on the perp router with the funded stablecoin
// as collateral and size = collateral x target leverage. The order tx hash is
// the step's idempotency marker.
func (o *Orchestrator) executeLeveraged(ctx context.Context, log *slog.Logger, pos *domain.Position, walletAddress string, tokenAmount *big.Int, usdAmount float64) error {
	if pos.OrderTxHash != "" {
		log.Info("order already recorded, skipping", "tx_hash", pos.OrderTxHash)
		return nil
	}

	balance, err := o.reader.TokenBalance(ctx, o.cfg.StablecoinAddress, walletAddress)
	if err != nil {
		return err
	}
	if balance.Cmp(tokenAmount) < 0 {
		return domain.NewPaymentError(domain.KindInternal,
			fmt.Sprintf("wallet stablecoin balance %s below collateral %s after funding", balance, tokenAmount),
			"", nil)
	}

	if err := o.ensureAllowance(ctx, log, walletAddress, o.cfg.PerpRouterAddress, tokenAmount); err != nil {
		return err
	}

	sizeUSD := usdAmount * o.cfg.TargetLeverage
	sizeDelta := usdToFixed30(sizeUSD)

	acceptablePrice, err := o.acceptablePrice(ctx)
	if err != nil {
		return err
	}

	data, err := chain.PackCreateIncreasePosition(chain.IncreasePositionParams{
		Path:            []string{o.cfg.StablecoinAddress},
		IndexToken:      o.cfg.PerpIndexToken,
		AmountIn:        tokenAmount,
		MinOut:          big.NewInt(0),
		SizeDelta:       sizeDelta,
		IsLong:          true,
		AcceptablePrice: acceptablePrice,
		ExecutionFee:    o.cfg.PerpExecutionFeeWei,
	})
	if err != nil {
		return err
	}

	entryPrice := fixed30ToUSD(acceptablePrice)
	err = retry(ctx, o.cfg.Retry, func() error {
		fresh, err := o.store.GetByPaymentID(ctx, pos.PaymentID)
		if err != nil {
			return err
		}
		if fresh.OrderTxHash != "" {
			pos.OrderTxHash = fresh.OrderTxHash
			outcome, err := o.waitRecorded(ctx, fresh.OrderTxHash)
			if err != nil {
				return err
			}
			if !outcome.Succeeded {
				return chain.ClassifyRevert(outcome.RevertReason)
			}
			return nil
		}

		outcome, err := o.sendAndConfirm(ctx, walletAddress, domain.TxCall{
			To:    o.cfg.PerpRouterAddress,
			Value: o.cfg.PerpExecutionFeeWei,
			Data:  data,
		}, func(txHash string) error {
			pos.OrderTxHash = txHash
			return o.store.RecordOrder(ctx, pos.PaymentID, txHash, "", sizeUSD, entryPrice)
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
		return fmt.Errorf("engine: create increase position: %w", err)
	}

	// Derive the router's request key from the account's order index so the
	// order can be looked up later. Best effort; the tx hash is the durable
	// reference.
	if o.perp != nil {
		if index, err := o.perp.IncreasePositionsIndex(ctx, o.cfg.PerpRouterAddress, walletAddress); err == nil {
			key := chain.RequestKey(walletAddress, index)
			pos.OrderKey = key
			if err := o.store.RecordOrder(ctx, pos.PaymentID, pos.OrderTxHash, key, sizeUSD, entryPrice); err != nil {
				log.Warn("record order key failed", "error", err)
			}
		} else {
			log.Warn("order index read failed", "error", err)
		}
	}

	log.Info("leveraged order submitted",
		"tx_hash", pos.OrderTxHash,
		"order_key", pos.OrderKey,
		"size_usd", sizeUSD,
		"leverage", o.cfg.TargetLeverage,
	)
	return nil
}

// acceptablePrice returns the max fill price for a long. Longs use a small
// buffer above the index price; without an oracle read here the router's own
// price bounds do the real protection, so the buffer is generous.
func (o *Orchestrator) acceptablePrice(ctx context.Context) (*big.Int, error) {
	// The router rejects fills worse than this bound. MaxUint-style sentinel
	// values would disable the protection entirely, so derive from config.
	if o.cfg.PerpAcceptablePriceUSD > 0 {
		return usdToFixed30(o.cfg.PerpAcceptablePriceUSD), nil
	}
	return nil, domain.NewPaymentError(domain.KindInternal, "acceptable price not configured", "", nil)
}

func usdToFixed30(usd float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(usd), new(big.Float).SetInt(usd30))
	out, _ := f.Int(nil)
	return out
}

func fixed30ToUSD(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(usd30)).Float64()
	return f
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tiltvault/vaultd/internal/domain"
)

// WalletDirectory maps user wallet addresses to custody-service wallet ids.
// Entries have no TTL: a wallet mapping outlives any single payment.
type WalletDirectory struct {
	rdb *redis.Client
}

// NewWalletDirectory creates a WalletDirectory backed by the given Client.
func NewWalletDirectory(c *Client) *WalletDirectory {
	return &WalletDirectory{rdb: c.Underlying()}
}

func walletKey(addr string) string {
	return "wallet_custody:" + strings.ToLower(addr)
}

// CustodyID returns the custody wallet id for an address, or
// domain.ErrWalletNotFound if the address was never registered.
func (wd *WalletDirectory) CustodyID(ctx context.Context, walletAddress string) (string, error) {
	id, err := wd.rdb.Get(ctx, walletKey(walletAddress)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrWalletNotFound
		}
		return "", fmt.Errorf("redis: custody id %s: %w", walletAddress, err)
	}
	return id, nil
}

// Register stores the address -> custody id mapping.
func (wd *WalletDirectory) Register(ctx context.Context, walletAddress, custodyID string) error {
	if err := wd.rdb.Set(ctx, walletKey(walletAddress), custodyID, 0).Err(); err != nil {
		return fmt.Errorf("redis: register wallet %s: %w", walletAddress, err)
	}
	return nil
}

var _ domain.WalletDirectory = (*WalletDirectory)(nil)

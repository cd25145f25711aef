package redis

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tiltvault/vaultd/internal/domain"
)

//go:embed scripts/spend.lua
var spendScript string

// SpendTracker enforces hourly and daily USD velocity caps per identity. The
// check and the increment are a single Lua script, so two racing deposits
// cannot both slip under a nearly-full cap.
type SpendTracker struct {
	rdb       *redis.Client
	script    *redis.Script
	hourlyCap float64
	dailyCap  float64
}

// NewSpendTracker creates a SpendTracker with the given caps.
func NewSpendTracker(c *Client, hourlyCap, dailyCap float64) *SpendTracker {
	return &SpendTracker{
		rdb:       c.Underlying(),
		script:    redis.NewScript(spendScript),
		hourlyCap: hourlyCap,
		dailyCap:  dailyCap,
	}
}

// AddSpend admits amountUSD against both windows, or returns false if either
// cap would be exceeded. Rejected spends are not counted.
func (st *SpendTracker) AddSpend(ctx context.Context, identity string, amountUSD float64) (bool, error) {
	keys := []string{
		"velocity:hourly:" + identity,
		"velocity:daily:" + identity,
	}
	ok, err := st.script.Run(ctx, st.rdb, keys, amountUSD, st.hourlyCap, st.dailyCap).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: spend %s: %w", identity, err)
	}
	return ok == 1, nil
}

var _ domain.SpendTracker = (*SpendTracker)(nil)

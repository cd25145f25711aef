package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiltvault/vaultd/internal/domain"
)

// Key TTLs. Claims and payment records outlive any plausible webhook retry
// horizon; the gateway-id mapping only needs to survive webhook delivery.
const (
	claimTTL       = 30 * 24 * time.Hour
	paymentInfoTTL = 30 * 24 * time.Hour
	mappingTTL     = 24 * time.Hour
)

// ClaimLedger implements domain.ClaimLedger on Redis. The execution claim is
// a SET NX with TTL: a single conditional round trip, which is what makes the
// dual-trigger race safe across processes with no shared memory.
//
// Key schema:
//
//	execution_claim:{paymentID}    - JSON ExecutionClaim, written once
//	square_to_frontend:{gatewayID} - internal payment id
//	payment_info:{paymentID}       - JSON PaymentInfo
type ClaimLedger struct {
	rdb *redis.Client
}

// NewClaimLedger creates a ClaimLedger backed by the given Client.
func NewClaimLedger(c *Client) *ClaimLedger {
	return &ClaimLedger{rdb: c.Underlying()}
}

func claimKey(paymentID string) string   { return "execution_claim:" + paymentID }
func mappingKey(gatewayID string) string { return "square_to_frontend:" + gatewayID }
func paymentKey(paymentID string) string { return "payment_info:" + paymentID }

// ClaimExecution attempts the set-if-absent write of the execution claim.
// Exactly one caller per payment id ever receives true, regardless of how
// many instances race on the same key.
func (cl *ClaimLedger) ClaimExecution(ctx context.Context, paymentID string, claimant domain.Claimant) (bool, error) {
	claim := domain.ExecutionClaim{
		PaymentID: paymentID,
		ClaimedBy: claimant,
		ClaimedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(claim)
	if err != nil {
		return false, fmt.Errorf("redis: marshal claim %s: %w", paymentID, err)
	}

	ok, err := cl.rdb.SetNX(ctx, claimKey(paymentID), data, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim execution %s: %w", paymentID, err)
	}
	return ok, nil
}

// GetClaim returns the claim for a payment, or domain.ErrNotFound.
func (cl *ClaimLedger) GetClaim(ctx context.Context, paymentID string) (domain.ExecutionClaim, error) {
	data, err := cl.rdb.Get(ctx, claimKey(paymentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ExecutionClaim{}, domain.ErrNotFound
		}
		return domain.ExecutionClaim{}, fmt.Errorf("redis: get claim %s: %w", paymentID, err)
	}

	var claim domain.ExecutionClaim
	if err := json.Unmarshal(data, &claim); err != nil {
		return domain.ExecutionClaim{}, fmt.Errorf("redis: decode claim %s: %w", paymentID, err)
	}
	return claim, nil
}

// RecordOutcome rewrites the claim with the execution result. Ownership never
// changes; only the outcome field is added.
func (cl *ClaimLedger) RecordOutcome(ctx context.Context, paymentID, outcome string) error {
	claim, err := cl.GetClaim(ctx, paymentID)
	if err != nil {
		return err
	}
	claim.Outcome = outcome

	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("redis: marshal claim %s: %w", paymentID, err)
	}
	// SET XX: only update an existing claim, never create one here.
	if err := cl.rdb.SetXX(ctx, claimKey(paymentID), data, claimTTL).Err(); err != nil {
		return fmt.Errorf("redis: record outcome %s: %w", paymentID, err)
	}
	return nil
}

// MapGatewayID writes the gatewayID -> paymentID mapping. NX keeps the first
// mapping authoritative if both triggers try to write it.
func (cl *ClaimLedger) MapGatewayID(ctx context.Context, gatewayID, paymentID string) error {
	if err := cl.rdb.SetNX(ctx, mappingKey(gatewayID), paymentID, mappingTTL).Err(); err != nil {
		return fmt.Errorf("redis: map gateway id %s: %w", gatewayID, err)
	}
	return nil
}

// ResolveGatewayID returns the internal payment id for a gateway payment id,
// or domain.ErrNotFound if no mapping was ever written.
func (cl *ClaimLedger) ResolveGatewayID(ctx context.Context, gatewayID string) (string, error) {
	paymentID, err := cl.rdb.Get(ctx, mappingKey(gatewayID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: resolve gateway id %s: %w", gatewayID, err)
	}
	return paymentID, nil
}

// PutPaymentInfo stores the pre-charge payment snapshot.
func (cl *ClaimLedger) PutPaymentInfo(ctx context.Context, info domain.PaymentInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal payment info %s: %w", info.PaymentID, err)
	}
	if err := cl.rdb.Set(ctx, paymentKey(info.PaymentID), data, paymentInfoTTL).Err(); err != nil {
		return fmt.Errorf("redis: put payment info %s: %w", info.PaymentID, err)
	}
	return nil
}

// GetPaymentInfo returns the stored snapshot, or domain.ErrNotFound.
func (cl *ClaimLedger) GetPaymentInfo(ctx context.Context, paymentID string) (domain.PaymentInfo, error) {
	data, err := cl.rdb.Get(ctx, paymentKey(paymentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PaymentInfo{}, domain.ErrNotFound
		}
		return domain.PaymentInfo{}, fmt.Errorf("redis: get payment info %s: %w", paymentID, err)
	}

	var info domain.PaymentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.PaymentInfo{}, fmt.Errorf("redis: decode payment info %s: %w", paymentID, err)
	}
	return info, nil
}

// Compile-time interface check.
var _ domain.ClaimLedger = (*ClaimLedger)(nil)

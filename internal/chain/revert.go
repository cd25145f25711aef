package chain

import (
	"strings"

	"github.com/tiltvault/vaultd/internal/domain"
)

// ClassifyRevert turns a revert reason string into a classified payment
// error. Reverts are never retryable: the same transaction replays to the
// same result. The substring match is coarse on purpose; contracts phrase
// reasons differently across versions.
func ClassifyRevert(reason string) *domain.PaymentError {
	lower := strings.ToLower(reason)

	var userMsg string
	switch {
	case strings.Contains(lower, "transfer amount exceeds balance"),
		strings.Contains(lower, "insufficient balance"):
		userMsg = "Wallet balance is insufficient for this deposit"
	case strings.Contains(lower, "insufficient allowance"),
		strings.Contains(lower, "transfer amount exceeds allowance"):
		userMsg = "Token approval is missing; the deposit will be retried"
	case strings.Contains(lower, "insufficient liquidity"),
		strings.Contains(lower, "insufficient_liquidity"):
		userMsg = "The protocol lacks liquidity for this deposit right now"
	case strings.Contains(lower, "transfer failed"),
		strings.Contains(lower, "transfer_failed"):
		userMsg = "Token transfer failed on-chain"
	case strings.Contains(lower, "paused"):
		userMsg = "The on-chain protocol is temporarily paused"
	case strings.Contains(lower, "frozen"):
		userMsg = "The on-chain reserve is temporarily frozen"
	case strings.Contains(lower, "inactive"):
		userMsg = "The on-chain reserve is not accepting deposits"
	case strings.Contains(lower, "invalid amount"),
		strings.Contains(lower, "invalid_amount"):
		userMsg = "Deposit amount is not accepted by the protocol"
	case strings.Contains(lower, "max leverage"),
		strings.Contains(lower, "leverage"):
		userMsg = "Requested leverage exceeds the protocol limit"
	case strings.Contains(lower, "price"):
		userMsg = "Price moved beyond the acceptable range"
	case strings.Contains(lower, "fee"):
		userMsg = "Execution fee was below the protocol minimum"
	}

	if reason == "" {
		reason = "execution reverted with no reason"
	}
	return domain.NewPaymentError(domain.KindContractRevert, reason, userMsg, nil)
}

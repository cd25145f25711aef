package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrAlreadyClaimed         = errors.New("execution already claimed")
	ErrRateLimited            = errors.New("rate limited")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrWalletNotFound         = errors.New("no custody wallet for address")
	ErrInsufficientHubBalance = errors.New("hub wallet balance insufficient")
	ErrMappingMissing         = errors.New("no position resolvable for gateway payment")
)

// ErrorKind classifies a payment failure into one of the actionable buckets.
// The kind decides retry behavior, the HTTP status (when one is still owed to
// the caller), and which alert channel fires.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindRateLimited     ErrorKind = "rate_limited"
	KindGatewayDeclined ErrorKind = "gateway_declined"
	KindGatewayTimeout  ErrorKind = "gateway_timeout"
	KindGatewayConfig   ErrorKind = "gateway_config"
	KindWalletNotFound  ErrorKind = "wallet_not_found"
	KindInsufficientHub ErrorKind = "insufficient_hub_balance"
	KindChainTransient  ErrorKind = "chain_rpc_transient"
	KindContractRevert  ErrorKind = "contract_revert"
	KindMappingMissing  ErrorKind = "mapping_missing"
	KindInternal        ErrorKind = "internal"
)

// PaymentError carries a classified failure through the pipeline. Reason is
// the internal detail (revert substring, gateway error code); UserMessage is
// safe to return to the card holder.
type PaymentError struct {
	Kind        ErrorKind
	Reason      string
	UserMessage string
	Err         error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// NewPaymentError builds a classified error. userMessage may be empty, in
// which case a generic message for the kind is used.
func NewPaymentError(kind ErrorKind, reason, userMessage string, err error) *PaymentError {
	if userMessage == "" {
		userMessage = defaultUserMessage(kind)
	}
	return &PaymentError{Kind: kind, Reason: reason, UserMessage: userMessage, Err: err}
}

func defaultUserMessage(kind ErrorKind) string {
	switch kind {
	case KindValidation:
		return "Invalid request"
	case KindRateLimited:
		return "Too many requests"
	case KindGatewayDeclined:
		return "Payment was declined"
	case KindGatewayTimeout:
		return "Payment service timed out"
	case KindGatewayConfig:
		return "Payment service configuration error"
	case KindWalletNotFound:
		return "Wallet not connected; please sign in again before depositing"
	case KindContractRevert:
		return "This deposit would fail on-chain"
	default:
		return "An internal error occurred"
	}
}

// ErrorKindOf extracts the classified kind from err, unwrapping as needed.
// Unclassified errors report KindInternal.
func ErrorKindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return KindWalletNotFound
	case errors.Is(err, ErrInsufficientHubBalance):
		return KindInsufficientHub
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrMappingMissing):
		return KindMappingMissing
	}
	return KindInternal
}

// IsRetryable reports whether the orchestrator may retry the failed step.
// Only transient chain/RPC failures qualify; reverts repeat identically and
// hub-balance shortfalls need an operator, not a retry loop.
func IsRetryable(err error) bool {
	return ErrorKindOf(err) == KindChainTransient
}

package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABI fragments for the three contracts the pipeline calls. Parsed
// once at package init; a parse failure is a programming error.

const erc20ABIJSON = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"name":"allowance","type":"function","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

const aavePoolABIJSON = `[
	{"name":"supply","type":"function","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]}
]`

const positionRouterABIJSON = `[
	{"name":"createIncreasePosition","type":"function","stateMutability":"payable","inputs":[{"name":"_path","type":"address[]"},{"name":"_indexToken","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_minOut","type":"uint256"},{"name":"_sizeDelta","type":"uint256"},{"name":"_isLong","type":"bool"},{"name":"_acceptablePrice","type":"uint256"},{"name":"_executionFee","type":"uint256"},{"name":"_referralCode","type":"bytes32"},{"name":"_callbackTarget","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"name":"increasePositionsIndex","type":"function","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

var (
	erc20ABI          = mustParseABI(erc20ABIJSON)
	aavePoolABI       = mustParseABI(aavePoolABIJSON)
	positionRouterABI = mustParseABI(positionRouterABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// PackTransfer builds ERC-20 transfer calldata.
func PackTransfer(to string, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return nil, fmt.Errorf("chain: pack transfer: %w", err)
	}
	return data, nil
}

// PackApprove builds ERC-20 approve calldata.
func PackApprove(spender string, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return nil, fmt.Errorf("chain: pack approve: %w", err)
	}
	return data, nil
}

// PackBalanceOf builds ERC-20 balanceOf calldata.
func PackBalanceOf(owner string) ([]byte, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	return data, nil
}

// PackAllowance builds ERC-20 allowance calldata.
func PackAllowance(owner, spender string) ([]byte, error) {
	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance: %w", err)
	}
	return data, nil
}

// PackSupply builds lending-pool supply calldata. onBehalfOf receives the
// interest-bearing tokens.
func PackSupply(asset string, amount *big.Int, onBehalfOf string) ([]byte, error) {
	data, err := aavePoolABI.Pack("supply",
		common.HexToAddress(asset), amount, common.HexToAddress(onBehalfOf), uint16(0))
	if err != nil {
		return nil, fmt.Errorf("chain: pack supply: %w", err)
	}
	return data, nil
}

// IncreasePositionParams are the inputs to a perp router increase order.
type IncreasePositionParams struct {
	// Path is the swap path; a single collateral token means no swap.
	Path       []string
	IndexToken string
	// AmountIn is collateral in the collateral token's smallest unit.
	AmountIn *big.Int
	MinOut   *big.Int
	// SizeDelta is position size in the router's 30-decimal USD units.
	SizeDelta *big.Int
	IsLong    bool
	// AcceptablePrice bounds slippage on the fill.
	AcceptablePrice *big.Int
	// ExecutionFee is forwarded as the transaction value.
	ExecutionFee *big.Int
}

// PackCreateIncreasePosition builds router calldata for an increase order.
func PackCreateIncreasePosition(p IncreasePositionParams) ([]byte, error) {
	path := make([]common.Address, len(p.Path))
	for i, a := range p.Path {
		path[i] = common.HexToAddress(a)
	}
	data, err := positionRouterABI.Pack("createIncreasePosition",
		path,
		common.HexToAddress(p.IndexToken),
		p.AmountIn,
		p.MinOut,
		p.SizeDelta,
		p.IsLong,
		p.AcceptablePrice,
		p.ExecutionFee,
		[32]byte{},
		common.Address{},
	)
	if err != nil {
		return nil, fmt.Errorf("chain: pack createIncreasePosition: %w", err)
	}
	return data, nil
}

// PackIncreasePositionsIndex builds the read that returns the account's
// current order index, used to derive the request key after submission.
func PackIncreasePositionsIndex(account string) ([]byte, error) {
	data, err := positionRouterABI.Pack("increasePositionsIndex", common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("chain: pack increasePositionsIndex: %w", err)
	}
	return data, nil
}

// RequestKey derives the router's order request key for (account, index),
// matching the contract's keccak256(abi.encodePacked(account, index)).
func RequestKey(account string, index *big.Int) string {
	indexBytes := make([]byte, 32)
	index.FillBytes(indexBytes)
	key := crypto.Keccak256(common.HexToAddress(account).Bytes(), indexBytes)
	return "0x" + common.Bytes2Hex(key)
}

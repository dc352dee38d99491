// Package contracts holds the ABIs of the tier registry and the ERC-20 payment token.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pro-subscriber/internal/types"
)

// Method names
const (
	MethodTierInfo     = "tierInfo"
	MethodPrice        = "price"
	MethodPurchaseTier = "purchaseTier"
	MethodApprove      = "approve"
	MethodTransfer     = "transfer"
	MethodDecimals     = "decimals"
)

const tierRegistryJSON = `[
  {"type":"function","name":"tierInfo","stateMutability":"view",
   "inputs":[{"name":"tier","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"minDays","type":"uint256"},
     {"name":"maxDays","type":"uint256"},
     {"name":"paymentToken","type":"address"},
     {"name":"tokenPricePerDay","type":"uint256"},
     {"name":"vault","type":"address"},
     {"name":"isActive","type":"bool"}]}]},
  {"type":"function","name":"price","stateMutability":"view",
   "inputs":[{"name":"tier","type":"uint256"},{"name":"forDays","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"purchaseTier","stateMutability":"nonpayable",
   "inputs":[{"name":"fid","type":"uint256"},{"name":"tier","type":"uint256"},{"name":"forDays","type":"uint256"}],
   "outputs":[]}
]`

const erc20JSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint8"}]}
]`

var (
	// TierRegistryABI is the parsed tier registry ABI
	TierRegistryABI = mustParse(tierRegistryJSON)
	// ERC20ABI is the parsed subset of the ERC-20 ABI used for payment
	ERC20ABI = mustParse(erc20JSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// tierInfoTuple mirrors the registry's tuple output
type tierInfoTuple struct {
	MinDays          *big.Int
	MaxDays          *big.Int
	PaymentToken     common.Address
	TokenPricePerDay *big.Int
	Vault            common.Address
	IsActive         bool
}

// DecodeTierInfo decodes the return data of tierInfo
func DecodeTierInfo(data []byte) (*types.TierInfo, error) {
	out, err := TierRegistryABI.Unpack(MethodTierInfo, data)
	if err != nil {
		return nil, fmt.Errorf("unpack tierInfo: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack tierInfo: expected 1 value, got %d", len(out))
	}

	raw := *abi.ConvertType(out[0], new(tierInfoTuple)).(*tierInfoTuple)
	if !raw.MinDays.IsUint64() || !raw.MaxDays.IsUint64() {
		return nil, fmt.Errorf("unpack tierInfo: day bounds out of range")
	}

	return &types.TierInfo{
		MinDays:          raw.MinDays.Uint64(),
		MaxDays:          raw.MaxDays.Uint64(),
		PaymentToken:     raw.PaymentToken,
		TokenPricePerDay: raw.TokenPricePerDay,
		Vault:            raw.Vault,
		IsActive:         raw.IsActive,
	}, nil
}

// EncodeTierInfo encodes a tierInfo return value; used by in-memory contract backends
func EncodeTierInfo(info *types.TierInfo) ([]byte, error) {
	price := info.TokenPricePerDay
	if price == nil {
		price = new(big.Int)
	}
	return TierRegistryABI.Methods[MethodTierInfo].Outputs.Pack(tierInfoTuple{
		MinDays:          new(big.Int).SetUint64(info.MinDays),
		MaxDays:          new(big.Int).SetUint64(info.MaxDays),
		PaymentToken:     info.PaymentToken,
		TokenPricePerDay: price,
		Vault:            info.Vault,
		IsActive:         info.IsActive,
	})
}

// DecodePrice decodes the return data of price
func DecodePrice(data []byte) (*big.Int, error) {
	var price *big.Int
	if err := TierRegistryABI.UnpackIntoInterface(&price, MethodPrice, data); err != nil {
		return nil, fmt.Errorf("unpack price: %w", err)
	}
	return price, nil
}

// DecodeDecimals decodes the return data of decimals
func DecodeDecimals(data []byte) (uint8, error) {
	var decimals uint8
	if err := ERC20ABI.UnpackIntoInterface(&decimals, MethodDecimals, data); err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	return decimals, nil
}

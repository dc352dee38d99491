package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pro-subscriber/internal/types"
)

func TestTierInfoCodec(t *testing.T) {
	info := &types.TierInfo{
		MinDays:          30,
		MaxDays:          365,
		PaymentToken:     common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		TokenPricePerDay: big.NewInt(316666),
		Vault:            common.HexToAddress("0x0000000000000000000000000000000000000abc"),
		IsActive:         true,
	}

	data, err := EncodeTierInfo(info)
	require.NoError(t, err)

	decoded, err := DecodeTierInfo(data)
	require.NoError(t, err)
	assert.Equal(t, info.MinDays, decoded.MinDays)
	assert.Equal(t, info.MaxDays, decoded.MaxDays)
	assert.Equal(t, info.PaymentToken, decoded.PaymentToken)
	assert.Equal(t, 0, info.TokenPricePerDay.Cmp(decoded.TokenPricePerDay))
	assert.Equal(t, info.Vault, decoded.Vault)
	assert.True(t, decoded.IsActive)
}

func TestDecodeTierInfoRejectsShortData(t *testing.T) {
	_, err := DecodeTierInfo([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodePriceAndDecimals(t *testing.T) {
	priceData, err := TierRegistryABI.Methods[MethodPrice].Outputs.Pack(big.NewInt(9_500_000))
	require.NoError(t, err)
	price, err := DecodePrice(priceData)
	require.NoError(t, err)
	assert.Equal(t, int64(9_500_000), price.Int64())

	decData, err := ERC20ABI.Methods[MethodDecimals].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	decimals, err := DecodeDecimals(decData)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)
}

func TestMethodSelectors(t *testing.T) {
	assert.Equal(t, "095ea7b3", common.Bytes2Hex(ERC20ABI.Methods[MethodApprove].ID))
	assert.Equal(t, "a9059cbb", common.Bytes2Hex(ERC20ABI.Methods[MethodTransfer].ID))
	assert.Equal(t, "313ce567", common.Bytes2Hex(ERC20ABI.Methods[MethodDecimals].ID))
}

package txbuilder

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pro-subscriber/internal/contracts"
	"github.com/pro-subscriber/internal/types"
)

var (
	registry = common.HexToAddress("0x00000000fc84484d585C3cF48d213424DFDE43FD")
	usdc     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	operator = common.HexToAddress("0x06e5B0fd556e8dF43BC45f8343945Fb12C6C3E90")
)

func testIntent(payer, beneficiary types.FID, base int64) *types.PurchaseIntent {
	return &types.PurchaseIntent{
		Payer:       payer,
		Beneficiary: beneficiary,
		Quote:       types.NewQuote(1, 30, big.NewInt(base), big.NewInt(500_000), 6, usdc),
	}
}

func unpack(t *testing.T, method string, data []byte) []interface{} {
	t.Helper()
	var m = contracts.ERC20ABI.Methods[method]
	if method == contracts.MethodPurchaseTier {
		m = contracts.TierRegistryABI.Methods[method]
	}
	require.True(t, bytes.Equal(m.ID, data[:4]), "selector mismatch for %s", method)
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return args
}

func TestBuildConcreteScenario(t *testing.T) {
	b := NewBuilder(registry, operator)

	batch, err := b.Build(testIntent(100, 200, 9_500_000))
	require.NoError(t, err)

	assert.Equal(t, usdc, batch[0].To)
	approve := unpack(t, contracts.MethodApprove, batch[0].Data)
	assert.Equal(t, registry, approve[0])
	assert.Equal(t, int64(10_000_000), approve[1].(*big.Int).Int64())

	assert.Equal(t, registry, batch[1].To)
	purchase := unpack(t, contracts.MethodPurchaseTier, batch[1].Data)
	assert.Equal(t, int64(200), purchase[0].(*big.Int).Int64())
	assert.Equal(t, int64(1), purchase[1].(*big.Int).Int64())
	assert.Equal(t, int64(30), purchase[2].(*big.Int).Int64())

	assert.Equal(t, usdc, batch[2].To)
	transfer := unpack(t, contracts.MethodTransfer, batch[2].Data)
	assert.Equal(t, operator, transfer[0])
	assert.Equal(t, int64(500_000), transfer[1].(*big.Int).Int64())

	for _, c := range batch.Calls() {
		assert.Equal(t, 0, c.Value.Sign())
	}
}

func TestBuildSelfPurchaseTargetsPayer(t *testing.T) {
	b := NewBuilder(registry, operator)

	batch, err := b.Build(testIntent(100, 100, 1))
	require.NoError(t, err)

	purchase := unpack(t, contracts.MethodPurchaseTier, batch[1].Data)
	assert.Equal(t, int64(100), purchase[0].(*big.Int).Int64())
}

func TestBuildRequiresQuote(t *testing.T) {
	_, err := NewBuilder(registry, operator).Build(&types.PurchaseIntent{Payer: 1, Beneficiary: 1})
	assert.Error(t, err)
}

func TestBuildDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	b := NewBuilder(registry, operator)

	properties.Property("identical intents yield byte-identical batches", prop.ForAll(
		func(payer, beneficiary int64, base int64) bool {
			first, err1 := b.Build(testIntent(types.FID(payer), types.FID(beneficiary), base))
			second, err2 := b.Build(testIntent(types.FID(payer), types.FID(beneficiary), base))
			if err1 != nil || err2 != nil {
				return false
			}
			for i := range first {
				if first[i].To != second[i].To || !bytes.Equal(first[i].Data, second[i].Data) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(0, 1<<50),
	))

	properties.Property("approval always covers the total cost", prop.ForAll(
		func(base int64) bool {
			intent := testIntent(1, 2, base)
			batch, err := b.Build(intent)
			if err != nil {
				return false
			}
			args, err := contracts.ERC20ABI.Methods[contracts.MethodApprove].Inputs.Unpack(batch[0].Data[4:])
			if err != nil {
				return false
			}
			return args[1].(*big.Int).Cmp(intent.Quote.TotalCost) == 0
		},
		gen.Int64Range(0, 1<<50),
	))

	properties.TestingRun(t)
}

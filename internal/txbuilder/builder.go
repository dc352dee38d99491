// Package txbuilder encodes a purchase intent into the approve, purchase and fee-transfer call batch.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pro-subscriber/internal/contracts"
	"github.com/pro-subscriber/internal/types"
)

// Builder builds call batches against one registry and fee recipient
type Builder struct {
	registry     common.Address
	feeRecipient common.Address
}

// NewBuilder creates a builder
func NewBuilder(registry, feeRecipient common.Address) *Builder {
	return &Builder{registry: registry, feeRecipient: feeRecipient}
}

// Registry returns the registry address the batch purchases from
func (b *Builder) Registry() common.Address {
	return b.registry
}

// Build emits [approve(registry, totalCost), purchaseTier(beneficiary, tierId, days), transfer(feeRecipient, fixedFee)].
// The intent must already have passed eligibility and identity checks.
func (b *Builder) Build(intent *types.PurchaseIntent) (types.CallBatch, error) {
	var batch types.CallBatch
	q := intent.Quote
	if q == nil {
		return batch, fmt.Errorf("purchase intent has no quote")
	}

	approve, err := contracts.ERC20ABI.Pack(contracts.MethodApprove, b.registry, q.TotalCost)
	if err != nil {
		return batch, fmt.Errorf("encode approve: %w", err)
	}

	purchase, err := contracts.TierRegistryABI.Pack(contracts.MethodPurchaseTier,
		big.NewInt(int64(intent.Beneficiary)),
		new(big.Int).SetUint64(q.TierID),
		new(big.Int).SetUint64(q.Days),
	)
	if err != nil {
		return batch, fmt.Errorf("encode purchaseTier: %w", err)
	}

	transfer, err := contracts.ERC20ABI.Pack(contracts.MethodTransfer, b.feeRecipient, q.FixedFee)
	if err != nil {
		return batch, fmt.Errorf("encode transfer: %w", err)
	}

	batch[0] = types.Call{To: q.PaymentToken, Data: approve, Value: new(big.Int)}
	batch[1] = types.Call{To: b.registry, Data: purchase, Value: new(big.Int)}
	batch[2] = types.Call{To: q.PaymentToken, Data: transfer, Value: new(big.Int)}

	return batch, nil
}

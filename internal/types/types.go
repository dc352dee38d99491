// Package types provides the shared data model for the Pro subscription purchase flow.
package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FID is the numeric identity of a participant in the host social network
type FID int64

// Valid reports whether the identity can be used as a payer or beneficiary
func (f FID) Valid() bool {
	return f > 0
}

// LifecycleState represents the purchase lifecycle state
type LifecycleState string

const (
	// StateDisconnected means no wallet account is connected
	StateDisconnected LifecycleState = "disconnected"
	// StateWrongNetwork means the wallet is connected to a different chain
	StateWrongNetwork LifecycleState = "wrong_network"
	// StateReady means a purchase can be submitted
	StateReady LifecycleState = "ready"
	// StateAwaitingConfirmation means a batch has been handed to the wallet
	StateAwaitingConfirmation LifecycleState = "awaiting_confirmation"
	// StateSuccess means the last submitted batch was confirmed
	StateSuccess LifecycleState = "success"
	// StateFailed means the last submitted batch was rejected or failed
	StateFailed LifecycleState = "failed"
)

// Terminal reports whether the state is an outcome snapshot
func (s LifecycleState) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// TierInfo is the tier metadata returned by the registry contract
type TierInfo struct {
	MinDays          uint64         `json:"minDays"`
	MaxDays          uint64         `json:"maxDays"`
	PaymentToken     common.Address `json:"paymentToken"`
	TokenPricePerDay *big.Int       `json:"tokenPricePerDay"`
	Vault            common.Address `json:"vault"`
	IsActive         bool           `json:"isActive"`
}

// Quote is the derived total cost for a purchase at current on-chain prices.
// All amounts are in the payment token's minor units.
type Quote struct {
	TierID        uint64         `json:"tierId"`
	Days          uint64         `json:"days"`
	BasePrice     *big.Int       `json:"basePrice"`
	FixedFee      *big.Int       `json:"fixedFee"`
	TotalCost     *big.Int       `json:"totalCost"`
	TokenDecimals uint8          `json:"tokenDecimals"`
	PaymentToken  common.Address `json:"paymentToken"`
}

// NewQuote builds a quote from the three source reads and the fixed fee
func NewQuote(tierID, days uint64, basePrice, fixedFee *big.Int, decimals uint8, token common.Address) *Quote {
	base := new(big.Int).Set(basePrice)
	fee := new(big.Int).Set(fixedFee)
	return &Quote{
		TierID:        tierID,
		Days:          days,
		BasePrice:     base,
		FixedFee:      fee,
		TotalCost:     new(big.Int).Add(base, fee),
		TokenDecimals: decimals,
		PaymentToken:  token,
	}
}

// Display renders the total cost in whole token units, e.g. "10 USDC"
func (q *Quote) Display(symbol string) string {
	amount := decimal.NewFromBigInt(q.TotalCost, -int32(q.TokenDecimals))
	return fmt.Sprintf("%s %s", amount.String(), symbol)
}

// PurchaseIntent is a validated request to buy a tier for a beneficiary
type PurchaseIntent struct {
	Payer       FID    `json:"payer"`
	Beneficiary FID    `json:"beneficiary"`
	Quote       *Quote `json:"quote"`
}

// IsGift reports whether the purchase is for someone other than the payer
func (i *PurchaseIntent) IsGift() bool {
	return i.Beneficiary != i.Payer
}

// Call is a single contract call inside a batch
type Call struct {
	To    common.Address `json:"to"`
	Data  []byte         `json:"data"`
	Value *big.Int       `json:"value"`
}

// CallBatch is the ordered set of calls submitted as one user action:
// approve, purchaseTier, fee transfer.
type CallBatch [3]Call

// Calls returns the batch as a slice in submission order
func (b CallBatch) Calls() []Call {
	return b[:]
}

// CallsStatus is the wallet-reported status of a submitted batch
type CallsStatus string

const (
	// CallsPending means the batch has not been included yet
	CallsPending CallsStatus = "pending"
	// CallsConfirmed means every call was included successfully
	CallsConfirmed CallsStatus = "confirmed"
	// CallsFailed means the batch failed off-chain or was not included
	CallsFailed CallsStatus = "failed"
	// CallsReverted means the batch was included but reverted
	CallsReverted CallsStatus = "reverted"
	// CallsPartial means some calls were included and some were not
	CallsPartial CallsStatus = "partial"
)

// BatchStatus is the result of polling a submitted batch
type BatchStatus struct {
	ID     string       `json:"id"`
	Status CallsStatus  `json:"status"`
	TxHash *common.Hash `json:"txHash,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// ExpiryView is the calendar-correct decomposition of the remaining subscription time
type ExpiryView struct {
	Years   int `json:"years"`
	Months  int `json:"months"`
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Profile holds display-only profile fields
type Profile struct {
	FID         FID    `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

// ProStatus is the subscription status returned by the status endpoint
type ProStatus struct {
	ExpiresAt int64 `json:"expires_at"`
}

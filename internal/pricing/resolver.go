// Package pricing resolves tier eligibility and the total cost of a purchase from on-chain reads.
package pricing

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/pro-subscriber/internal/errors"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/types"
)

// Reader is the on-chain read capability the resolver depends on
type Reader interface {
	TierInfo(ctx context.Context, tierID uint64) (*types.TierInfo, error)
	Price(ctx context.Context, tierID, days uint64) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Resolver derives a Quote from tier metadata, token decimals and the base price
type Resolver struct {
	reader     Reader
	stablecoin common.Address
	fixedFee   *big.Int
}

// NewResolver creates a resolver that accepts tiers priced in stablecoin and adds fixedFee
func NewResolver(reader Reader, stablecoin common.Address, fixedFee *big.Int) *Resolver {
	return &Resolver{
		reader:     reader,
		stablecoin: stablecoin,
		fixedFee:   new(big.Int).Set(fixedFee),
	}
}

// FixedFee returns a copy of the configured fee
func (r *Resolver) FixedFee() *big.Int {
	return new(big.Int).Set(r.fixedFee)
}

// Resolve reads the tier and, if it is eligible, its decimals and price for days.
// Any failed read yields ReadFailed and no quote.
func (r *Resolver) Resolve(ctx context.Context, tierID, days uint64) (*types.Quote, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"tierId": tierID,
		"days":   days,
	})

	info, err := r.reader.TierInfo(ctx, tierID)
	if err != nil {
		logger.WithError(err).Warn("Failed to read tier info")
		return nil, errors.NewReadFailedError(errors.SourceTierInfo, err)
	}

	if err := r.checkEligibility(tierID, days, info); err != nil {
		logger.WithField("reason", err.Reason).Info("Tier not eligible")
		return nil, err
	}

	var (
		decimals uint8
		price    *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := r.reader.Decimals(gctx, info.PaymentToken)
		if err != nil {
			return errors.NewReadFailedError(errors.SourceDecimals, err)
		}
		decimals = d
		return nil
	})
	g.Go(func() error {
		p, err := r.reader.Price(gctx, tierID, days)
		if err != nil {
			return errors.NewReadFailedError(errors.SourcePrice, err)
		}
		if p == nil {
			return errors.NewReadFailedError(errors.SourcePrice, nil)
		}
		price = p
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Warn("Failed to resolve quote")
		return nil, err
	}

	quote := types.NewQuote(tierID, days, price, r.fixedFee, decimals, info.PaymentToken)
	logger.WithFields(map[string]interface{}{
		"basePrice": quote.BasePrice.String(),
		"totalCost": quote.TotalCost.String(),
		"decimals":  decimals,
	}).Debug("Quote resolved")

	return quote, nil
}

func (r *Resolver) checkEligibility(tierID, days uint64, info *types.TierInfo) *errors.OrchestrationError {
	if !info.IsActive {
		return errors.NewTierIneligibleError(tierID, errors.ReasonInactive)
	}
	if !strings.EqualFold(info.PaymentToken.Hex(), r.stablecoin.Hex()) {
		return errors.NewTierIneligibleError(tierID, errors.ReasonWrongToken)
	}
	// a zero upper bound means the registry does not restrict duration
	if info.MaxDays > 0 && (days < info.MinDays || days > info.MaxDays) {
		return errors.NewTierIneligibleError(tierID, errors.ReasonDuration)
	}
	return nil
}

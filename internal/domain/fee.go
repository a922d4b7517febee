package domain

import (
	"fmt"
	"math/big"
)

// FeePolicy holds the marketplace charges. ListingPrice is a flat wei amount
// paid on every listing; CommissionPercent is retained from each sale.
type FeePolicy struct {
	ListingPrice      *big.Int
	CommissionPercent uint8
}

// Validate checks the policy bounds.
func (p FeePolicy) Validate() error {
	if p.ListingPrice == nil || p.ListingPrice.Sign() < 0 {
		return fmt.Errorf("%w: listing price must be a non-negative amount", ErrInvalidArgument)
	}
	if p.CommissionPercent > 100 {
		return fmt.Errorf("%w: commission percent %d exceeds 100", ErrInvalidArgument, p.CommissionPercent)
	}
	return nil
}

// Split is the division of a sale payment between the administrator and the
// seller. Commission + Proceeds always equals the price.
type Split struct {
	Commission *big.Int
	Proceeds   *big.Int
}

// SplitCommission computes floor(price*percent/100) as commission and gives
// the remainder, including any truncation, to the seller.
func SplitCommission(price *big.Int, percent uint8) Split {
	commission := new(big.Int).Mul(price, big.NewInt(int64(percent)))
	commission.Quo(commission, big.NewInt(100))
	return Split{
		Commission: commission,
		Proceeds:   new(big.Int).Sub(price, commission),
	}
}

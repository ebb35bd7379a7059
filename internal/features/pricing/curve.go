package pricing

// Goldilend bonding-curve math. Pure functions, no I/O.
//
// The curve maps the two contract reserves (FSL - floor support
// liquidity, PSL - premium support liquidity) and the swap token
// supply to a floor price and a market price:
//
//	floor  = fsl / supply
//	market = floor + (psl/supply) * ((psl+fsl)/fsl)^6
//
// The exponent 6 is part of the deployed model and must not be
// changed. Degenerate inputs (zero supply, zero FSL) saturate to 0
// instead of dividing by zero.

import "math"

// PriceKind selects how "the token's price" is derived from the curve.
// The PRG deployment reports the premium over floor, the LOCKS
// deployment reports the market price directly. Both stay available;
// the two definitions are selected per tracked token.
type PriceKind string

const (
	// PriceKindPremium reports market - floor.
	PriceKindPremium PriceKind = "premium"
	// PriceKindMarket reports the market price directly.
	PriceKindMarket PriceKind = "market"
)

// FloorPrice returns fsl/supply, or 0 when supply is zero.
func FloorPrice(fsl, supply float64) float64 {
	if supply == 0 {
		return 0
	}
	return fsl / supply
}

// MarketPrice returns the bonding-curve market price, or 0 when
// supply or fsl is zero.
func MarketPrice(fsl, psl, supply float64) float64 {
	if supply == 0 {
		return 0
	}
	floor := FloorPrice(fsl, supply)
	if fsl == 0 {
		return 0
	}
	return floor + (psl/supply)*math.Pow((psl+fsl)/fsl, 6)
}

// TokenPrice derives the displayed price for the given kind.
func TokenPrice(kind PriceKind, fsl, psl, supply float64) float64 {
	market := MarketPrice(fsl, psl, supply)
	if kind == PriceKindPremium {
		return market - FloorPrice(fsl, supply)
	}
	return market
}

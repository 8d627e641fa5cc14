package router

import (
	"math"
	"math/big"
)

const (
	feeNumerator   = 997
	feeDenominator = 1000
)

var (
	bigFeeNumerator   = big.NewInt(feeNumerator)
	bigFeeDenominator = big.NewInt(feeDenominator)
	lnFee             = math.Log(feeNumerator) - math.Log(feeDenominator)
)

// GetAmountOut returns the output of a UniswapV2 swap with the 0.3% fee:
//
//	amountOut = amountIn*reserveOut*997 / (reserveIn*1000 + amountIn*997)
//
// The division is floored, as on chain. A pool with an empty side yields zero.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int), nil
	}

	amountInWithFee := new(big.Int).Mul(amountIn, bigFeeNumerator)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, bigFeeDenominator)
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator), nil
}

// logRate is ln(997*reserveOut / (1000*reserveIn)), the log of the marginal
// price of a swap through the pool after the fee.
func logRate(reserveIn, reserveOut *big.Int) float64 {
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return math.Inf(-1)
	}
	return lnFee + logBig(reserveOut) - logBig(reserveIn)
}

// logBig is the natural logarithm of a positive integer of any size.
func logBig(x *big.Int) float64 {
	f := new(big.Float).SetInt(x)
	mant := new(big.Float)
	exp := f.MantExp(mant)
	m, _ := mant.Float64()
	return math.Log(m) + float64(exp)*math.Ln2
}

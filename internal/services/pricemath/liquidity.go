package pricemath

import (
	"math/big"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

// EstimateAmountIn is the closed-form input needed to move the pool from
// sqrtCurrent to sqrtTarget assuming liquidity stays constant:
//
//	up:   L * (sqrtTarget - sqrtCurrent) / 2^96                          (token1 in)
//	down: L * 2^96 * (sqrtCurrent - sqrtTarget) / (sqrtCurrent * sqrtTarget) (token0 in)
//
// Positive results are rounded up so the estimate never falls short. The
// differences are signed, so a target on the wrong side yields a value <= 0.
func EstimateAmountIn(sqrtCurrent, sqrtTarget, liquidity *big.Int, dir domain.Direction) *big.Int {
	if sqrtCurrent == nil || sqrtTarget == nil || liquidity == nil ||
		sqrtCurrent.Sign() <= 0 || sqrtTarget.Sign() <= 0 {
		return new(big.Int)
	}

	switch dir {
	case domain.DirectionUp:
		delta := new(big.Int).Sub(sqrtTarget, sqrtCurrent)
		return divCeil(delta.Mul(delta, liquidity), Q96)
	case domain.DirectionDown:
		delta := new(big.Int).Sub(sqrtCurrent, sqrtTarget)
		num := delta.Mul(delta, liquidity)
		num.Mul(num, Q96)
		return divCeil(num, new(big.Int).Mul(sqrtCurrent, sqrtTarget))
	default:
		return new(big.Int)
	}
}

// divCeil divides in place, rounding positive quotients up.
func divCeil(num, den *big.Int) *big.Int {
	if num.Sign() <= 0 {
		return num.Quo(num, den)
	}
	num.Add(num, den)
	num.Sub(num, big.NewInt(1))
	return num.Quo(num, den)
}

// DirectionOf returns the move needed to go from current to target, or false when they are equal.
func DirectionOf(sqrtCurrent, sqrtTarget *big.Int) (domain.Direction, bool) {
	switch sqrtTarget.Cmp(sqrtCurrent) {
	case 1:
		return domain.DirectionUp, true
	case -1:
		return domain.DirectionDown, true
	default:
		return "", false
	}
}

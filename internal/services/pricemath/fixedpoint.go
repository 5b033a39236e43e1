// Package pricemath converts between Q64.96 square-root prices and decimal prices.
package pricemath

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

const (
	// PriceScale decimal places kept by ToDecimalPrice.
	PriceScale = 36
	// sqrtScaleDigits extra decimal digits applied before the integer square root.
	sqrtScaleDigits = 18
)

var (
	// Q96 is 2^96.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Q192 is 2^192.
	Q192 = new(big.Int).Lsh(big.NewInt(1), 192)

	// MinSqrtRatio and MaxSqrtRatio bound sqrtPriceX96 for any initialized pool.
	MinSqrtRatio    = big.NewInt(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ten = big.NewInt(10)
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(n), nil)
}

// ToDecimalPrice returns the token1-per-token0 price adjusted for decimals:
// (sqrtPriceX96 / 2^96)^2 * 10^(dec0 - dec1).
// The square is taken on integers; the only rounding is the final division.
func ToDecimalPrice(sqrtPriceX96 *big.Int, dec0, dec1 uint8) decimal.Decimal {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero
	}

	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	num.Mul(num, pow10(int64(dec0)))
	den := new(big.Int).Mul(Q192, pow10(int64(dec1)))

	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), PriceScale)
}

// ToSqrtPriceX96 is the inverse of ToDecimalPrice.
// The price is turned into an exact integer fraction, scaled by 2^192 and 10^18,
// and the root is taken with big.Int.Sqrt before removing the 10^9 extra factor.
func ToSqrtPriceX96(price decimal.Decimal, dec0, dec1 uint8) (*big.Int, error) {
	if !price.IsPositive() {
		return nil, errors.Wrapf(domain.ErrInvalidTarget, "price must be positive, got %s", price)
	}

	// price = coef * 10^exp; raw = price * 10^(dec1 - dec0)
	coef := price.Coefficient()
	exp := int64(price.Exponent())

	numExp := int64(dec1) + sqrtScaleDigits
	denExp := int64(dec0)
	if exp >= 0 {
		numExp += exp
	} else {
		denExp -= exp
	}

	// multiply before dividing so negative exponents never truncate early
	num := new(big.Int).Mul(coef, Q192)
	num.Mul(num, pow10(numExp))
	scaled := num.Quo(num, pow10(denExp))

	root := new(big.Int).Sqrt(scaled)
	root.Quo(root, pow10(sqrtScaleDigits/2))

	if root.Cmp(MinSqrtRatio) < 0 || root.Cmp(MaxSqrtRatio) >= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidTarget, "price %s is outside the representable range", price)
	}

	return root, nil
}

// ToUnits converts a human amount to integer token units, truncating dust.
func ToUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromUnits converts integer token units to a human amount.
func FromUnits(units *big.Int, decimals uint8) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}

// Invert returns 1/price at PriceScale, zero for a zero price.
func Invert(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(price, PriceScale)
}

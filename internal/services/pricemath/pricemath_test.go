package pricemath

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

func TestToDecimalPrice(t *testing.T) {
	t.Run("unit price with equal decimals", func(t *testing.T) {
		got := ToDecimalPrice(Q96, 18, 18)
		require.True(t, decimal.NewFromInt(1).Equal(got), "got %s", got)
	})

	t.Run("decimal difference scales the price", func(t *testing.T) {
		got := ToDecimalPrice(Q96, 18, 6)
		require.True(t, decimal.New(1, 12).Equal(got), "got %s", got)

		got = ToDecimalPrice(Q96, 6, 18)
		require.True(t, decimal.New(1, -12).Equal(got), "got %s", got)
	})

	t.Run("doubling the root quadruples the price", func(t *testing.T) {
		got := ToDecimalPrice(new(big.Int).Lsh(Q96, 1), 8, 8)
		require.True(t, decimal.NewFromInt(4).Equal(got), "got %s", got)
	})

	t.Run("zero and nil", func(t *testing.T) {
		assert.True(t, ToDecimalPrice(nil, 18, 18).IsZero())
		assert.True(t, ToDecimalPrice(big.NewInt(0), 18, 18).IsZero())
	})
}

func TestToSqrtPriceX96_RoundTrip(t *testing.T) {
	tolerance := decimal.New(1, -6)

	cases := []struct {
		price      string
		dec0, dec1 uint8
	}{
		{"1", 18, 18},
		{"3012.456789", 18, 6},
		{"0.000331956", 6, 18},
		{"1500", 18, 18},
		{"0.0000001234", 18, 18},
		{"98765.4321", 8, 6},
		{"612.5", 18, 18},
		{"1.0001", 6, 6},
		{"0.5", 18, 8},
	}

	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			p := decimal.RequireFromString(tc.price)

			sqrt, err := ToSqrtPriceX96(p, tc.dec0, tc.dec1)
			require.NoError(t, err)

			back := ToDecimalPrice(sqrt, tc.dec0, tc.dec1)
			relErr := back.Sub(p).Div(p).Abs()
			require.True(t, relErr.LessThan(tolerance), "price %s came back as %s (rel err %s)", p, back, relErr)
		})
	}
}

func TestToSqrtPriceX96_Invalid(t *testing.T) {
	_, err := ToSqrtPriceX96(decimal.Zero, 18, 18)
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = ToSqrtPriceX96(decimal.NewFromInt(-5), 18, 18)
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = ToSqrtPriceX96(decimal.New(1, 60), 18, 18)
	require.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestToSqrtPriceX96_Exact(t *testing.T) {
	sqrt, err := ToSqrtPriceX96(decimal.NewFromInt(1), 18, 18)
	require.NoError(t, err)
	require.Equal(t, 0, sqrt.Cmp(Q96))

	sqrt, err = ToSqrtPriceX96(decimal.NewFromInt(4), 18, 18)
	require.NoError(t, err)
	require.Equal(t, 0, sqrt.Cmp(new(big.Int).Lsh(Q96, 1)))
}

func TestEstimateAmountIn(t *testing.T) {
	liquidity := big.NewInt(1_000_000_000_000_000_000)
	double := new(big.Int).Lsh(Q96, 1)

	t.Run("up", func(t *testing.T) {
		got := EstimateAmountIn(Q96, double, liquidity, domain.DirectionUp)
		require.Equal(t, 0, got.Cmp(liquidity), "got %s", got)
	})

	t.Run("down", func(t *testing.T) {
		got := EstimateAmountIn(double, Q96, liquidity, domain.DirectionDown)
		want := new(big.Int).Quo(liquidity, big.NewInt(2))
		require.Equal(t, 0, got.Cmp(want), "got %s", got)
	})

	t.Run("wrong side is not positive", func(t *testing.T) {
		got := EstimateAmountIn(double, Q96, liquidity, domain.DirectionUp)
		require.True(t, got.Sign() < 0)

		got = EstimateAmountIn(Q96, double, liquidity, domain.DirectionDown)
		require.True(t, got.Sign() < 0)
	})

	t.Run("rounds up", func(t *testing.T) {
		next := new(big.Int).Add(Q96, big.NewInt(1))
		one := big.NewInt(1)

		require.Equal(t, 0, EstimateAmountIn(Q96, next, one, domain.DirectionUp).Cmp(one))
		require.Equal(t, 0, EstimateAmountIn(next, Q96, one, domain.DirectionDown).Cmp(one))
	})

	t.Run("target already reached", func(t *testing.T) {
		require.Equal(t, 0, EstimateAmountIn(Q96, Q96, liquidity, domain.DirectionUp).Sign())
	})

	t.Run("zero liquidity", func(t *testing.T) {
		require.Equal(t, 0, EstimateAmountIn(Q96, double, big.NewInt(0), domain.DirectionUp).Sign())
	})
}

func TestDirectionOf(t *testing.T) {
	dir, ok := DirectionOf(Q96, new(big.Int).Lsh(Q96, 1))
	require.True(t, ok)
	require.Equal(t, domain.DirectionUp, dir)

	dir, ok = DirectionOf(new(big.Int).Lsh(Q96, 1), Q96)
	require.True(t, ok)
	require.Equal(t, domain.DirectionDown, dir)

	_, ok = DirectionOf(Q96, Q96)
	require.False(t, ok)
}

func TestUnits(t *testing.T) {
	units := ToUnits(decimal.RequireFromString("1.2345678"), 6)
	require.Equal(t, "1234567", units.String())
	require.True(t, decimal.RequireFromString("1.234567").Equal(FromUnits(units, 6)))
}

package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRatePriceDrop(t *testing.T) {
	minPrice, maxPrice := dec("1000"), dec("2000")

	tests := []struct {
		name  string
		price string
		want  string
	}{
		{name: "at min", price: "1000", want: "1"},
		{name: "at max", price: "2000", want: "0"},
		{name: "middle", price: "1500", want: "0.5"},
		{name: "below min", price: "900", want: "2.1"},
		{name: "above max", price: "2500", want: "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RatePriceDrop(dec(tt.price), minPrice, maxPrice)
			require.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	t.Run("degenerate band", func(t *testing.T) {
		require.True(t, RatePriceDrop(dec("10"), dec("5"), dec("5")).Equal(decimal.NewFromInt(1)))
	})
}

func TestStrategyConfig_AverageCost(t *testing.T) {
	cfg := DefaultStrategyConfig("u1", StrategyV1)
	require.True(t, cfg.AverageCost().IsZero())

	cfg.AmountUSDToBuy = dec("300")
	cfg.AmountAssetBought = dec("0.2")
	require.True(t, dec("1500").Equal(cfg.AverageCost()))
}

func TestStrategyConfig_Validate(t *testing.T) {
	valid := DefaultStrategyConfig("u1", StrategyV2)
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *StrategyConfig){
		"missing user":      func(c *StrategyConfig) { c.UserID = "" },
		"unknown version":   func(c *StrategyConfig) { c.Version = 3 },
		"zero step":         func(c *StrategyConfig) { c.StepSize = decimal.Zero },
		"inverted band":     func(c *StrategyConfig) { c.MinPrice, c.MaxPrice = c.MaxPrice, c.MinPrice },
		"slippage too high": func(c *StrategyConfig) { c.SlippageToleranceBps = 10000 },
		"negative capital":  func(c *StrategyConfig) { c.Capital = dec("-1") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultStrategyConfig("u1", StrategyV1)
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStrategyConfig_CheckInvariants(t *testing.T) {
	cfg := DefaultStrategyConfig("u1", StrategyV1)
	require.NoError(t, cfg.CheckInvariants())

	cfg.AmountUSDToBuy = dec("-0.01")
	require.Error(t, cfg.CheckInvariants())

	cfg.AmountUSDToBuy = dec("10")
	require.Error(t, cfg.CheckInvariants(), "usd without asset must be rejected")

	cfg.AmountAssetBought = dec("0.01")
	require.NoError(t, cfg.CheckInvariants())
}

func TestSlippageFactor(t *testing.T) {
	cfg := DefaultStrategyConfig("u1", StrategyV1)
	cfg.SlippageToleranceBps = 50
	require.True(t, dec("0.995").Equal(cfg.SlippageFactor()))
}

func TestIsPercentDifferenceSignificant(t *testing.T) {
	require.True(t, IsPercentDifferenceSignificant(dec("99"), dec("100"), dec("1")))
	require.False(t, IsPercentDifferenceSignificant(dec("99.5"), dec("100"), dec("1")))
	require.False(t, IsPercentDifferenceSignificant(dec("99"), decimal.Zero, dec("1")))
	require.True(t, dec("-10").Equal(PercentageDiff(dec("90"), dec("100"))))
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("eth_usdt")
	require.NoError(t, err)
	require.Equal(t, "ETH_USDT", p.String())
	require.Equal(t, "ETHUSDT", p.Symbol())

	_, err = ParsePair("ETHUSDT")
	require.Error(t, err)
}

func TestPair_JSON(t *testing.T) {
	cfg := DefaultStrategyConfig("u1", StrategyV1)
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"pair":"ETH_USDT"`)

	var back StrategyConfig
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, cfg.Pair, back.Pair)

	raw, err = json.Marshal(struct{ Pair Pair }{})
	require.NoError(t, err)
	require.Equal(t, `{"Pair":""}`, string(raw))
	var empty struct{ Pair Pair }
	require.NoError(t, json.Unmarshal(raw, &empty))
	require.Equal(t, Pair{}, empty.Pair)
}

func TestAction_Text(t *testing.T) {
	var a Action
	require.NoError(t, a.UnmarshalText([]byte("sell")))
	require.Equal(t, ActionSell, a)
	require.Error(t, a.UnmarshalText([]byte("short")))
	require.Equal(t, "hold", ActionHold.String())
}

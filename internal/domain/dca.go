package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	percentageMultiplier = 100
	bpsDenominator       = 10000
	// DivisionScale decimal places kept when dividing USD and asset amounts.
	DivisionScale = 18
)

// StrategyVersion selects the DCA policy variant.
type StrategyVersion int

const (
	StrategyV1 StrategyVersion = 1
	StrategyV2 StrategyVersion = 2
)

// Valid reports whether the version has a policy.
func (v StrategyVersion) Valid() bool {
	return v == StrategyV1 || v == StrategyV2
}

// StrategyConfig is the persisted per user/version DCA state.
type StrategyConfig struct {
	UserID  string          `json:"user_id"`
	Version StrategyVersion `json:"version"`
	Pair    Pair            `json:"pair"`

	StepSize             decimal.Decimal `json:"step_size"`
	SlippageToleranceBps int64           `json:"slippage_tolerance_bps"`
	MinPrice             decimal.Decimal `json:"min_price"`
	MaxPrice             decimal.Decimal `json:"max_price"`
	InitialCapital       decimal.Decimal `json:"initial_capital"`
	Capital              decimal.Decimal `json:"capital"`
	RatioPriceUp         decimal.Decimal `json:"ratio_price_up"`
	RatioPriceDown       decimal.Decimal `json:"ratio_price_down"`

	IsStop            bool            `json:"is_stop"`
	PriceBuyHistory   decimal.Decimal `json:"price_buy_history"`
	AmountUSDToBuy    decimal.Decimal `json:"amount_usd_to_buy"`
	AmountAssetBought decimal.Decimal `json:"amount_asset_bought"`

	LastEvaluatedAt time.Time `json:"last_evaluated_at,omitempty"`
	// Revision increments on every successful save. Zero means never saved.
	Revision uint64 `json:"revision"`
}

// DefaultStrategyConfig returns the state a user starts with.
func DefaultStrategyConfig(userID string, version StrategyVersion) StrategyConfig {
	return StrategyConfig{
		UserID:               userID,
		Version:              version,
		Pair:                 Pair{From: "ETH", To: "USDT"},
		StepSize:             decimal.NewFromInt(50),
		SlippageToleranceBps: 100,
		MinPrice:             decimal.NewFromInt(1000),
		MaxPrice:             decimal.NewFromInt(3000),
		InitialCapital:       decimal.NewFromInt(1000),
		Capital:              decimal.NewFromInt(1000),
		RatioPriceUp:         decimal.NewFromInt(5),
		RatioPriceDown:       decimal.NewFromInt(1),
		PriceBuyHistory:      decimal.Zero,
		AmountUSDToBuy:       decimal.Zero,
		AmountAssetBought:    decimal.Zero,
	}
}

// Key identifies the config in stores and locks.
func (c StrategyConfig) Key() string {
	return ConfigKey(c.UserID, c.Version)
}

// ConfigKey builds the user/version key.
func ConfigKey(userID string, version StrategyVersion) string {
	return fmt.Sprintf("%s/v%d", userID, version)
}

// Validate checks the static parameters.
func (c StrategyConfig) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if !c.Version.Valid() {
		return fmt.Errorf("unsupported strategy version %d", c.Version)
	}
	if c.StepSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("step size must be positive, got %s", c.StepSize)
	}
	if c.SlippageToleranceBps < 0 || c.SlippageToleranceBps >= bpsDenominator {
		return fmt.Errorf("slippage tolerance must be in [0, %d) bps, got %d", bpsDenominator, c.SlippageToleranceBps)
	}
	if c.MinPrice.LessThan(decimal.Zero) || !c.MaxPrice.GreaterThan(c.MinPrice) {
		return fmt.Errorf("price band must satisfy 0 <= min < max, got [%s, %s]", c.MinPrice, c.MaxPrice)
	}
	if c.Capital.LessThan(decimal.Zero) {
		return fmt.Errorf("capital must not be negative, got %s", c.Capital)
	}
	if c.RatioPriceUp.LessThan(decimal.Zero) || c.RatioPriceDown.LessThan(decimal.Zero) {
		return fmt.Errorf("price ratios must not be negative")
	}

	return nil
}

// CheckInvariants verifies the cost-basis aggregates.
func (c StrategyConfig) CheckInvariants() error {
	if c.AmountUSDToBuy.IsNegative() {
		return fmt.Errorf("amount usd to buy is negative: %s", c.AmountUSDToBuy)
	}
	if c.AmountAssetBought.IsNegative() {
		return fmt.Errorf("amount asset bought is negative: %s", c.AmountAssetBought)
	}
	if c.Capital.IsNegative() {
		return fmt.Errorf("capital is negative: %s", c.Capital)
	}
	if c.AmountAssetBought.IsZero() != c.AmountUSDToBuy.IsZero() {
		return fmt.Errorf("cost basis out of sync: usd %s, asset %s", c.AmountUSDToBuy, c.AmountAssetBought)
	}

	return nil
}

// AverageCost returns amountUSDToBuy / amountAssetBought, zero when nothing is held.
func (c StrategyConfig) AverageCost() decimal.Decimal {
	if !c.AmountAssetBought.IsPositive() {
		return decimal.Zero
	}
	return c.AmountUSDToBuy.DivRound(c.AmountAssetBought, DivisionScale)
}

// SlippageFactor returns (10000 - bps) / 10000.
func (c StrategyConfig) SlippageFactor() decimal.Decimal {
	return decimal.NewFromInt(bpsDenominator - c.SlippageToleranceBps).Div(decimal.NewFromInt(bpsDenominator))
}

// Decision is a policy verdict with the reason it was reached.
type Decision struct {
	Action Action
	// Amount is the asset amount for sells; buys are sized by the engine.
	Amount decimal.Decimal
	Reason string
}

// Hold returns a hold decision.
func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Reason: reason}
}

// RatePriceDrop is the normalized distance from the top of [min, max]:
// 1 at min, 0 at max, and 1 + |1 - (p-min)/(max-min)| below min.
func RatePriceDrop(price, minPrice, maxPrice decimal.Decimal) decimal.Decimal {
	span := maxPrice.Sub(minPrice)
	if !span.IsPositive() {
		return decimal.NewFromInt(1)
	}

	rate := decimal.NewFromInt(1).Sub(price.Sub(minPrice).DivRound(span, DivisionScale)).Abs()
	if price.LessThan(minPrice) {
		rate = rate.Add(decimal.NewFromInt(1))
	}

	return rate
}

// RelativeChange returns |current - reference| / reference.
func RelativeChange(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).DivRound(reference, DivisionScale).Abs()
}

// IsPercentDifferenceSignificant checks if percentage difference reaches the threshold.
func IsPercentDifferenceSignificant(currentPrice, referencePrice, thresholdPercent decimal.Decimal) bool {
	if referencePrice.IsZero() {
		return false
	}

	return RelativeChange(currentPrice, referencePrice).
		Mul(decimal.NewFromInt(percentageMultiplier)).
		GreaterThanOrEqual(thresholdPercent)
}

// PercentageDiff returns percentage difference between current and reference values.
func PercentageDiff(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).DivRound(reference, DivisionScale).Mul(decimal.NewFromInt(percentageMultiplier))
}

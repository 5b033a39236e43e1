package dca

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

// Policy holds the buy and sell rules of one strategy version.
// Buys are sized by the engine; sells carry the asset amount.
type Policy interface {
	Decide(cfg domain.StrategyConfig, price decimal.Decimal) domain.Decision
}

// PolicyFor returns the policy of a strategy version.
func PolicyFor(version domain.StrategyVersion) (Policy, error) {
	switch version {
	case domain.StrategyV1:
		return policyV1{}, nil
	case domain.StrategyV2:
		return policyV2{}, nil
	default:
		return nil, fmt.Errorf("unsupported strategy version %d", version)
	}
}

// policyV1 buys dips only: a drop of ratioPriceDown% since the last evaluation,
// or a rebound that is still ratioPriceDown% under the average cost.
type policyV1 struct{}

func (policyV1) Decide(cfg domain.StrategyConfig, price decimal.Decimal) domain.Decision {
	history := cfg.PriceBuyHistory

	if price.LessThanOrEqual(history) {
		if domain.IsPercentDifferenceSignificant(price, history, cfg.RatioPriceDown) {
			return domain.Decision{
				Action: domain.ActionBuy,
				Reason: fmt.Sprintf("price dropped %s%% since %s", domain.PercentageDiff(price, history).Abs().StringFixed(2), history),
			}
		}
		return domain.Hold("drop since last evaluation below threshold")
	}

	avg := cfg.AverageCost()
	if cfg.AmountAssetBought.IsPositive() && price.LessThan(avg) &&
		domain.IsPercentDifferenceSignificant(price, avg, cfg.RatioPriceDown) {
		return domain.Decision{
			Action: domain.ActionBuy,
			Reason: fmt.Sprintf("price %s%% under average cost %s", domain.PercentageDiff(price, avg).Abs().StringFixed(2), avg.StringFixed(2)),
		}
	}

	return domain.Hold("price above last evaluation")
}

// policyV2 buys under the last price or the average cost and takes profit
// once the price is ratioPriceUp% over the average cost.
type policyV2 struct{}

func (policyV2) Decide(cfg domain.StrategyConfig, price decimal.Decimal) domain.Decision {
	history := cfg.PriceBuyHistory
	if price.LessThan(history) {
		return domain.Decision{Action: domain.ActionBuy, Reason: fmt.Sprintf("price under last evaluation %s", history)}
	}
	if !price.GreaterThan(history) {
		return domain.Hold("price unchanged")
	}

	held := cfg.AmountAssetBought
	avg := cfg.AverageCost()
	if held.IsPositive() && price.LessThan(avg) {
		return domain.Decision{Action: domain.ActionBuy, Reason: fmt.Sprintf("price under average cost %s", avg.StringFixed(2))}
	}

	if avg.IsPositive() && price.GreaterThan(avg) && domain.IsPercentDifferenceSignificant(price, avg, cfg.RatioPriceUp) {
		amount := sellAmount(cfg, price)
		if amount.IsPositive() {
			return domain.Decision{
				Action: domain.ActionSell,
				Amount: amount,
				Reason: fmt.Sprintf("price %s%% over average cost %s", domain.PercentageDiff(price, avg).StringFixed(2), avg.StringFixed(2)),
			}
		}
	}

	return domain.Hold("no buy or sell condition met")
}

// sellAmount is (1 - ratePriceDrop) x stepSize / price, widened to the whole
// position when the holding is within that amount plus the committed USD.
func sellAmount(cfg domain.StrategyConfig, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	rate := domain.RatePriceDrop(price, cfg.MinPrice, cfg.MaxPrice)
	amount := decimal.Max(one.Sub(rate), decimal.Zero).Mul(cfg.StepSize).DivRound(price, domain.DivisionScale)

	held := cfg.AmountAssetBought
	if held.LessThanOrEqual(amount.Add(cfg.AmountUSDToBuy)) {
		amount = held
	}
	return decimal.Min(amount, held)
}

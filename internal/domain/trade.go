package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SwapInfo describes the swap a trade corresponds to.
type SwapInfo struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
}

// TradeRecord is an immutable history entry for one buy or sell.
type TradeRecord struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Version     StrategyVersion `json:"version,omitempty"`
	PlanID      string          `json:"plan_id,omitempty"`
	Timestamp   time.Time       `json:"ts"`
	Price       decimal.Decimal `json:"price"`
	Action      Action          `json:"action"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	AmountAsset decimal.Decimal `json:"amount_asset"`
	Swap        SwapInfo        `json:"swap"`
}

// String returns a human-readable string representation.
func (t *TradeRecord) String() string {
	return fmt.Sprintf("%s %s usd: %s asset: %s price: %s",
		t.UserID, t.Action.String(), t.AmountUSD.String(), t.AmountAsset.String(), t.Price.String())
}

// TradeQuery selects a page of trade history.
type TradeQuery struct {
	UserID string
	// Version zero matches every version.
	Version StrategyVersion
	Offset  int
	Limit   int
}

// Evaluation is the result of one DCA evaluation.
type Evaluation struct {
	Trade   *TradeRecord   `json:"trade,omitempty"`
	Config  StrategyConfig `json:"config"`
	Action  Action         `json:"action"`
	Reason  string         `json:"reason"`
	Stopped bool           `json:"stopped"`
}

// DecisionEvent is published after every evaluation, holds included.
type DecisionEvent struct {
	Timestamp    time.Time       `json:"ts"`
	UserID       string          `json:"user_id"`
	Version      StrategyVersion `json:"version"`
	Pair         string          `json:"pair"`
	Action       string          `json:"action"`
	Reason       string          `json:"reason"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	AverageCost  decimal.Decimal `json:"avg_cost,omitempty"`
	AmountUSD    decimal.Decimal `json:"amount_usd,omitempty"`
	Stopped      bool            `json:"stopped"`
}

// NewDecisionEvent builds the event for an evaluation.
func NewDecisionEvent(ev *Evaluation, price decimal.Decimal, at time.Time) DecisionEvent {
	event := DecisionEvent{
		Timestamp:    at,
		UserID:       ev.Config.UserID,
		Version:      ev.Config.Version,
		Pair:         ev.Config.Pair.String(),
		Action:       ev.Action.String(),
		Reason:       ev.Reason,
		CurrentPrice: price,
		AverageCost:  ev.Config.AverageCost(),
		Stopped:      ev.Stopped,
	}
	if ev.Trade != nil {
		event.AmountUSD = ev.Trade.AmountUSD
	}

	return event
}

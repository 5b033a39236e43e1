package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus lifecycle of an allocation plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
)

// AllocationPlan capital deployment plan over a price band.
type AllocationPlan struct {
	ID                 string          `json:"id"`
	Asset              string          `json:"asset"`
	MinPrice           decimal.Decimal `json:"min_price"`
	MaxPrice           decimal.Decimal `json:"max_price"`
	TargetAveragePrice decimal.Decimal `json:"target_average_price"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	MonthlyTopUp       decimal.Decimal `json:"monthly_top_up"`
	StartDate          time.Time       `json:"start_date"`
	ExecutedCapital    decimal.Decimal `json:"executed_capital"`
	ExecutedAmount     decimal.Decimal `json:"executed_amount"`
	// LastCapitalSnapshot total available capital at the last execution.
	LastCapitalSnapshot decimal.Decimal `json:"last_capital_snapshot"`
	Status              PlanStatus      `json:"status"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// AverageCost executed capital per executed amount, zero before the first fill.
func (p AllocationPlan) AverageCost() decimal.Decimal {
	if !p.ExecutedAmount.IsPositive() {
		return decimal.Zero
	}
	return p.ExecutedCapital.DivRound(p.ExecutedAmount, DivisionScale)
}

// AllocationBand a price level and the capital planned for it. Never persisted.
type AllocationBand struct {
	Price        decimal.Decimal `json:"price"`
	Weight       decimal.Decimal `json:"weight"`
	CapitalSlice decimal.Decimal `json:"capital_slice"`
}

// RecommendationStatus continue or complete.
type RecommendationStatus string

const (
	RecommendationContinue RecommendationStatus = "continue"
	RecommendationComplete RecommendationStatus = "complete"
)

// AllocationProgress executed vs available capital.
type AllocationProgress struct {
	ExecutedCapital       decimal.Decimal `json:"executed_capital"`
	TotalAvailableCapital decimal.Decimal `json:"total_available_capital"`
	ExecutedPercent       decimal.Decimal `json:"executed_percent"`
}

// AllocationRecommendation the next suggested trade for a plan.
type AllocationRecommendation struct {
	PlanID                     string               `json:"plan_id"`
	CurrentPrice               decimal.Decimal      `json:"current_price"`
	SuggestedCapital           decimal.Decimal      `json:"suggested_capital"`
	SuggestedAmount            decimal.Decimal      `json:"suggested_amount"`
	RemainingDeployableCapital decimal.Decimal      `json:"remaining_deployable_capital"`
	ProjectedAveragePrice      decimal.Decimal      `json:"projected_average_price"`
	Progress                   AllocationProgress   `json:"progress"`
	Bands                      []AllocationBand     `json:"allocation_band_info"`
	Status                     RecommendationStatus `json:"status"`
}

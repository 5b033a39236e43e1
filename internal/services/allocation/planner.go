// Package allocation spreads a plan's capital over a price ladder and suggests the next trade.
package allocation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

const (
	DefaultSlices      = 10
	DefaultTopUpPeriod = 30 * 24 * time.Hour

	amountScale = 8
	usdScale    = 2
)

var (
	defaultBandShare      = decimal.RequireFromString("0.25")
	defaultMinTicketUSD   = decimal.NewFromInt(10)
	defaultMinTicketRatio = decimal.RequireFromString("0.01")
	hundred               = decimal.NewFromInt(100)
)

// Planner computes allocation bands and recommendations. It holds no state.
type Planner struct {
	slices         int
	bandShare      decimal.Decimal
	minTicketUSD   decimal.Decimal
	minTicketRatio decimal.Decimal
	topUpPeriod    time.Duration
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithSlices sets the number of price levels.
func WithSlices(n int) PlannerOption {
	return func(p *Planner) {
		if n >= 2 {
			p.slices = n
		}
	}
}

// WithBandShare sets the share of a band's remaining slice deployed per recommendation.
func WithBandShare(share decimal.Decimal) PlannerOption {
	return func(p *Planner) {
		if share.IsPositive() && share.LessThanOrEqual(decimal.NewFromInt(1)) {
			p.bandShare = share
		}
	}
}

// WithTopUpPeriod sets how often the monthly top-up is credited.
func WithTopUpPeriod(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d > 0 {
			p.topUpPeriod = d
		}
	}
}

// NewPlanner creates a planner with the default ladder.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		slices:         DefaultSlices,
		bandShare:      defaultBandShare,
		minTicketUSD:   defaultMinTicketUSD,
		minTicketRatio: defaultMinTicketRatio,
		topUpPeriod:    DefaultTopUpPeriod,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultPlan is the plan created when an asset has none.
func DefaultPlan(asset string, now time.Time) domain.AllocationPlan {
	return domain.AllocationPlan{
		ID:                  uuid.New().String(),
		Asset:               asset,
		MinPrice:            decimal.NewFromInt(1000),
		MaxPrice:            decimal.NewFromInt(2000),
		TargetAveragePrice:  decimal.NewFromInt(1500),
		InitialCapital:      decimal.NewFromInt(1000),
		MonthlyTopUp:        decimal.NewFromInt(200),
		StartDate:           now,
		ExecutedCapital:     decimal.Zero,
		ExecutedAmount:      decimal.Zero,
		LastCapitalSnapshot: decimal.NewFromInt(1000),
		Status:              domain.PlanActive,
		UpdatedAt:           now,
	}
}

// ValidatePlan checks a plan's static parameters.
func ValidatePlan(plan domain.AllocationPlan) error {
	if plan.Asset == "" {
		return fmt.Errorf("plan asset is required")
	}
	if !plan.MinPrice.IsPositive() || !plan.MaxPrice.GreaterThan(plan.MinPrice) {
		return fmt.Errorf("plan band must satisfy 0 < min < max, got [%s, %s]", plan.MinPrice, plan.MaxPrice)
	}
	if !plan.TargetAveragePrice.IsPositive() {
		return fmt.Errorf("target average price must be positive, got %s", plan.TargetAveragePrice)
	}
	if plan.InitialCapital.IsNegative() || plan.MonthlyTopUp.IsNegative() {
		return fmt.Errorf("capital and top-up must not be negative")
	}
	if plan.ExecutedCapital.IsNegative() || plan.ExecutedAmount.IsNegative() {
		return fmt.Errorf("executed totals must not be negative")
	}
	return nil
}

// TotalAvailable is initial capital plus one top-up per full period since the start date.
func (p *Planner) TotalAvailable(plan domain.AllocationPlan, now time.Time) decimal.Decimal {
	periods := int64(0)
	if elapsed := now.Sub(plan.StartDate); elapsed > 0 {
		periods = int64(elapsed / p.topUpPeriod)
	}
	return plan.InitialCapital.Add(plan.MonthlyTopUp.Mul(decimal.NewFromInt(periods)))
}

// Bands builds the descending price ladder with quadratic weights toward the low end.
func (p *Planner) Bands(plan domain.AllocationPlan, total decimal.Decimal) []domain.AllocationBand {
	span := plan.MaxPrice.Sub(plan.MinPrice)
	step := span.Div(decimal.NewFromInt(int64(p.slices - 1)))

	bands := make([]domain.AllocationBand, p.slices)
	weightSum := decimal.Zero
	for i := range bands {
		price := plan.MaxPrice.Sub(step.Mul(decimal.NewFromInt(int64(i))))
		w := weight(price, plan.MinPrice, plan.MaxPrice)
		bands[i] = domain.AllocationBand{Price: price, Weight: w}
		weightSum = weightSum.Add(w)
	}
	if weightSum.IsZero() {
		weightSum = decimal.NewFromInt(1)
	}

	for i := range bands {
		bands[i].Weight = bands[i].Weight.DivRound(weightSum, domain.DivisionScale)
		bands[i].CapitalSlice = bands[i].Weight.Mul(total)
	}

	return bands
}

// weight is ((max - price) / (max - min))^2 clamped to [0, 1].
func weight(price, minPrice, maxPrice decimal.Decimal) decimal.Decimal {
	span := maxPrice.Sub(minPrice)
	if !span.IsPositive() {
		return decimal.NewFromInt(1)
	}

	ratio := maxPrice.Sub(price).DivRound(span, domain.DivisionScale)
	if ratio.IsNegative() {
		ratio = decimal.Zero
	}
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}

	return ratio.Mul(ratio)
}

// nearest returns the index of the band closest to price; ties keep the higher band.
func nearest(bands []domain.AllocationBand, price decimal.Decimal) int {
	idx := 0
	for i := 1; i < len(bands); i++ {
		if bands[i].Price.Sub(price).Abs().LessThan(bands[idx].Price.Sub(price).Abs()) {
			idx = i
		}
	}
	return idx
}

// Next recommends the trade for price. Capital consumed by bands above the
// current one is approximated as their full slices (top-down consumption).
func (p *Planner) Next(plan domain.AllocationPlan, price decimal.Decimal, now time.Time) domain.AllocationRecommendation {
	total := p.TotalAvailable(plan, now)
	remaining := total.Sub(plan.ExecutedCapital)

	rec := domain.AllocationRecommendation{
		PlanID:                     plan.ID,
		CurrentPrice:               price,
		SuggestedCapital:           decimal.Zero,
		SuggestedAmount:            decimal.Zero,
		RemainingDeployableCapital: remaining,
		ProjectedAveragePrice:      plan.AverageCost().Round(usdScale),
		Progress: domain.AllocationProgress{
			ExecutedCapital:       plan.ExecutedCapital,
			TotalAvailableCapital: total,
			ExecutedPercent:       percent(plan.ExecutedCapital, total),
		},
		Bands:  []domain.AllocationBand{},
		Status: domain.RecommendationContinue,
	}

	if plan.Status == domain.PlanCompleted || !remaining.IsPositive() {
		rec.RemainingDeployableCapital = decimal.Max(remaining, decimal.Zero)
		if !remaining.IsPositive() {
			rec.Progress.ExecutedPercent = hundred
		}
		rec.Status = domain.RecommendationComplete
		return rec
	}
	if !price.IsPositive() {
		return rec
	}

	bands := p.Bands(plan, total)
	rec.Bands = bands

	idx := nearest(bands, price)
	cumulativePrevious := decimal.Zero
	for _, b := range bands[:idx] {
		cumulativePrevious = cumulativePrevious.Add(b.CapitalSlice)
	}

	band := bands[idx]
	allocated := decimal.Min(decimal.Max(plan.ExecutedCapital.Sub(cumulativePrevious), decimal.Zero), band.CapitalSlice)
	bandRemaining := band.CapitalSlice.Sub(allocated)

	suggested := decimal.Min(bandRemaining.Mul(p.bandShare), remaining).RoundDown(usdScale)
	minTicket := decimal.Min(remaining, decimal.Max(p.minTicketUSD, total.Mul(p.minTicketRatio)))
	if !suggested.IsPositive() || suggested.LessThan(minTicket) {
		return rec
	}

	projected := projectAverage(plan, suggested, price)
	if projected.GreaterThan(plan.TargetAveragePrice) && price.GreaterThan(plan.TargetAveragePrice) {
		if adjusted := capitalForTargetAverage(plan, price); adjusted.IsPositive() {
			suggested = decimal.Min(adjusted, suggested)
			projected = projectAverage(plan, suggested, price)
		}
	}

	rec.SuggestedCapital = suggested
	rec.SuggestedAmount = suggested.DivRound(price, amountScale)
	rec.RemainingDeployableCapital = total.Sub(plan.ExecutedCapital.Add(suggested))
	rec.ProjectedAveragePrice = projected.Round(usdScale)

	return rec
}

func projectAverage(plan domain.AllocationPlan, capital, price decimal.Decimal) decimal.Decimal {
	amount := plan.ExecutedAmount.Add(capital.DivRound(price, domain.DivisionScale))
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return plan.ExecutedCapital.Add(capital).DivRound(amount, domain.DivisionScale)
}

// capitalForTargetAverage solves (E + c) / (A + c/p) = T for c and rounds up to cents,
// so the projected average never lands below the target. Requires p > T.
func capitalForTargetAverage(plan domain.AllocationPlan, price decimal.Decimal) decimal.Decimal {
	target := plan.TargetAveragePrice
	den := decimal.NewFromInt(1).Sub(target.DivRound(price, domain.DivisionScale))
	if !den.IsPositive() {
		return decimal.Zero
	}

	num := target.Mul(plan.ExecutedAmount).Sub(plan.ExecutedCapital)
	return num.DivRound(den, domain.DivisionScale).RoundCeil(usdScale)
}

// TradeUserID is the trade log owner of a plan's trades.
func TradeUserID(planID string) string {
	return "plan:" + planID
}

func percent(part, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(total, usdScale)
}

// Apply books an executed recommendation on plan and returns the trade record.
// It returns nil when the recommendation suggests nothing.
func (p *Planner) Apply(plan *domain.AllocationPlan, rec domain.AllocationRecommendation, now time.Time) *domain.TradeRecord {
	if !rec.SuggestedCapital.IsPositive() || plan.Status == domain.PlanCompleted {
		return nil
	}

	plan.ExecutedCapital = plan.ExecutedCapital.Add(rec.SuggestedCapital)
	plan.ExecutedAmount = plan.ExecutedAmount.Add(rec.SuggestedAmount)
	total := p.TotalAvailable(*plan, now)
	plan.LastCapitalSnapshot = total
	plan.UpdatedAt = now

	if plan.ExecutedCapital.GreaterThanOrEqual(total) ||
		(plan.ExecutedAmount.IsPositive() && plan.AverageCost().LessThanOrEqual(plan.TargetAveragePrice)) {
		plan.Status = domain.PlanCompleted
	}

	return &domain.TradeRecord{
		ID:          uuid.New().String(),
		UserID:      TradeUserID(plan.ID),
		PlanID:      plan.ID,
		Timestamp:   now,
		Price:       rec.CurrentPrice,
		Action:      domain.ActionBuy,
		AmountUSD:   rec.SuggestedCapital,
		AmountAsset: rec.SuggestedAmount,
		Swap: domain.SwapInfo{
			From:      "USD",
			To:        plan.Asset,
			AmountIn:  rec.SuggestedCapital,
			AmountOut: rec.SuggestedAmount,
		},
	}
}

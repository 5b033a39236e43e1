package allocation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPlanner_TotalAvailable(t *testing.T) {
	p := NewPlanner()
	plan := DefaultPlan("ETH", start)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{name: "at start", elapsed: 0, want: "1000"},
		{name: "before first top-up", elapsed: 29 * 24 * time.Hour, want: "1000"},
		{name: "one period", elapsed: 30 * 24 * time.Hour, want: "1200"},
		{name: "65 days", elapsed: 65 * 24 * time.Hour, want: "1400"},
		{name: "clock before start", elapsed: -time.Hour, want: "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.TotalAvailable(plan, start.Add(tt.elapsed))
			require.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestPlanner_Bands(t *testing.T) {
	p := NewPlanner()
	plan := DefaultPlan("ETH", start)

	bands := p.Bands(plan, decimal.NewFromInt(1000))
	require.Len(t, bands, DefaultSlices)

	require.True(t, bands[0].Price.Equal(plan.MaxPrice))
	require.True(t, bands[0].Weight.IsZero(), "top of the ladder gets nothing")

	sum := decimal.Zero
	capital := decimal.Zero
	for i, b := range bands {
		sum = sum.Add(b.Weight)
		capital = capital.Add(b.CapitalSlice)
		if i > 0 {
			assert.True(t, b.Price.LessThan(bands[i-1].Price), "prices descend")
			assert.True(t, b.Weight.GreaterThan(bands[i-1].Weight), "weights grow toward the low end")
		}
	}
	require.True(t, sum.Sub(decimal.NewFromInt(1)).Abs().LessThan(dec("0.000000000001")), "weights sum to 1, got %s", sum)
	require.True(t, capital.Sub(decimal.NewFromInt(1000)).Abs().LessThan(dec("0.000000001")))

	last := bands[len(bands)-1]
	require.True(t, last.Price.Sub(plan.MinPrice).Abs().LessThan(dec("0.000001")))
	require.True(t, last.Weight.Sub(dec("0.284210526315789474")).Abs().LessThan(dec("0.000000000001")))
}

func TestPlanner_Next(t *testing.T) {
	p := NewPlanner()

	t.Run("fresh plan at the bottom of the band", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		rec := p.Next(plan, decimal.NewFromInt(1000), start)

		require.Equal(t, domain.RecommendationContinue, rec.Status)
		require.True(t, dec("71.05").Equal(rec.SuggestedCapital), "got %s", rec.SuggestedCapital)
		require.True(t, dec("0.07105").Equal(rec.SuggestedAmount), "got %s", rec.SuggestedAmount)
		require.True(t, dec("928.95").Equal(rec.RemainingDeployableCapital))
		require.True(t, dec("1000").Equal(rec.ProjectedAveragePrice))
		require.True(t, dec("1000").Equal(rec.Progress.TotalAvailableCapital))
		require.True(t, rec.Progress.ExecutedPercent.IsZero())
		require.Len(t, rec.Bands, DefaultSlices)
	})

	t.Run("below minimum ticket suggests nothing", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		rec := p.Next(plan, decimal.NewFromInt(1900), start)

		require.Equal(t, domain.RecommendationContinue, rec.Status)
		require.True(t, rec.SuggestedCapital.IsZero())
		require.True(t, rec.SuggestedAmount.IsZero())
	})

	t.Run("capital is cut to keep the target average", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		plan.ExecutedCapital = dec("29.7")
		plan.ExecutedAmount = dec("0.02")
		price := dec("1555.56")

		rec := p.Next(plan, price, start)
		require.True(t, rec.SuggestedCapital.LessThan(dec("14.03")), "got %s", rec.SuggestedCapital)
		require.True(t, dec("8.4").Equal(rec.SuggestedCapital), "got %s", rec.SuggestedCapital)

		exact := projectAverage(plan, rec.SuggestedCapital, price)
		require.True(t, exact.GreaterThanOrEqual(plan.TargetAveragePrice), "projected %s", exact)
		require.True(t, exact.Sub(plan.TargetAveragePrice).LessThan(dec("0.01")))
	})

	t.Run("fresh plan is not cut", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		rec := p.Next(plan, dec("1600"), start)

		require.True(t, dec("14.03").Equal(rec.SuggestedCapital), "got %s", rec.SuggestedCapital)
	})

	t.Run("completed plan", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		plan.Status = domain.PlanCompleted
		rec := p.Next(plan, decimal.NewFromInt(1000), start)

		require.Equal(t, domain.RecommendationComplete, rec.Status)
		require.True(t, rec.SuggestedCapital.IsZero())
		require.Empty(t, rec.Bands)
	})

	t.Run("capital exhausted", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		plan.ExecutedCapital = dec("1000")
		plan.ExecutedAmount = dec("0.8")
		rec := p.Next(plan, decimal.NewFromInt(1000), start)

		require.Equal(t, domain.RecommendationComplete, rec.Status)
		require.True(t, rec.RemainingDeployableCapital.IsZero())
		require.True(t, dec("100").Equal(rec.Progress.ExecutedPercent))
		require.True(t, dec("1250").Equal(rec.ProjectedAveragePrice))
	})

	t.Run("top-up reopens an exhausted plan", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		plan.ExecutedCapital = dec("1000")
		plan.ExecutedAmount = dec("0.8")
		rec := p.Next(plan, decimal.NewFromInt(1000), start.Add(31*24*time.Hour))

		require.Equal(t, domain.RecommendationContinue, rec.Status)
		require.True(t, dec("200").Equal(rec.RemainingDeployableCapital.Add(rec.SuggestedCapital)))
	})

	t.Run("non-positive price", func(t *testing.T) {
		rec := p.Next(DefaultPlan("ETH", start), decimal.Zero, start)
		require.Equal(t, domain.RecommendationContinue, rec.Status)
		require.True(t, rec.SuggestedCapital.IsZero())
	})
}

func TestPlanner_Apply(t *testing.T) {
	p := NewPlanner()

	t.Run("average at or below target completes the plan", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		rec := p.Next(plan, decimal.NewFromInt(1000), start)

		trade := p.Apply(&plan, rec, start)
		require.NotNil(t, trade)
		require.Equal(t, domain.PlanCompleted, plan.Status)
		require.True(t, dec("71.05").Equal(plan.ExecutedCapital))
		require.True(t, dec("0.07105").Equal(plan.ExecutedAmount))
		require.True(t, dec("1000").Equal(plan.LastCapitalSnapshot))

		require.Equal(t, plan.ID, trade.PlanID)
		require.Equal(t, TradeUserID(plan.ID), trade.UserID)
		require.Equal(t, domain.ActionBuy, trade.Action)
		require.NotEmpty(t, trade.ID)
		require.Equal(t, "ETH", trade.Swap.To)
		require.True(t, trade.AmountUSD.Equal(trade.Swap.AmountIn))
	})

	t.Run("average above target keeps the plan active", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		rec := p.Next(plan, dec("1600"), start)

		trade := p.Apply(&plan, rec, start)
		require.NotNil(t, trade)
		require.Equal(t, domain.PlanActive, plan.Status)
		require.True(t, dec("14.03").Equal(plan.ExecutedCapital))
	})

	t.Run("nothing suggested", func(t *testing.T) {
		plan := DefaultPlan("ETH", start)
		rec := p.Next(plan, decimal.NewFromInt(1900), start)

		require.Nil(t, p.Apply(&plan, rec, start))
		require.True(t, plan.ExecutedCapital.IsZero())
	})
}

func TestValidatePlan(t *testing.T) {
	require.NoError(t, ValidatePlan(DefaultPlan("ETH", start)))

	cases := map[string]func(p *domain.AllocationPlan){
		"no asset":        func(p *domain.AllocationPlan) { p.Asset = "" },
		"inverted band":   func(p *domain.AllocationPlan) { p.MinPrice, p.MaxPrice = p.MaxPrice, p.MinPrice },
		"zero target":     func(p *domain.AllocationPlan) { p.TargetAveragePrice = decimal.Zero },
		"negative top-up": func(p *domain.AllocationPlan) { p.MonthlyTopUp = dec("-1") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			plan := DefaultPlan("ETH", start)
			mutate(&plan)
			require.Error(t, ValidatePlan(plan))
		})
	}
}

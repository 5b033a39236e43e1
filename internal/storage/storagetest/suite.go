// Package storagetest holds the behaviour checks every storage.Store backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the shared store checks against a backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("config revisions", func(t *testing.T) { testConfigRevisions(t, newStore(t)) })
	t.Run("config list", func(t *testing.T) { testConfigList(t, newStore(t)) })
	t.Run("trade log", func(t *testing.T) { testTradeLog(t, newStore(t)) })
	t.Run("trade clear", func(t *testing.T) { testTradeClear(t, newStore(t)) })
	t.Run("plans", func(t *testing.T) { testPlans(t, newStore(t)) })
}

func closeStore(t *testing.T, s storage.Store) {
	t.Cleanup(func() { _ = s.Close() })
}

func testConfigRevisions(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.Load(ctx, "alice", domain.StrategyV1)
	require.ErrorIs(t, err, storage.ErrNotFound)

	cfg := domain.DefaultStrategyConfig("alice", domain.StrategyV1)
	cfg.PriceBuyHistory = decimal.RequireFromString("1834.125")
	cfg.AmountUSDToBuy = decimal.RequireFromString("150.5")
	cfg.AmountAssetBought = decimal.RequireFromString("0.082051282051282051")
	cfg.LastEvaluatedAt = base

	saved, err := s.Save(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(1), saved.Revision)

	_, err = s.Save(ctx, cfg)
	require.ErrorIs(t, err, storage.ErrConflict, "revision 0 must not overwrite an existing config")

	loaded, err := s.Load(ctx, "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), loaded.Revision)
	require.Equal(t, "ETH_USDT", loaded.Pair.String())
	require.True(t, cfg.PriceBuyHistory.Equal(loaded.PriceBuyHistory))
	require.True(t, cfg.AmountUSDToBuy.Equal(loaded.AmountUSDToBuy))
	require.True(t, cfg.AmountAssetBought.Equal(loaded.AmountAssetBought))
	require.True(t, cfg.Capital.Equal(loaded.Capital))
	require.Equal(t, cfg.SlippageToleranceBps, loaded.SlippageToleranceBps)
	require.True(t, base.Equal(loaded.LastEvaluatedAt))

	loaded.IsStop = true
	updated, err := s.Save(ctx, loaded)
	require.NoError(t, err)
	require.Equal(t, uint64(2), updated.Revision)

	stale := loaded
	stale.IsStop = false
	_, err = s.Save(ctx, stale)
	require.ErrorIs(t, err, storage.ErrConflict)

	latest, err := s.Load(ctx, "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.True(t, latest.IsStop)
	require.Equal(t, uint64(2), latest.Revision)

	orphan := domain.DefaultStrategyConfig("bob", domain.StrategyV2)
	orphan.Revision = 3
	_, err = s.Save(ctx, orphan)
	require.ErrorIs(t, err, storage.ErrConflict)
}

func testConfigList(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	for _, key := range []struct {
		user    string
		version domain.StrategyVersion
	}{{"bob", domain.StrategyV2}, {"alice", domain.StrategyV2}, {"alice", domain.StrategyV1}} {
		_, err := s.Save(ctx, domain.DefaultStrategyConfig(key.user, key.version))
		require.NoError(t, err)
	}

	cfgs, err := s.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, cfgs, 3)
	require.Equal(t, "alice/v1", cfgs[0].Key())
	require.Equal(t, "alice/v2", cfgs[1].Key())
	require.Equal(t, "bob/v2", cfgs[2].Key())
}

// Trade builds a buy record n minutes after the suite base time.
func Trade(id, user string, version domain.StrategyVersion, n int) domain.TradeRecord {
	return domain.TradeRecord{
		ID:          id,
		UserID:      user,
		Version:     version,
		Timestamp:   base.Add(time.Duration(n) * time.Minute),
		Price:       decimal.NewFromInt(int64(1000 + n)),
		Action:      domain.ActionBuy,
		AmountUSD:   decimal.NewFromInt(50),
		AmountAsset: decimal.RequireFromString("0.05"),
		Swap: domain.SwapInfo{
			From:      "USDT",
			To:        "ETH",
			AmountIn:  decimal.NewFromInt(50),
			AmountOut: decimal.RequireFromString("0.05"),
		},
	}
}

func testTradeLog(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, Trade(fmt.Sprintf("a-%d", i), "alice", domain.StrategyV1, i)))
	}
	require.NoError(t, s.Append(ctx, Trade("a-v2", "alice", domain.StrategyV2, 10)))
	require.NoError(t, s.Append(ctx, Trade("b-0", "bob", domain.StrategyV1, 20)))

	require.ErrorIs(t, s.Append(ctx, Trade("a-0", "alice", domain.StrategyV1, 30)), storage.ErrDuplicateKey)

	all, total, err := s.List(ctx, domain.TradeQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Len(t, all, 6)
	require.Equal(t, "a-v2", all[0].ID, "newest first")
	require.Equal(t, "a-0", all[5].ID)
	require.True(t, decimal.NewFromInt(1010).Equal(all[0].Price))
	require.Equal(t, domain.ActionBuy, all[0].Action)
	require.Equal(t, "USDT", all[0].Swap.From)
	require.True(t, decimal.RequireFromString("0.05").Equal(all[0].Swap.AmountOut))

	page, total, err := s.List(ctx, domain.TradeQuery{UserID: "alice", Version: domain.StrategyV1, Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, "a-3", page[0].ID)
	require.Equal(t, "a-2", page[1].ID)

	empty, total, err := s.List(ctx, domain.TradeQuery{UserID: "alice", Offset: 100, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Empty(t, empty)
}

func testTradeClear(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Trade("a-0", "alice", domain.StrategyV1, 0)))
	require.NoError(t, s.Append(ctx, Trade("a-1", "alice", domain.StrategyV2, 1)))
	require.NoError(t, s.Append(ctx, Trade("b-0", "bob", domain.StrategyV1, 2)))

	removed, err := s.Clear(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, total, err := s.List(ctx, domain.TradeQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Zero(t, total)

	_, total, err = s.List(ctx, domain.TradeQuery{UserID: "bob"})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	require.NoError(t, s.Append(ctx, Trade("a-2", "alice", domain.StrategyV1, 3)))
	_, total, err = s.List(ctx, domain.TradeQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, total, "history after a clear starts empty")
}

// Plan builds an active ETH plan started n days after the suite base time.
func Plan(id string, n int) domain.AllocationPlan {
	return domain.AllocationPlan{
		ID:                  id,
		Asset:               "ETH",
		MinPrice:            decimal.NewFromInt(1000),
		MaxPrice:            decimal.NewFromInt(2000),
		TargetAveragePrice:  decimal.NewFromInt(1500),
		InitialCapital:      decimal.NewFromInt(1000),
		MonthlyTopUp:        decimal.NewFromInt(200),
		StartDate:           base.AddDate(0, 0, n),
		ExecutedCapital:     decimal.Zero,
		ExecutedAmount:      decimal.Zero,
		LastCapitalSnapshot: decimal.NewFromInt(1000),
		Status:              domain.PlanActive,
		UpdatedAt:           base.AddDate(0, 0, n),
	}
}

func testPlans(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.GetPlan(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.ActivePlan(ctx, "ETH")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.CreatePlan(ctx, Plan("p-old", 0)))
	require.NoError(t, s.CreatePlan(ctx, Plan("p-new", 5)))
	require.ErrorIs(t, s.CreatePlan(ctx, Plan("p-old", 9)), storage.ErrDuplicateKey)

	active, err := s.ActivePlan(ctx, "ETH")
	require.NoError(t, err)
	require.Equal(t, "p-new", active.ID)

	active.Status = domain.PlanCompleted
	active.ExecutedCapital = decimal.RequireFromString("71.05")
	active.ExecutedAmount = decimal.RequireFromString("0.07105")
	require.NoError(t, s.UpdatePlan(ctx, active))

	got, err := s.GetPlan(ctx, "p-new")
	require.NoError(t, err)
	require.Equal(t, domain.PlanCompleted, got.Status)
	require.True(t, decimal.RequireFromString("71.05").Equal(got.ExecutedCapital))
	require.True(t, decimal.RequireFromString("0.07105").Equal(got.ExecutedAmount))
	require.True(t, decimal.NewFromInt(1500).Equal(got.TargetAveragePrice))
	require.True(t, base.AddDate(0, 0, 5).Equal(got.StartDate))

	active, err = s.ActivePlan(ctx, "eth")
	require.NoError(t, err)
	require.Equal(t, "p-old", active.ID)

	require.ErrorIs(t, s.UpdatePlan(ctx, Plan("ghost", 1)), storage.ErrNotFound)

	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, "p-old", plans[0].ID)
	require.Equal(t, "p-new", plans[1].ID)
}

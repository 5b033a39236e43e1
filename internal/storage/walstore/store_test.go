package walstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(zap.NewNop(), t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStore_ReplayAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(zap.NewNop(), dir)
	require.NoError(t, err)

	cfg := domain.DefaultStrategyConfig("alice", domain.StrategyV2)
	cfg, err = s.Save(ctx, cfg)
	require.NoError(t, err)
	cfg.PriceBuyHistory = decimal.RequireFromString("1900.5")
	cfg, err = s.Save(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cfg.Revision)

	require.NoError(t, s.Append(ctx, storagetest.Trade("t-1", "alice", domain.StrategyV2, 1)))
	require.NoError(t, s.Append(ctx, storagetest.Trade("t-2", "bob", domain.StrategyV2, 2)))
	removed, err := s.Clear(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoError(t, s.Append(ctx, storagetest.Trade("t-3", "alice", domain.StrategyV2, 3)))

	plan := storagetest.Plan("p-1", 0)
	require.NoError(t, s.CreatePlan(ctx, plan))
	plan.Status = domain.PlanCompleted
	require.NoError(t, s.UpdatePlan(ctx, plan))

	// rejected writes are not journaled
	require.ErrorIs(t, s.Append(ctx, storagetest.Trade("t-3", "alice", domain.StrategyV2, 4)), storage.ErrDuplicateKey)
	before := s.CurrentIndex()
	require.NoError(t, s.Close())

	reopened, err := Open(zap.NewNop(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.Equal(t, before, reopened.CurrentIndex())

	loaded, err := reopened.Load(ctx, "alice", domain.StrategyV2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), loaded.Revision)
	require.True(t, decimal.RequireFromString("1900.5").Equal(loaded.PriceBuyHistory))

	trades, total, err := reopened.List(ctx, domain.TradeQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "t-3", trades[0].ID)

	_, total, err = reopened.List(ctx, domain.TradeQuery{UserID: "bob"})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	got, err := reopened.GetPlan(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, domain.PlanCompleted, got.Status)

	_, err = reopened.Save(ctx, cfg)
	require.NoError(t, err, "revision survives the reopen")
}

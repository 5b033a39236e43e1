package dca

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/memory"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.DecisionEvent
}

func (p *recordingPublisher) Publish(event domain.DecisionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []domain.DecisionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DecisionEvent(nil), p.events...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *Engine
	store  *memory.Store
	events *recordingPublisher
	clock  *clock
}

// bandDefaults is the default config with a [1000, 2000] band and a 100 USD step.
func bandDefaults(userID string, version domain.StrategyVersion) domain.StrategyConfig {
	cfg := domain.DefaultStrategyConfig(userID, version)
	cfg.MinPrice = dec("1000")
	cfg.MaxPrice = dec("2000")
	cfg.StepSize = dec("100")
	return cfg
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewStore(),
		events: &recordingPublisher{},
		clock:  &clock{now: t0},
	}
	base := []Option{WithPublisher(f.events), WithClock(f.clock.Now), WithDefaults(bandDefaults)}
	f.engine = NewEngine(zap.NewNop(), f.store, f.store, append(base, opts...)...)
	return f
}

// seed stores cfg as the current state of its user/version.
func (f *fixture) seed(t *testing.T, cfg domain.StrategyConfig) {
	t.Helper()
	_, err := f.store.Save(context.Background(), cfg)
	require.NoError(t, err)
}

func (f *fixture) evaluate(t *testing.T, version domain.StrategyVersion, price string) *domain.Evaluation {
	t.Helper()
	ev, err := f.engine.Evaluate(context.Background(), "alice", version, dec(price))
	require.NoError(t, err)
	f.clock.Advance(4 * time.Hour)
	return ev
}

func (f *fixture) trades(t *testing.T) []domain.TradeRecord {
	t.Helper()
	trades, _, err := f.store.List(context.Background(), domain.TradeQuery{UserID: "alice"})
	require.NoError(t, err)
	return trades
}

func TestEngine_FirstEvaluationBuys(t *testing.T) {
	f := newFixture(t)

	ev := f.evaluate(t, domain.StrategyV1, "1000")

	require.Equal(t, domain.ActionBuy, ev.Action)
	require.NotNil(t, ev.Trade)
	require.True(t, dec("100").Equal(ev.Trade.AmountUSD), "ratePriceDrop is 1 at min price")
	require.True(t, dec("0.099").Equal(ev.Trade.AmountAsset), "100/1000 less slippage")
	require.Equal(t, "USDT", ev.Trade.Swap.From)
	require.Equal(t, "ETH", ev.Trade.Swap.To)
	require.False(t, ev.Stopped)

	cfg, err := f.store.Load(context.Background(), "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.Revision)
	require.True(t, dec("100").Equal(cfg.AmountUSDToBuy))
	require.True(t, dec("0.099").Equal(cfg.AmountAssetBought))
	require.True(t, dec("1000").Equal(cfg.PriceBuyHistory))
	require.True(t, t0.Equal(cfg.LastEvaluatedAt))

	require.Len(t, f.trades(t), 1)

	events := f.events.all()
	require.Len(t, events, 1)
	require.Equal(t, "buy", events[0].Action)
	require.True(t, dec("100").Equal(events[0].AmountUSD))
}

func TestEngine_V1RisingPriceHolds(t *testing.T) {
	f := newFixture(t)

	f.evaluate(t, domain.StrategyV1, "1000")
	ev := f.evaluate(t, domain.StrategyV1, "1100")

	require.Equal(t, domain.ActionHold, ev.Action)
	require.Nil(t, ev.Trade)

	cfg, err := f.store.Load(context.Background(), "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.True(t, dec("1100").Equal(cfg.PriceBuyHistory), "history follows the price on holds")
	require.True(t, dec("100").Equal(cfg.AmountUSDToBuy))
	require.Equal(t, uint64(2), cfg.Revision)

	require.Len(t, f.trades(t), 1)
	require.Len(t, f.events.all(), 2, "holds are published too")
}

func TestEngine_V1Rules(t *testing.T) {
	t.Run("drop below threshold holds", func(t *testing.T) {
		f := newFixture(t)
		f.evaluate(t, domain.StrategyV1, "1000")
		ev := f.evaluate(t, domain.StrategyV1, "995")
		require.Equal(t, domain.ActionHold, ev.Action)
	})

	t.Run("drop over threshold buys more below the band", func(t *testing.T) {
		f := newFixture(t)
		f.evaluate(t, domain.StrategyV1, "1000")
		ev := f.evaluate(t, domain.StrategyV1, "985")

		require.Equal(t, domain.ActionBuy, ev.Action)
		require.True(t, dec("201.5").Equal(ev.Trade.AmountUSD), "got %s", ev.Trade.AmountUSD)
		require.True(t, dec("301.5").Equal(ev.Config.AmountUSDToBuy))
	})

	t.Run("rebound under average cost buys", func(t *testing.T) {
		f := newFixture(t)
		f.evaluate(t, domain.StrategyV1, "1000")
		f.evaluate(t, domain.StrategyV1, "900")
		ev := f.evaluate(t, domain.StrategyV1, "920")

		require.Equal(t, domain.ActionBuy, ev.Action)
		require.Contains(t, ev.Reason, "under average cost")
		require.Len(t, f.trades(t), 3)
	})

	t.Run("v1 never sells", func(t *testing.T) {
		f := newFixture(t)
		cfg := bandDefaults("alice", domain.StrategyV1)
		cfg.PriceBuyHistory = dec("1500")
		cfg.AmountUSDToBuy = dec("100")
		cfg.AmountAssetBought = dec("0.1")
		f.seed(t, cfg)

		ev := f.evaluate(t, domain.StrategyV1, "1900")
		require.Equal(t, domain.ActionHold, ev.Action)
	})
}

func TestEngine_V2(t *testing.T) {
	seeded := func() domain.StrategyConfig {
		cfg := bandDefaults("alice", domain.StrategyV2)
		cfg.PriceBuyHistory = dec("1500")
		cfg.AmountUSDToBuy = dec("100")
		cfg.AmountAssetBought = dec("0.1")
		return cfg
	}

	t.Run("takes profit over average", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, seeded())

		ev := f.evaluate(t, domain.StrategyV2, "1600")

		require.Equal(t, domain.ActionSell, ev.Action)
		require.True(t, dec("0.1").Equal(ev.Trade.AmountAsset), "whole position is sold")
		require.True(t, dec("158.4").Equal(ev.Trade.AmountUSD), "got %s", ev.Trade.AmountUSD)
		require.Equal(t, "ETH", ev.Trade.Swap.From)
		require.Equal(t, "USDT", ev.Trade.Swap.To)

		cfg := ev.Config
		require.True(t, cfg.AmountAssetBought.IsZero())
		require.True(t, cfg.AmountUSDToBuy.IsZero())
		require.True(t, dec("1158.4").Equal(cfg.InitialCapital))
		require.True(t, dec("1058.4").Equal(cfg.Capital))
		require.True(t, dec("1600").Equal(cfg.PriceBuyHistory))
	})

	t.Run("gain under ratioPriceUp holds", func(t *testing.T) {
		f := newFixture(t)
		cfg := seeded()
		cfg.PriceBuyHistory = dec("1020")
		f.seed(t, cfg)

		ev := f.evaluate(t, domain.StrategyV2, "1030")
		require.Equal(t, domain.ActionHold, ev.Action)
	})

	t.Run("any drop buys", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, seeded())

		ev := f.evaluate(t, domain.StrategyV2, "1499")
		require.Equal(t, domain.ActionBuy, ev.Action)
	})

	t.Run("rise still under average buys", func(t *testing.T) {
		f := newFixture(t)
		cfg := seeded()
		cfg.PriceBuyHistory = dec("1100")
		cfg.AmountUSDToBuy = dec("240")
		f.seed(t, cfg)

		ev := f.evaluate(t, domain.StrategyV2, "1200")
		require.Equal(t, domain.ActionBuy, ev.Action)
	})

	t.Run("partial sell keeps the cost basis proportional", func(t *testing.T) {
		cfg := seeded()
		cfg.AmountUSDToBuy = dec("0.01")
		cfg.AmountAssetBought = dec("1")
		cfg.PriceBuyHistory = dec("1500")

		ev, mutated, err := decide(policyV2{}, cfg, dec("1600"), t0)
		require.NoError(t, err)
		require.True(t, mutated)
		require.Equal(t, domain.ActionSell, ev.Action)

		sold := dec("0.0375")
		require.True(t, sold.Equal(ev.Trade.AmountAsset), "got %s", ev.Trade.AmountAsset)
		require.True(t, dec("0.9625").Equal(ev.Config.AmountAssetBought))
		require.True(t, dec("0.009625").Equal(ev.Config.AmountUSDToBuy), "got %s", ev.Config.AmountUSDToBuy)
	})
}

func TestEngine_EntryGate(t *testing.T) {
	t.Run("price at max holds without saving", func(t *testing.T) {
		f := newFixture(t)
		ev := f.evaluate(t, domain.StrategyV1, "2000")

		require.Equal(t, domain.ActionHold, ev.Action)
		_, err := f.store.Load(context.Background(), "alice", domain.StrategyV1)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.Len(t, f.events.all(), 1)
	})

	t.Run("stopped strategy holds until reset", func(t *testing.T) {
		f := newFixture(t)
		cfg := bandDefaults("alice", domain.StrategyV2)
		cfg.IsStop = true
		cfg.PriceBuyHistory = dec("1500")
		f.seed(t, cfg)

		ev := f.evaluate(t, domain.StrategyV2, "1100")
		require.Equal(t, domain.ActionHold, ev.Action)
		require.True(t, ev.Stopped)

		stored, err := f.store.Load(context.Background(), "alice", domain.StrategyV2)
		require.NoError(t, err)
		require.Equal(t, uint64(1), stored.Revision, "stopped evaluations do not write")
		require.True(t, dec("1500").Equal(stored.PriceBuyHistory))

		reset, err := f.engine.ResetStop(context.Background(), "alice", domain.StrategyV2)
		require.NoError(t, err)
		require.False(t, reset.IsStop)

		ev = f.evaluate(t, domain.StrategyV2, "1100")
		require.Equal(t, domain.ActionBuy, ev.Action)
	})
}

func TestEngine_CapitalGuard(t *testing.T) {
	t.Run("last buy shrinks to the remainder and stops", func(t *testing.T) {
		f := newFixture(t)
		cfg := bandDefaults("alice", domain.StrategyV2)
		cfg.Capital = dec("150")
		cfg.PriceBuyHistory = dec("1100")
		cfg.AmountUSDToBuy = dec("100")
		cfg.AmountAssetBought = dec("0.09")
		f.seed(t, cfg)

		ev := f.evaluate(t, domain.StrategyV2, "1000")
		require.Equal(t, domain.ActionBuy, ev.Action)
		require.True(t, dec("50").Equal(ev.Trade.AmountUSD))
		require.True(t, ev.Stopped)
		require.True(t, dec("150").Equal(ev.Config.AmountUSDToBuy))

		ev = f.evaluate(t, domain.StrategyV2, "900")
		require.Equal(t, domain.ActionHold, ev.Action)
		require.True(t, ev.Stopped)
		require.Len(t, f.trades(t), 1)
	})

	t.Run("no capital left stops without a trade", func(t *testing.T) {
		f := newFixture(t)
		cfg := bandDefaults("alice", domain.StrategyV2)
		cfg.Capital = dec("100")
		cfg.PriceBuyHistory = dec("1100")
		cfg.AmountUSDToBuy = dec("100")
		cfg.AmountAssetBought = dec("0.09")
		f.seed(t, cfg)

		ev := f.evaluate(t, domain.StrategyV2, "1000")
		require.Equal(t, domain.ActionHold, ev.Action)
		require.Nil(t, ev.Trade)
		require.True(t, ev.Stopped)
		require.Equal(t, domain.ErrInsufficientCapital.Error(), ev.Reason)

		stored, err := f.store.Load(context.Background(), "alice", domain.StrategyV2)
		require.NoError(t, err)
		require.True(t, stored.IsStop)
		require.Empty(t, f.trades(t))
	})
}

func TestEngine_PrecisionViolationPersistsNothing(t *testing.T) {
	f := newFixture(t)
	cfg := bandDefaults("alice", domain.StrategyV1)
	cfg.Capital = dec("-10")
	f.seed(t, cfg)

	_, err := f.engine.Evaluate(context.Background(), "alice", domain.StrategyV1, dec("1200"))
	require.ErrorIs(t, err, domain.ErrPrecisionViolation)

	stored, err := f.store.Load(context.Background(), "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stored.Revision)
	require.False(t, stored.IsStop)
	require.Empty(t, f.trades(t))
	require.Empty(t, f.events.all())
}

func TestEngine_MinInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Evaluate(ctx, "alice", domain.StrategyV1, dec("1000"))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.engine.Evaluate(ctx, "alice", domain.StrategyV1, dec("900"))
	require.ErrorIs(t, err, domain.ErrEvaluationTooSoon)

	f.clock.Advance(DefaultMinInterval - time.Hour)
	ev, err := f.engine.Evaluate(ctx, "alice", domain.StrategyV1, dec("900"))
	require.NoError(t, err)
	require.Equal(t, domain.ActionBuy, ev.Action)
}

func TestEngine_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Evaluate(ctx, "alice", domain.StrategyV1, decimal.Zero)
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = f.engine.Evaluate(ctx, "alice", 7, dec("1000"))
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = f.engine.Evaluate(ctx, "", domain.StrategyV1, dec("1000"))
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

// conflictOnce fails the first Save with ErrConflict after bumping the stored revision,
// as a writer in another process would.
type conflictOnce struct {
	*memory.Store
	mu    sync.Mutex
	saves int
}

func (c *conflictOnce) Save(ctx context.Context, cfg domain.StrategyConfig) (domain.StrategyConfig, error) {
	c.mu.Lock()
	c.saves++
	first := c.saves == 1
	c.mu.Unlock()

	if first {
		current, err := c.Store.Load(ctx, cfg.UserID, cfg.Version)
		if err != nil {
			return domain.StrategyConfig{}, err
		}
		current.PriceBuyHistory = dec("1300")
		if _, err := c.Store.Save(ctx, current); err != nil {
			return domain.StrategyConfig{}, err
		}
		return domain.StrategyConfig{}, storage.ErrConflict
	}
	return c.Store.Save(ctx, cfg)
}

func TestEngine_RetriesOnConflict(t *testing.T) {
	store := &conflictOnce{Store: memory.NewStore()}
	_, err := store.Store.Save(context.Background(), bandDefaults("alice", domain.StrategyV2))
	require.NoError(t, err)

	engine := NewEngine(zap.NewNop(), store, store.Store, WithDefaults(bandDefaults))

	ev, err := engine.Evaluate(context.Background(), "alice", domain.StrategyV2, dec("1200"))
	require.NoError(t, err)
	require.Equal(t, 2, store.saves)
	require.Equal(t, uint64(3), ev.Config.Revision)
	require.True(t, dec("1200").Equal(ev.Config.PriceBuyHistory))
	require.Equal(t, domain.ActionBuy, ev.Action)
	require.Contains(t, ev.Reason, "under last evaluation 1300", "re-evaluated against the concurrent write")
}

func TestEngine_ConcurrentEvaluationsAreSerialized(t *testing.T) {
	f := newFixture(t, WithMinInterval(0), WithDefaults(func(userID string, version domain.StrategyVersion) domain.StrategyConfig {
		cfg := bandDefaults(userID, version)
		cfg.Capital = dec("1000000")
		return cfg
	}))
	ctx := context.Background()

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Evaluate(ctx, "alice", domain.StrategyV2, decimal.NewFromInt(int64(1100+i*10)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	cfg, err := f.store.Load(ctx, "alice", domain.StrategyV2)
	require.NoError(t, err)
	require.Equal(t, uint64(workers), cfg.Revision, "every evaluation saw the previous one")
	require.NoError(t, cfg.CheckInvariants())
	require.Zero(t, f.engine.locks.size())
}

func TestEngine_Configure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.engine.Configure(ctx, "alice", domain.StrategyV1, func(c *domain.StrategyConfig) error {
		c.StepSize = dec("75")
		c.Revision = 99
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.Revision, "callers cannot forge revisions")
	require.True(t, dec("75").Equal(cfg.StepSize))

	_, err = f.engine.Configure(ctx, "alice", domain.StrategyV1, func(c *domain.StrategyConfig) error {
		c.MinPrice = c.MaxPrice
		return nil
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = f.engine.Configure(ctx, "alice", domain.StrategyV1, func(*domain.StrategyConfig) error {
		return errors.New("bad patch")
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	got, err := f.engine.Config(ctx, "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Revision)

	fresh, err := f.engine.Config(ctx, "bob", domain.StrategyV2)
	require.NoError(t, err)
	require.Zero(t, fresh.Revision)
	require.True(t, dec("100").Equal(fresh.StepSize))
}

type failingLog struct{}

func (failingLog) Append(context.Context, domain.TradeRecord) error { return errors.New("disk full") }

func TestEngine_TradeAppendFailure(t *testing.T) {
	store := memory.NewStore()
	engine := NewEngine(zap.NewNop(), store, failingLog{}, WithDefaults(bandDefaults))

	ev, err := engine.Evaluate(context.Background(), "alice", domain.StrategyV1, dec("1000"))
	require.ErrorContains(t, err, "disk full")
	require.NotNil(t, ev)
	require.NotNil(t, ev.Trade)

	// the config is saved ahead of the trade, so the caller holds the only copy of it
	stored, err := store.Load(context.Background(), "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.True(t, ev.Trade.AmountUSD.Equal(stored.AmountUSDToBuy))
}

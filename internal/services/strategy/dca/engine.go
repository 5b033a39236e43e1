// Package dca implements the Dollar-Cost Averaging decision engine: one state
// machine per user and strategy version, with the buy/sell rules supplied by a Policy.
package dca

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/pkg/retrier"
)

const (
	// DefaultMinInterval minimum time between two mutating evaluations of one user/version.
	DefaultMinInterval = 3*time.Hour + 30*time.Minute

	saveRetries = 3
)

type configStore interface {
	Load(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error)
	Save(ctx context.Context, cfg domain.StrategyConfig) (domain.StrategyConfig, error)
}

type tradeLog interface {
	Append(ctx context.Context, trade domain.TradeRecord) error
}

type publisher interface {
	Publish(event domain.DecisionEvent)
}

// Engine evaluates DCA decisions and persists their outcome.
type Engine struct {
	l           *zap.Logger
	configs     configStore
	trades      tradeLog
	events      publisher
	locks       *keyedLock
	retrier     *retrier.Retrier
	minInterval time.Duration
	defaults    func(userID string, version domain.StrategyVersion) domain.StrategyConfig
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinInterval overrides DefaultMinInterval. Zero disables the gate.
func WithMinInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.minInterval = d
		}
	}
}

// WithDefaults sets the config a user starts with.
func WithDefaults(fn func(userID string, version domain.StrategyVersion) domain.StrategyConfig) Option {
	return func(e *Engine) {
		if fn != nil {
			e.defaults = fn
		}
	}
}

// WithPublisher sets where decision events go.
func WithPublisher(p publisher) Option {
	return func(e *Engine) {
		e.events = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a decision engine over a config store and a trade log.
func NewEngine(l *zap.Logger, configs configStore, trades tradeLog, opts ...Option) *Engine {
	e := &Engine{
		l:           l,
		configs:     configs,
		trades:      trades,
		locks:       newKeyedLock(),
		minInterval: DefaultMinInterval,
		defaults:    domain.DefaultStrategyConfig,
		now:         time.Now,
		retrier: retrier.New(
			retrier.WithMaxRetries(saveRetries),
			retrier.WithInitialInterval(10*time.Millisecond),
			retrier.WithMaxInterval(200*time.Millisecond),
			retrier.WithRetryIf(func(err error) bool { return errors.Is(err, storage.ErrConflict) }),
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the stored config, or the defaults when none was saved yet.
func (e *Engine) Config(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error) {
	cfg, err := e.configs.Load(ctx, userID, version)
	if errors.Is(err, storage.ErrNotFound) {
		return e.defaults(userID, version), nil
	}
	if err != nil {
		return domain.StrategyConfig{}, errors.Wrapf(err, "load config %s", domain.ConfigKey(userID, version))
	}
	return cfg, nil
}

// Configure applies mutate to the current config and saves it under the same
// serialization as Evaluate. The result must pass validation.
func (e *Engine) Configure(ctx context.Context, userID string, version domain.StrategyVersion, mutate func(*domain.StrategyConfig) error) (domain.StrategyConfig, error) {
	if !version.Valid() {
		return domain.StrategyConfig{}, errors.Wrapf(storage.ErrInvalidInput, "unsupported strategy version %d", version)
	}

	unlock := e.locks.Lock(domain.ConfigKey(userID, version))
	defer unlock()

	return retrier.DoWithData(e.retrier, ctx, func(ctx context.Context) (domain.StrategyConfig, error) {
		cfg, err := e.Config(ctx, userID, version)
		if err != nil {
			return domain.StrategyConfig{}, err
		}

		revision := cfg.Revision
		if err := mutate(&cfg); err != nil {
			return domain.StrategyConfig{}, errors.Wrap(storage.ErrInvalidInput, err.Error())
		}
		cfg.UserID, cfg.Version, cfg.Revision = userID, version, revision

		if err := cfg.Validate(); err != nil {
			return domain.StrategyConfig{}, errors.Wrap(storage.ErrInvalidInput, err.Error())
		}
		if err := cfg.CheckInvariants(); err != nil {
			return domain.StrategyConfig{}, errors.Wrap(storage.ErrInvalidInput, err.Error())
		}

		return e.configs.Save(ctx, cfg)
	})
}

// ResetStop clears the stop flag so buys resume.
func (e *Engine) ResetStop(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error) {
	return e.Configure(ctx, userID, version, func(cfg *domain.StrategyConfig) error {
		cfg.IsStop = false
		return nil
	})
}

// Evaluate runs one DCA step for userID/version at price. Holds that do not pass the
// entry gate leave the stored config untouched; every other outcome is saved.
// When the trade append fails after the save, the evaluation is returned along
// with the error: the stored config already reflects the trade and the caller
// must record ev.Trade itself.
func (e *Engine) Evaluate(ctx context.Context, userID string, version domain.StrategyVersion, price decimal.Decimal) (*domain.Evaluation, error) {
	if userID == "" || !version.Valid() {
		return nil, errors.Wrapf(storage.ErrInvalidInput, "invalid user %q or version %d", userID, version)
	}
	if !price.IsPositive() {
		return nil, errors.Wrapf(storage.ErrInvalidInput, "price must be positive, got %s", price)
	}

	policy, err := PolicyFor(version)
	if err != nil {
		return nil, err
	}

	l := e.l.With(zap.String("user", userID), zap.Int("version", int(version)))

	unlock := e.locks.Lock(domain.ConfigKey(userID, version))
	defer unlock()

	var (
		ev      *domain.Evaluation
		mutated bool
	)
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		cfg, err := e.Config(ctx, userID, version)
		if err != nil {
			return err
		}

		now := e.now()
		if e.minInterval > 0 && !cfg.LastEvaluatedAt.IsZero() && now.Sub(cfg.LastEvaluatedAt) < e.minInterval {
			return errors.Wrapf(domain.ErrEvaluationTooSoon, "last evaluation at %s", cfg.LastEvaluatedAt.Format(time.RFC3339))
		}

		ev, mutated, err = decide(policy, cfg, price, now)
		if err != nil || !mutated {
			return err
		}

		saved, err := e.configs.Save(ctx, ev.Config)
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				l.Debug("config changed concurrently, re-evaluating")
			}
			return err
		}
		ev.Config = saved
		return nil
	})
	if err != nil {
		observability.RecordEvaluationError(errorReason(err))
		if errors.Is(err, domain.ErrEvaluationTooSoon) {
			l.Debug("evaluation skipped", zap.Error(err))
		} else {
			l.Error("evaluation failed", zap.String("price", price.String()), zap.Error(err))
		}
		return nil, err
	}

	if ev.Trade != nil {
		if err := e.trades.Append(ctx, *ev.Trade); err != nil {
			// the config is already saved; the trade is reported so callers can reconcile.
			l.Error("failed to append trade", zap.String("trade", ev.Trade.ID), zap.Error(err))
			return ev, errors.Wrap(err, "append trade")
		}
	}

	if e.events != nil {
		e.events.Publish(domain.NewDecisionEvent(ev, price, e.now()))
	}
	observability.RecordDecision(strconv.Itoa(int(version)), ev.Action.String(), ev.Stopped)

	fields := []zap.Field{
		zap.String("action", ev.Action.String()),
		zap.String("reason", ev.Reason),
		zap.String("price", price.String()),
		zap.String("avg_cost", ev.Config.AverageCost().StringFixed(2)),
		zap.Bool("stopped", ev.Stopped),
	}
	if ev.Trade != nil {
		fields = append(fields,
			zap.String("amount_usd", ev.Trade.AmountUSD.String()),
			zap.String("amount_asset", ev.Trade.AmountAsset.String()))
		l.Info("DCA trade decided", fields...)
	} else {
		l.Debug("DCA hold", fields...)
	}

	return ev, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEvaluationTooSoon):
		return "too_soon"
	case errors.Is(err, domain.ErrPrecisionViolation):
		return "precision"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	default:
		return "store"
	}
}

// decide is the pure evaluation step. mutated is false for entry-gate holds.
func decide(policy Policy, cfg domain.StrategyConfig, price decimal.Decimal, now time.Time) (*domain.Evaluation, bool, error) {
	ev := &domain.Evaluation{Config: cfg, Action: domain.ActionHold, Stopped: cfg.IsStop}

	if cfg.IsStop {
		ev.Reason = "strategy stopped"
		return ev, false, nil
	}
	if !price.LessThan(cfg.MaxPrice) {
		ev.Reason = fmt.Sprintf("price %s not below max price %s", price, cfg.MaxPrice)
		return ev, false, nil
	}

	var d domain.Decision
	if !cfg.PriceBuyHistory.IsPositive() {
		cfg.PriceBuyHistory = price
		d = domain.Decision{Action: domain.ActionBuy, Reason: "first evaluation"}
	} else {
		d = policy.Decide(cfg, price)
	}
	ev.Reason = d.Reason

	before := cfg
	switch d.Action {
	case domain.ActionBuy:
		ev.Trade = buy(&cfg, price, now)
		if ev.Trade == nil {
			ev.Reason = domain.ErrInsufficientCapital.Error()
		}
	case domain.ActionSell:
		ev.Trade = sell(&cfg, price, d.Amount, now)
	}
	if ev.Trade != nil {
		ev.Action = ev.Trade.Action
	}

	cfg.PriceBuyHistory = price
	cfg.LastEvaluatedAt = now
	ev.Config = cfg
	ev.Stopped = cfg.IsStop

	if err := checkTransition(before, cfg, ev.Trade); err != nil {
		return nil, false, err
	}

	return ev, true, nil
}

// buy sizes the ticket as ratePriceDrop x stepSize, shrinking it to the
// uncommitted capital. It returns nil when no capital is left.
func buy(cfg *domain.StrategyConfig, price decimal.Decimal, now time.Time) *domain.TradeRecord {
	rate := domain.RatePriceDrop(price, cfg.MinPrice, cfg.MaxPrice)
	usd := rate.Mul(cfg.StepSize)

	if cfg.AmountUSDToBuy.Add(usd).GreaterThan(cfg.Capital) {
		usd = cfg.Capital.Sub(cfg.AmountUSDToBuy)
		cfg.IsStop = true
	}
	if !usd.IsPositive() {
		return nil
	}

	asset := usd.DivRound(price, domain.DivisionScale).Mul(cfg.SlippageFactor())

	cfg.AmountUSDToBuy = cfg.AmountUSDToBuy.Add(usd)
	cfg.AmountAssetBought = cfg.AmountAssetBought.Add(asset)

	return &domain.TradeRecord{
		ID:          uuid.New().String(),
		UserID:      cfg.UserID,
		Version:     cfg.Version,
		Timestamp:   now,
		Price:       price,
		Action:      domain.ActionBuy,
		AmountUSD:   usd,
		AmountAsset: asset,
		Swap: domain.SwapInfo{
			From:      cfg.Pair.To,
			To:        cfg.Pair.From,
			AmountIn:  usd,
			AmountOut: asset,
		},
	}
}

// sell books amount of the asset at price. The cost basis drops in proportion
// to the share of the position sold, so a full sell zeroes both aggregates.
func sell(cfg *domain.StrategyConfig, price, amount decimal.Decimal, now time.Time) *domain.TradeRecord {
	held := cfg.AmountAssetBought
	if !amount.IsPositive() || !held.IsPositive() {
		return nil
	}
	amount = decimal.Min(amount, held)

	proceeds := amount.Mul(price).Mul(cfg.SlippageFactor())
	costReduction := cfg.AmountUSDToBuy
	if amount.LessThan(held) {
		costReduction = cfg.AmountUSDToBuy.Mul(amount).DivRound(held, domain.DivisionScale)
	}

	cfg.AmountAssetBought = held.Sub(amount)
	cfg.AmountUSDToBuy = cfg.AmountUSDToBuy.Sub(costReduction)
	cfg.InitialCapital = cfg.InitialCapital.Add(proceeds)
	cfg.Capital = cfg.Capital.Add(proceeds.Sub(costReduction))

	return &domain.TradeRecord{
		ID:          uuid.New().String(),
		UserID:      cfg.UserID,
		Version:     cfg.Version,
		Timestamp:   now,
		Price:       price,
		Action:      domain.ActionSell,
		AmountUSD:   proceeds,
		AmountAsset: amount,
		Swap: domain.SwapInfo{
			From:      cfg.Pair.From,
			To:        cfg.Pair.To,
			AmountIn:  amount,
			AmountOut: proceeds,
		},
	}
}

// checkTransition verifies the cost basis after a step.
func checkTransition(before, after domain.StrategyConfig, trade *domain.TradeRecord) error {
	if err := after.CheckInvariants(); err != nil {
		return errors.Wrap(domain.ErrPrecisionViolation, err.Error())
	}
	if trade == nil {
		if !before.AmountUSDToBuy.Equal(after.AmountUSDToBuy) || !before.AmountAssetBought.Equal(after.AmountAssetBought) {
			return errors.Wrap(domain.ErrPrecisionViolation, "cost basis changed without a trade")
		}
		return nil
	}
	if !trade.AmountUSD.IsPositive() || !trade.AmountAsset.IsPositive() {
		return errors.Wrapf(domain.ErrPrecisionViolation, "non-positive %s: usd %s asset %s", trade.Action, trade.AmountUSD, trade.AmountAsset)
	}

	if trade.Action == domain.ActionBuy {
		if !after.AmountUSDToBuy.Equal(before.AmountUSDToBuy.Add(trade.AmountUSD)) ||
			!after.AmountAssetBought.Equal(before.AmountAssetBought.Add(trade.AmountAsset)) {
			return errors.Wrap(domain.ErrPrecisionViolation, "buy deltas do not match the cost basis")
		}
	}
	return nil
}

// Package scheduler runs DCA evaluations and allocation plan checks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
)

const (
	jobDCA   = "dca"
	jobPlans = "plans"
)

type evaluator interface {
	Evaluate(ctx context.Context, userID string, version domain.StrategyVersion, price decimal.Decimal) (*domain.Evaluation, error)
}

type pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

type planService interface {
	ActivePlans(ctx context.Context) ([]domain.AllocationPlan, error)
	Recommend(ctx context.Context, planID string, price *decimal.Decimal) (domain.AllocationRecommendation, error)
	Execute(ctx context.Context, planID string, price *decimal.Decimal) (domain.AllocationRecommendation, *domain.TradeRecord, error)
}

// Target is one strategy the DCA job evaluates.
type Target struct {
	UserID  string
	Version domain.StrategyVersion
	Pair    domain.Pair
}

// Options of the scheduler. Specs use the standard five-field cron syntax or descriptors like "@every 30m".
type Options struct {
	DCASpec          string
	PlanSpec         string
	Workers          int32
	JobTimeout       time.Duration
	AutoExecutePlans bool
}

// Scheduler owns the cron runner and the worker pool evaluations run on.
type Scheduler struct {
	l       *zap.Logger
	opts    Options
	cron    *cron.Cron
	pool    gopool.Pool
	engine  evaluator
	pricer  pricer
	plans   planService
	targets []Target
}

// New creates a scheduler. plans may be nil to disable the plan job.
func New(l *zap.Logger, opts Options, engine evaluator, p pricer, plans planService, targets []Target) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}

	logger := cronLogger{l: l.Sugar()}
	pool := gopool.NewPool("dca-evaluations", opts.Workers, gopool.NewConfig())
	pool.SetPanicHandler(func(_ context.Context, r interface{}) {
		l.Error("evaluation panicked", zap.Any("panic", r))
	})

	return &Scheduler{
		l:    l,
		opts: opts,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		pool:    pool,
		engine:  engine,
		pricer:  p,
		plans:   plans,
		targets: targets,
	}
}

// Register adds the configured jobs. Empty specs are skipped.
func (s *Scheduler) Register() error {
	if s.opts.DCASpec != "" {
		if _, err := s.cron.AddFunc(s.opts.DCASpec, s.job(jobDCA, s.RunDCA)); err != nil {
			return fmt.Errorf("register dca job: %w", err)
		}
	}
	if s.opts.PlanSpec != "" && s.plans != nil {
		if _, err := s.cron.AddFunc(s.opts.PlanSpec, s.job(jobPlans, s.RunPlans)); err != nil {
			return fmt.Errorf("register plan job: %w", err)
		}
	}
	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.l.Info("scheduler started", zap.Int("targets", len(s.targets)), zap.String("dca", s.opts.DCASpec), zap.String("plans", s.opts.PlanSpec))
}

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.l.Info("scheduler stopped")
}

func (s *Scheduler) job(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
		defer cancel()

		err := run(ctx)
		observability.RecordJobRun(name, err)
		if err != nil {
			s.l.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// RunDCA prices every distinct pair once and evaluates all targets on the pool.
// Evaluations refused for running too soon are not failures.
func (s *Scheduler) RunDCA(ctx context.Context) error {
	prices := make(map[domain.Pair]decimal.Decimal)
	for _, t := range s.targets {
		if _, ok := prices[t.Pair]; ok {
			continue
		}
		price, err := s.pricer.GetPrice(ctx, t.Pair)
		if err != nil {
			return errors.Wrapf(err, "get %s price", t.Pair)
		}
		prices[t.Pair] = price
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, t := range s.targets {
		t := t
		price := prices[t.Pair]
		wg.Add(1)
		s.pool.CtxGo(ctx, func() {
			defer wg.Done()
			if err := s.evaluate(ctx, t, price); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if failed > 0 {
		return errors.Errorf("%d of %d evaluations failed", failed, len(s.targets))
	}
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, t Target, price decimal.Decimal) error {
	l := s.l.With(zap.String("user", t.UserID), zap.Int("version", int(t.Version)))

	ev, err := s.engine.Evaluate(ctx, t.UserID, t.Version, price)
	if errors.Is(err, domain.ErrEvaluationTooSoon) {
		l.Debug("evaluation skipped", zap.Error(err))
		return nil
	}
	if err != nil {
		l.Error("evaluation failed", zap.Error(err))
		return err
	}

	l.Debug("evaluated", zap.String("action", ev.Action.String()), zap.String("price", price.String()))
	return nil
}

// RunPlans logs the recommendation of every active plan, executing it when
// AutoExecutePlans is set.
func (s *Scheduler) RunPlans(ctx context.Context) error {
	plans, err := s.plans.ActivePlans(ctx)
	if err != nil {
		return errors.Wrap(err, "list active plans")
	}

	var failed int
	for _, plan := range plans {
		l := s.l.With(zap.String("plan", plan.ID), zap.String("asset", plan.Asset))

		var (
			rec   domain.AllocationRecommendation
			trade *domain.TradeRecord
		)
		if s.opts.AutoExecutePlans {
			rec, trade, err = s.plans.Execute(ctx, plan.ID, nil)
		} else {
			rec, err = s.plans.Recommend(ctx, plan.ID, nil)
		}
		if err != nil {
			failed++
			l.Error("plan check failed", zap.Error(err))
			continue
		}

		fields := []zap.Field{
			zap.String("status", string(rec.Status)),
			zap.String("price", rec.CurrentPrice.String()),
			zap.String("suggested_capital", rec.SuggestedCapital.StringFixed(2)),
			zap.String("executed_percent", rec.Progress.ExecutedPercent.StringFixed(2)),
		}
		if trade != nil {
			fields = append(fields, zap.String("trade", trade.ID))
		}
		l.Info("plan checked", fields...)
	}

	if failed > 0 {
		return errors.Errorf("%d of %d plans failed", failed, len(plans))
	}
	return nil
}

// cronLogger adapts zap to cron.Logger. Routine cron chatter goes to Debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

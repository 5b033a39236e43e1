package internal

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CongSofwareEngineer/bot-dca-token/config"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/clients"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/events"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/scheduler"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/allocation"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pool"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricer"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/solver"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/strategy/dca"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/web"
)

const (
	eventBuffer     = 64
	shutdownTimeout = 10 * time.Second
)

type snapshotReader interface {
	Snapshot(ctx context.Context, address common.Address) (domain.PoolSnapshot, error)
}

// App is one running bot process: stores, services, scheduler and web server.
type App struct {
	l    *zap.Logger
	conf config.Config

	store   storage.Store
	closers []func()

	Engine    *dca.Engine
	Plans     *allocation.Service
	Solver    *solver.Solver
	Events    *events.DecisionBroadcaster
	scheduler *scheduler.Scheduler
	web       *web.Server
}

// NewApp dials the chain RPC and wires every component.
func NewApp(ctx context.Context, l *zap.Logger, conf config.Config) (*App, error) {
	eth, err := clients.NewEthClient(ctx, conf.Chain.RPCURL, conf.Chain.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", conf.Chain.Name)
	}

	app, err := newApp(ctx, l, conf, eth)
	if err != nil {
		eth.Close()
		return nil, err
	}
	app.closers = append(app.closers, eth.Close)

	return app, nil
}

func newApp(ctx context.Context, l *zap.Logger, conf config.Config, caller ethereum.ContractCaller) (*App, error) {
	store, err := newStore(ctx, l.Named("storage"), conf)
	if err != nil {
		return nil, err
	}

	reader := pool.NewReader(l.Named("pool"), caller, conf.Chain.Factory, conf.CallTimeout)
	quoter := pool.NewQuoter(caller, conf.Chain.QuoterV2, conf.CallTimeout)
	slv := solver.New(l.Named("solver"), reader, quoter, solver.Options{
		Chunks:        conf.SolverChunks,
		MaxIterations: conf.SolverMaxIterations,
		MaxMultiplier: conf.SolverMaxMultiplier,
	})

	broadcaster := events.NewDecisionBroadcaster(eventBuffer)
	engine := dca.NewEngine(l.Named("dca"), store, store,
		dca.WithMinInterval(conf.MinInterval),
		dca.WithDefaults(conf.StrategyConfig),
		dca.WithPublisher(broadcaster),
	)

	dcaFeed, err := newDCAFeed(conf, reader)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var planFeed pricer.Pricer
	planSpec := conf.PlanSchedule
	if conf.PlanFeed != "" {
		if planFeed, err = newExchangeFeed(conf, conf.PlanFeed); err != nil {
			_ = store.Close()
			return nil, err
		}
	} else {
		planSpec = ""
	}
	plans := allocation.NewService(l.Named("allocation"), allocation.NewPlanner(), store, store, planFeed, conf.PlanQuote)

	targets := make([]scheduler.Target, 0, len(conf.Strategies))
	for _, s := range conf.Strategies {
		targets = append(targets, scheduler.Target{
			UserID:  s.UserID,
			Version: s.Version,
			Pair:    conf.StrategyConfig(s.UserID, s.Version).Pair,
		})
	}
	sched := scheduler.New(l.Named("scheduler"), scheduler.Options{
		DCASpec:          conf.DCASchedule,
		PlanSpec:         planSpec,
		Workers:          int32(conf.Workers),
		JobTimeout:       conf.JobTimeout,
		AutoExecutePlans: conf.AutoExecutePlans,
	}, engine, dcaFeed, plans, targets)

	server := web.NewServer(l.Named("web"), conf.WebAddr, web.Deps{
		Solver: slv,
		Pools:  reader,
		Engine: engine,
		Trades: store,
		Plans:  plans,
		Pricer: dcaFeed,
		Events: broadcaster,
	})

	return &App{
		l:         l,
		conf:      conf,
		store:     store,
		Engine:    engine,
		Plans:     plans,
		Solver:    slv,
		Events:    broadcaster,
		scheduler: sched,
		web:       server,
	}, nil
}

// Run starts the jobs and the web server and blocks until ctx is cancelled
// or a component fails.
func (a *App) Run(ctx context.Context) error {
	for _, asset := range a.conf.PlanAssets {
		plan, err := a.Plans.DefaultPlan(ctx, asset)
		if err != nil {
			return errors.Wrapf(err, "failed to ensure default plan for %s", asset)
		}
		a.l.Info("allocation plan ready", zap.String("asset", plan.Asset), zap.String("plan", plan.ID))
	}

	if err := a.scheduler.Register(); err != nil {
		return err
	}
	a.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	if a.conf.WebAddr != "" {
		g.Go(func() error {
			if len(a.conf.TLSDomains) > 0 {
				return a.web.StartWithAutoTLS(gctx, a.conf.TLSDomains, a.conf.TLSCacheDir)
			}
			return a.web.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.scheduler.Stop(stopCtx)
		return nil
	})

	return g.Wait()
}

// Close releases the store and the RPC connection.
func (a *App) Close() error {
	err := a.store.Close()
	for _, c := range a.closers {
		c()
	}
	return err
}

package internal

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/config"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/clients"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricer"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/memory"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/postgres"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/sqlite"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/walstore"
)

// newStore opens the configured storage backend.
func newStore(ctx context.Context, l *zap.Logger, conf config.Config) (storage.Store, error) {
	switch conf.Backend {
	case storage.BackendMemory:
		l.Warn("using in-memory storage, state is lost on exit")
		return memory.NewStore(), nil
	case storage.BackendWAL:
		s, err := walstore.Open(l, conf.WALDir)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open wal store")
		}
		return s, nil
	case storage.BackendSQLite:
		s, err := sqlite.Open(conf.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open sqlite store")
		}
		return s, nil
	case storage.BackendPostgres:
		s, err := postgres.Open(ctx, conf.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open postgres store")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", conf.Backend)
	}
}

// newExchangeFeed creates a reference price feed backed by an exchange API.
func newExchangeFeed(conf config.Config, feed string) (pricer.Pricer, error) {
	switch feed {
	case pricer.FeedBinance:
		return pricer.NewBinancePricer(clients.NewBinanceClient(conf.BinanceAPIKey, conf.BinanceAPISecret)), nil
	case pricer.FeedBybit:
		return pricer.NewBybitPricer(clients.NewBybitClient(conf.BybitAPIKey, conf.BybitAPISecret)), nil
	case pricer.FeedHyperliquid:
		client, err := clients.NewHyperliquidReadOnlyClient(conf.HyperliquidURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create hyperliquid client")
		}
		return pricer.NewHyperliquidPricer(client.Info()), nil
	default:
		return nil, fmt.Errorf("unsupported price feed: %s", feed)
	}
}

// newDCAFeed routes every configured strategy pair to its pool with the pool
// feed, otherwise all pairs go to the exchange feed.
func newDCAFeed(conf config.Config, reader snapshotReader) (pricer.Pricer, error) {
	if conf.PriceFeed != pricer.FeedPool {
		return newExchangeFeed(conf, conf.PriceFeed)
	}

	router := pricer.NewRouter(nil)
	for _, s := range conf.Strategies {
		pair := conf.StrategyConfig(s.UserID, s.Version).Pair
		router.Route(pair, pricer.NewPoolPricer(reader, s.Pool, s.Asset))
	}
	return router, nil
}

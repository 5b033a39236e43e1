// Command bot runs the DCA decision engine, the allocation planner jobs and
// the HTTP API over a Uniswap v3 price source.
//
// Usage:
//
//	bot --config config.yaml
//	bot --setup (interactive wizard, writes config.gen.yaml and starts)
//
// Environment variables (also read from .env):
//
//	RPC_URL, STORAGE_BACKEND, POSTGRES_DSN, SQLITE_PATH, WAL_DIR, WEB_ADDR
//	BINANCE_API_KEY, BINANCE_API_SECRET, BYBIT_API_KEY, BYBIT_API_SECRET, HYPERLIQUID_URL
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/config"
	"github.com/CongSofwareEngineer/bot-dca-token/internal"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/setup"
)

func main() {
	flags := config.ParseFlags()
	if flags.Setup {
		if err := setup.RunTUI(setup.DefaultPath); err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = setup.DefaultPath
	}

	conf, err := config.Load(flags.ConfigPath, flags.EnvFile)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, logger, conf)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}()

	logger.Info("bot started",
		zap.String("chain", conf.Chain.Name),
		zap.String("backend", conf.Backend),
		zap.Int("strategies", len(conf.Strategies)),
		zap.String("web", conf.WebAddr),
	)
	if err := app.Run(ctx); err != nil {
		logger.Error("bot stopped with error", zap.Error(err))
		return
	}
	logger.Info("bot stopped")
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/clients"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pool"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricer"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/walstore"
)

// Storage backends.
const (
	BackendMemory   = storage.BackendMemory
	BackendWAL      = storage.BackendWAL
	BackendSQLite   = storage.BackendSQLite
	BackendPostgres = storage.BackendPostgres
)

// Config is the typed process configuration.
type Config struct {
	Backend     string
	WALDir      string
	SQLitePath  string
	PostgresDSN string

	Chain pool.Chain
	// CallTimeout bounds every contract call.
	CallTimeout time.Duration

	SolverChunks        int
	SolverMaxIterations int
	SolverMaxMultiplier int

	MinInterval time.Duration
	PriceFeed   string
	DCASchedule string
	Defaults    StrategyDefaults
	Strategies  []Strategy

	PlanFeed         string
	PlanQuote        string
	PlanAssets       []string
	PlanSchedule     string
	AutoExecutePlans bool

	Workers    int
	JobTimeout time.Duration

	WebAddr     string
	TLSDomains  []string
	TLSCacheDir string

	BinanceAPIKey    string
	BinanceAPISecret string
	BybitAPIKey      string
	BybitAPISecret   string
	HyperliquidURL   string
}

// StrategyDefaults seed the config of a user/version evaluated for the first time.
type StrategyDefaults struct {
	Pair                 domain.Pair
	StepSize             decimal.Decimal
	SlippageToleranceBps int64
	MinPrice             decimal.Decimal
	MaxPrice             decimal.Decimal
	InitialCapital       decimal.Decimal
	RatioPriceUp         decimal.Decimal
	RatioPriceDown       decimal.Decimal
}

// Strategy is one user/version the scheduler evaluates. Pool and Asset are
// required with the pool price feed.
type Strategy struct {
	UserID  string
	Version domain.StrategyVersion
	Pair    domain.Pair
	Pool    common.Address
	Asset   common.Address
}

// ConfigTmp mirrors the yaml file. Numbers that feed money math are strings.
type ConfigTmp struct {
	Storage   StorageTmp   `yaml:"storage,omitempty"`
	Chain     ChainTmp     `yaml:"chain,omitempty"`
	Solver    SolverTmp    `yaml:"solver,omitempty"`
	DCA       DCATmp       `yaml:"dca,omitempty"`
	Plans     PlansTmp     `yaml:"plans,omitempty"`
	Scheduler SchedulerTmp `yaml:"scheduler,omitempty"`
	Web       WebTmp       `yaml:"web,omitempty"`
}

type StorageTmp struct {
	Backend     string `yaml:"backend,omitempty"`
	WALDir      string `yaml:"wal_dir,omitempty"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

type ChainTmp struct {
	Name        string        `yaml:"name,omitempty"`
	RPCURL      string        `yaml:"rpc_url,omitempty"`
	Factory     string        `yaml:"factory,omitempty"`
	Quoter      string        `yaml:"quoter,omitempty"`
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
}

type SolverTmp struct {
	Chunks        int `yaml:"chunks,omitempty"`
	MaxIterations int `yaml:"max_iterations,omitempty"`
	MaxMultiplier int `yaml:"max_multiplier,omitempty"`
}

type DCATmp struct {
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
	PriceFeed   string        `yaml:"price_feed,omitempty"`
	Schedule    string        `yaml:"schedule,omitempty"`
	Defaults    DefaultsTmp   `yaml:"defaults,omitempty"`
	Strategies  []StrategyTmp `yaml:"strategies,omitempty"`
}

type DefaultsTmp struct {
	Pair           string `yaml:"pair,omitempty"`
	StepSize       string `yaml:"step_size,omitempty"`
	SlippageBps    string `yaml:"slippage_bps,omitempty"`
	MinPrice       string `yaml:"min_price,omitempty"`
	MaxPrice       string `yaml:"max_price,omitempty"`
	InitialCapital string `yaml:"initial_capital,omitempty"`
	RatioPriceUp   string `yaml:"ratio_price_up,omitempty"`
	RatioPriceDown string `yaml:"ratio_price_down,omitempty"`
}

type StrategyTmp struct {
	UserID  string `yaml:"user_id"`
	Version int    `yaml:"version"`
	Pair    string `yaml:"pair,omitempty"`
	Pool    string `yaml:"pool,omitempty"`
	Asset   string `yaml:"asset,omitempty"`
}

type PlansTmp struct {
	Feed        string   `yaml:"feed,omitempty"`
	Quote       string   `yaml:"quote,omitempty"`
	Assets      []string `yaml:"assets,omitempty"`
	Schedule    string   `yaml:"schedule,omitempty"`
	AutoExecute bool     `yaml:"auto_execute,omitempty"`
}

type SchedulerTmp struct {
	Workers    int           `yaml:"workers,omitempty"`
	JobTimeout time.Duration `yaml:"job_timeout,omitempty"`
}

type WebTmp struct {
	Addr        string   `yaml:"addr,omitempty"`
	TLSDomains  []string `yaml:"tls_domains,omitempty"`
	TLSCacheDir string   `yaml:"tls_cache_dir,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	chain, _ := pool.ChainByName("base")
	base := domain.DefaultStrategyConfig("", domain.StrategyV1)

	return Config{
		Backend:             BackendWAL,
		WALDir:              walstore.DefaultDir,
		SQLitePath:          "./data/bot.db",
		Chain:               chain,
		CallTimeout:         10 * time.Second,
		SolverChunks:        8,
		SolverMaxIterations: 96,
		SolverMaxMultiplier: 4,
		MinInterval:         3*time.Hour + 30*time.Minute,
		PriceFeed:           pricer.FeedPool,
		DCASchedule:         "@every 4h",
		Defaults: StrategyDefaults{
			Pair:                 base.Pair,
			StepSize:             base.StepSize,
			SlippageToleranceBps: base.SlippageToleranceBps,
			MinPrice:             base.MinPrice,
			MaxPrice:             base.MaxPrice,
			InitialCapital:       base.InitialCapital,
			RatioPriceUp:         base.RatioPriceUp,
			RatioPriceDown:       base.RatioPriceDown,
		},
		PlanFeed:       pricer.FeedBinance,
		PlanQuote:      "USDT",
		PlanSchedule:   "@daily",
		Workers:        4,
		JobTimeout:     2 * time.Minute,
		WebAddr:        ":8080",
		TLSCacheDir:    "./data/certs",
		HyperliquidURL: clients.HyperliquidMainnetURL,
	}
}

// StrategyConfig builds the starting config of a user/version from the defaults.
func (c Config) StrategyConfig(userID string, version domain.StrategyVersion) domain.StrategyConfig {
	cfg := domain.DefaultStrategyConfig(userID, version)
	d := c.Defaults
	cfg.Pair = d.Pair
	cfg.StepSize = d.StepSize
	cfg.SlippageToleranceBps = d.SlippageToleranceBps
	cfg.MinPrice = d.MinPrice
	cfg.MaxPrice = d.MaxPrice
	cfg.InitialCapital = d.InitialCapital
	cfg.Capital = d.InitialCapital
	cfg.RatioPriceUp = d.RatioPriceUp
	cfg.RatioPriceDown = d.RatioPriceDown

	// per-strategy pair wins over the global default
	for _, s := range c.Strategies {
		if s.UserID == userID && s.Version == version && s.Pair != (domain.Pair{}) {
			cfg.Pair = s.Pair
		}
	}
	return cfg
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendWAL:
		if c.WALDir == "" {
			return fmt.Errorf("wal backend requires a wal dir")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires a database path")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires a dsn (POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.SolverChunks < 1 || c.SolverMaxIterations < 1 || c.SolverMaxMultiplier < 1 {
		return fmt.Errorf("solver chunks, max iterations and max multiplier must be at least 1")
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative, got %s", c.MinInterval)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	probe := c.StrategyConfig("probe", domain.StrategyV1)
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("invalid strategy defaults: %w", err)
	}

	if !knownFeed(c.PriceFeed) {
		return fmt.Errorf("unknown dca price feed %q", c.PriceFeed)
	}
	if c.PlanFeed != "" && (!knownFeed(c.PlanFeed) || c.PlanFeed == pricer.FeedPool) {
		return fmt.Errorf("plan price feed must be one of binance, bybit, hyperliquid, got %q", c.PlanFeed)
	}

	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		key := domain.ConfigKey(s.UserID, s.Version)
		if s.UserID == "" || !s.Version.Valid() {
			return fmt.Errorf("strategy %q: user id and version 1 or 2 are required", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("strategy %q is configured twice", key)
		}
		seen[key] = struct{}{}
		if c.PriceFeed == pricer.FeedPool && (s.Pool == (common.Address{}) || s.Asset == (common.Address{})) {
			return fmt.Errorf("strategy %q: pool and asset addresses are required with the pool price feed", key)
		}
	}

	return nil
}

func knownFeed(feed string) bool {
	switch feed {
	case pricer.FeedPool, pricer.FeedBinance, pricer.FeedBybit, pricer.FeedHyperliquid:
		return true
	}
	return false
}

func getYaml(path string, cfg *Config) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return fmt.Errorf("failed to parse yaml config %s: %w", path, err)
	}

	return tmp.apply(cfg)
}

// apply overrides cfg with every field set in the yaml.
func (t ConfigTmp) apply(cfg *Config) error {
	setString(&cfg.Backend, strings.ToLower(t.Storage.Backend))
	setString(&cfg.WALDir, t.Storage.WALDir)
	setString(&cfg.SQLitePath, t.Storage.SQLitePath)
	setString(&cfg.PostgresDSN, t.Storage.PostgresDSN)

	if t.Chain.Name != "" {
		chain, err := pool.ChainByName(t.Chain.Name)
		if err != nil {
			return fmt.Errorf("incorrect 'chain.name' param in yaml config: %w", err)
		}
		cfg.Chain = chain
	}
	setString(&cfg.Chain.RPCURL, t.Chain.RPCURL)
	if err := setAddress(&cfg.Chain.Factory, t.Chain.Factory, "chain.factory"); err != nil {
		return err
	}
	if err := setAddress(&cfg.Chain.QuoterV2, t.Chain.Quoter, "chain.quoter"); err != nil {
		return err
	}
	setDuration(&cfg.CallTimeout, t.Chain.CallTimeout)

	setInt(&cfg.SolverChunks, t.Solver.Chunks)
	setInt(&cfg.SolverMaxIterations, t.Solver.MaxIterations)
	setInt(&cfg.SolverMaxMultiplier, t.Solver.MaxMultiplier)

	setDuration(&cfg.MinInterval, t.DCA.MinInterval)
	setString(&cfg.PriceFeed, strings.ToLower(t.DCA.PriceFeed))
	setString(&cfg.DCASchedule, t.DCA.Schedule)
	if err := t.DCA.Defaults.apply(&cfg.Defaults); err != nil {
		return err
	}

	if len(t.DCA.Strategies) > 0 {
		cfg.Strategies = cfg.Strategies[:0]
	}
	for i, s := range t.DCA.Strategies {
		strategy, err := s.parse()
		if err != nil {
			return fmt.Errorf("incorrect 'dca.strategies[%d]' param in yaml config: %w", i, err)
		}
		cfg.Strategies = append(cfg.Strategies, strategy)
	}

	setString(&cfg.PlanFeed, strings.ToLower(t.Plans.Feed))
	setString(&cfg.PlanQuote, strings.ToUpper(t.Plans.Quote))
	setString(&cfg.PlanSchedule, t.Plans.Schedule)
	if len(t.Plans.Assets) > 0 {
		cfg.PlanAssets = cfg.PlanAssets[:0]
		for _, asset := range t.Plans.Assets {
			cfg.PlanAssets = append(cfg.PlanAssets, strings.ToUpper(asset))
		}
	}
	cfg.AutoExecutePlans = cfg.AutoExecutePlans || t.Plans.AutoExecute

	setInt(&cfg.Workers, t.Scheduler.Workers)
	setDuration(&cfg.JobTimeout, t.Scheduler.JobTimeout)

	setString(&cfg.WebAddr, t.Web.Addr)
	if len(t.Web.TLSDomains) > 0 {
		cfg.TLSDomains = append([]string(nil), t.Web.TLSDomains...)
	}
	setString(&cfg.TLSCacheDir, t.Web.TLSCacheDir)

	return nil
}

func (t DefaultsTmp) apply(d *StrategyDefaults) error {
	if t.Pair != "" {
		pair, err := domain.ParsePair(t.Pair)
		if err != nil {
			return fmt.Errorf("incorrect 'dca.defaults.pair' param in yaml config: %s, error: %w", t.Pair, err)
		}
		d.Pair = pair
	}
	if t.SlippageBps != "" {
		bps, err := decimal.NewFromString(t.SlippageBps)
		if err != nil || !bps.IsInteger() {
			return fmt.Errorf("incorrect 'dca.defaults.slippage_bps' param in yaml config (must be an integer): %s", t.SlippageBps)
		}
		d.SlippageToleranceBps = bps.IntPart()
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"step_size", t.StepSize, &d.StepSize},
		{"min_price", t.MinPrice, &d.MinPrice},
		{"max_price", t.MaxPrice, &d.MaxPrice},
		{"initial_capital", t.InitialCapital, &d.InitialCapital},
		{"ratio_price_up", t.RatioPriceUp, &d.RatioPriceUp},
		{"ratio_price_down", t.RatioPriceDown, &d.RatioPriceDown},
	} {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("incorrect 'dca.defaults.%s' param in yaml config (must be a decimal), error: %w", f.name, err)
		}
		*f.dst = v
	}

	return nil
}

func (t StrategyTmp) parse() (Strategy, error) {
	s := Strategy{UserID: t.UserID, Version: domain.StrategyVersion(t.Version)}
	if t.Pair != "" {
		pair, err := domain.ParsePair(t.Pair)
		if err != nil {
			return Strategy{}, err
		}
		s.Pair = pair
	}
	if err := setAddress(&s.Pool, t.Pool, "pool"); err != nil {
		return Strategy{}, err
	}
	if err := setAddress(&s.Asset, t.Asset, "asset"); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setAddress(dst *common.Address, v, field string) error {
	if v == "" {
		return nil
	}
	if !common.IsHexAddress(v) {
		return fmt.Errorf("incorrect '%s' param: %q is not a hex address", field, v)
	}
	*dst = common.HexToAddress(v)
	return nil
}

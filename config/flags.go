package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Flags are the command line switches.
type Flags struct {
	ConfigPath string
	EnvFile    string
	Setup      bool
}

// ParseFlags reads the process flags.
func ParseFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	flag.StringVar(&f.EnvFile, "env", ".env", "path to dotenv file, ignored when missing")
	flag.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard")
	flag.Parse()
	return f
}

// Load builds the config from defaults, the yaml file at path (optional),
// then environment variables, and validates the result.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path != "" {
		if err := getYaml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Get parses the flags and loads the config they point to.
func Get() (Config, error) {
	f := ParseFlags()
	return Load(f.ConfigPath, f.EnvFile)
}

func applyEnv(cfg *Config) {
	setString(&cfg.Backend, strings.ToLower(os.Getenv("STORAGE_BACKEND")))
	setString(&cfg.Chain.RPCURL, os.Getenv("RPC_URL"))
	setString(&cfg.PostgresDSN, os.Getenv("POSTGRES_DSN"))
	setString(&cfg.SQLitePath, os.Getenv("SQLITE_PATH"))
	setString(&cfg.WALDir, os.Getenv("WAL_DIR"))
	setString(&cfg.WebAddr, os.Getenv("WEB_ADDR"))
	setString(&cfg.BinanceAPIKey, os.Getenv("BINANCE_API_KEY"))
	setString(&cfg.BinanceAPISecret, os.Getenv("BINANCE_API_SECRET"))
	setString(&cfg.BybitAPIKey, os.Getenv("BYBIT_API_KEY"))
	setString(&cfg.BybitAPISecret, os.Getenv("BYBIT_API_SECRET"))
	setString(&cfg.HyperliquidURL, os.Getenv("HYPERLIQUID_URL"))
}

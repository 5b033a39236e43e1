package setup

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/config"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricer"
)

func TestBuildConfig_LoadsBack(t *testing.T) {
	a := defaultAnswers()
	a.backend = config.BackendSQLite
	a.pair = "eth_usdc"
	a.pool = "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"
	a.asset = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	a.minPrice, a.maxPrice = "1500", "2500"

	tmp, err := buildConfig(a)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, write(path, tmp))

	cfg, err := config.Load(path, "")
	require.NoError(t, err)
	require.Equal(t, config.BackendSQLite, cfg.Backend)
	require.Equal(t, pricer.FeedPool, cfg.PriceFeed)
	require.Equal(t, []string{"ETH"}, cfg.PlanAssets)
	require.Len(t, cfg.Strategies, 1)
	require.Equal(t, domain.StrategyV2, cfg.Strategies[0].Version)

	sc := cfg.StrategyConfig("default", domain.StrategyV2)
	require.Equal(t, "ETH_USDC", sc.Pair.String())
	require.True(t, decimal.NewFromInt(1500).Equal(sc.MinPrice))
	require.True(t, decimal.NewFromInt(2500).Equal(sc.MaxPrice))
}

func TestBuildConfig_Rejects(t *testing.T) {
	a := defaultAnswers()
	a.minPrice, a.maxPrice = "3000", "1000"
	_, err := buildConfig(a)
	require.Error(t, err)

	a = defaultAnswers()
	a.version = "two"
	_, err = buildConfig(a)
	require.Error(t, err)
}

func TestValidators(t *testing.T) {
	require.NoError(t, validatePair("btc_usdt"))
	require.Error(t, validatePair("BTCUSDT"))
	require.NoError(t, validateAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"))
	require.Error(t, validateAddress("weth"))
	require.NoError(t, validatePositive("0.5"))
	require.Error(t, validatePositive("0"))
	require.Error(t, validatePositive("abc"))
	require.Error(t, notEmpty("user id")("  "))
}

package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/CongSofwareEngineer/bot-dca-token/config"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pool"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricer"
)

// DefaultPath is where the wizard writes the generated config.
const DefaultPath = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collected by the wizard, all as typed.
type answers struct {
	backend   string
	chain     string
	rpcURL    string
	userID    string
	version   string
	pair      string
	priceFeed string
	pool      string
	asset     string
	stepSize  string
	minPrice  string
	maxPrice  string
	capital   string
	schedule  string
	planFeed  string
	planAsset string
}

func defaultAnswers() answers {
	return answers{
		backend:   config.BackendWAL,
		chain:     "base",
		userID:    "default",
		version:   "2",
		pair:      "ETH_USDC",
		priceFeed: pricer.FeedPool,
		stepSize:  "50",
		minPrice:  "1000",
		maxPrice:  "3000",
		capital:   "1000",
		schedule:  "@every 4h",
		planFeed:  pricer.FeedBinance,
		planAsset: "ETH",
	}
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DCA BOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := defaultAnswers()
	var confirm bool

	screen("STEP 1: STORAGE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Strategy state and trade history live here.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage backend").
				Options(
					huh.NewOption("Write-ahead log (local dir)", config.BackendWAL),
					huh.NewOption("SQLite", config.BackendSQLite),
					huh.NewOption("PostgreSQL (POSTGRES_DSN)", config.BackendPostgres),
					huh.NewOption("In memory (lost on exit)", config.BackendMemory),
				).
				Value(&a.backend),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: CHAIN")
	chainOptions := make([]huh.Option[string], 0, len(pool.ChainNames()))
	for _, name := range pool.ChainNames() {
		chainOptions = append(chainOptions, huh.NewOption(name, name))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Network").
				Options(chainOptions...).
				Value(&a.chain),
			huh.NewInput().
				Title("RPC URL").
				Description("Leave empty for the public endpoint, or set RPC_URL").
				Value(&a.rpcURL),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 3: STRATEGY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User ID").
				Value(&a.userID).
				Validate(notEmpty("user id")),
			huh.NewSelect[string]().
				Title("Strategy version").
				Options(
					huh.NewOption("v1: buy the dips only", "1"),
					huh.NewOption("v2: buy the dips, take profit", "2"),
				).
				Value(&a.version),
			huh.NewInput().
				Title("Pair").
				Description("BASE_QUOTE (e.g. ETH_USDC)").
				Value(&a.pair).
				Validate(validatePair),
			huh.NewSelect[string]().
				Title("Price source").
				Options(
					huh.NewOption("Uniswap v3 pool", pricer.FeedPool),
					huh.NewOption("Binance", pricer.FeedBinance),
					huh.NewOption("Bybit", pricer.FeedBybit),
					huh.NewOption("Hyperliquid", pricer.FeedHyperliquid),
				).
				Value(&a.priceFeed),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.priceFeed == pricer.FeedPool {
		screen("STEP 3b: POOL")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Pool address").
					Value(&a.pool).
					Validate(validateAddress),
				huh.NewInput().
					Title("Asset token address").
					Description("The token being accumulated, one of the two pool tokens").
					Value(&a.asset).
					Validate(validateAddress),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	screen("STEP 4: BAND")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Step size (USD per buy)").
				Value(&a.stepSize).
				Validate(validatePositive),
			huh.NewInput().
				Title("Min price").
				Value(&a.minPrice).
				Validate(validatePositive),
			huh.NewInput().
				Title("Max price").
				Description("No buys at or above this price").
				Value(&a.maxPrice).
				Validate(validatePositive),
			huh.NewInput().
				Title("Capital (USD)").
				Value(&a.capital).
				Validate(validatePositive),
			huh.NewInput().
				Title("Evaluation schedule").
				Description("Cron spec or descriptor (e.g. @every 4h)").
				Value(&a.schedule).
				Validate(notEmpty("schedule")),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 5: ALLOCATION PLAN")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Reference price feed for plans").
				Options(
					huh.NewOption("Binance", pricer.FeedBinance),
					huh.NewOption("Bybit", pricer.FeedBybit),
					huh.NewOption("Hyperliquid", pricer.FeedHyperliquid),
					huh.NewOption("Disabled", ""),
				).
				Value(&a.planFeed),
			huh.NewInput().
				Title("Plan asset").
				Description("A default plan is created for it on start").
				Value(&a.planAsset),
		),
	).Run()
	if err != nil {
		return err
	}

	tmp, err := buildConfig(a)
	if err != nil {
		return err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Storage: %s\nChain: %s\nStrategy: %s v%s %s\nPrice: %s\nBand: %s - %s, step %s\nCapital: %s\n",
		a.backend, a.chain, a.userID, a.version, strings.ToUpper(a.pair), a.priceFeed,
		a.minPrice, a.maxPrice, a.stepSize, a.capital,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := write(path, tmp); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bot...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// buildConfig turns the answers into the yaml shape config.Load reads.
func buildConfig(a answers) (config.ConfigTmp, error) {
	version, err := strconv.Atoi(a.version)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid version %q", a.version)
	}
	minPrice, err := decimal.NewFromString(a.minPrice)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid min price: %w", err)
	}
	maxPrice, err := decimal.NewFromString(a.maxPrice)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid max price: %w", err)
	}
	if !maxPrice.GreaterThan(minPrice) {
		return config.ConfigTmp{}, fmt.Errorf("max price %s must be above min price %s", maxPrice, minPrice)
	}

	tmp := config.ConfigTmp{
		Storage: config.StorageTmp{Backend: a.backend},
		Chain:   config.ChainTmp{Name: a.chain, RPCURL: a.rpcURL},
		DCA: config.DCATmp{
			PriceFeed: a.priceFeed,
			Schedule:  a.schedule,
			Defaults: config.DefaultsTmp{
				Pair:           strings.ToUpper(a.pair),
				StepSize:       a.stepSize,
				MinPrice:       a.minPrice,
				MaxPrice:       a.maxPrice,
				InitialCapital: a.capital,
			},
			Strategies: []config.StrategyTmp{{
				UserID:  a.userID,
				Version: version,
				Pair:    strings.ToUpper(a.pair),
				Pool:    a.pool,
				Asset:   a.asset,
			}},
		},
		Plans: config.PlansTmp{Feed: a.planFeed},
	}
	if a.planFeed != "" && a.planAsset != "" {
		tmp.Plans.Assets = []string{strings.ToUpper(a.planAsset)}
	}

	return tmp, nil
}

func write(path string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validatePair(s string) error {
	_, err := domain.ParsePair(s)
	return err
}

func validateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("must be a 0x-prefixed hex address")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

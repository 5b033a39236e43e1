package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricemath"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/solver"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
)

type solveRequest struct {
	Pool          string           `json:"pool"`
	TargetPrice   decimal.Decimal  `json:"target_price"`
	Direction     string           `json:"direction,omitempty"`
	Available     *decimal.Decimal `json:"available,omitempty"`
	Chunks        int              `json:"chunks,omitempty"`
	MaxIterations int              `json:"max_iterations,omitempty"`
	MaxMultiplier int              `json:"max_multiplier,omitempty"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Solver == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "solver"))
		return
	}

	var req solveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if !common.IsHexAddress(req.Pool) {
		s.writeError(w, badRequest("incorrect 'pool' param %q", req.Pool))
		return
	}
	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	res, err := s.deps.Solver.Solve(r.Context(), solver.Request{
		Pool:        common.HexToAddress(req.Pool),
		Direction:   dir,
		TargetPrice: req.TargetPrice,
		Available:   req.Available,
		Options: solver.Options{
			Chunks:        req.Chunks,
			MaxIterations: req.MaxIterations,
			MaxMultiplier: req.MaxMultiplier,
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type poolResponse struct {
	Address      common.Address   `json:"address"`
	Token0       domain.TokenMeta `json:"token0"`
	Token1       domain.TokenMeta `json:"token1"`
	Fee          uint32           `json:"fee"`
	Tick         int64            `json:"tick"`
	SqrtPriceX96 string           `json:"sqrt_price_x96"`
	Liquidity    string           `json:"liquidity"`
	// Price token1 per token0.
	Price decimal.Decimal `json:"price"`
}

// handlePool reads a pool by ?address=, or finds it by ?token_a=&token_b=&fee=.
func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pools == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "pool reader"))
		return
	}

	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		tokenA, tokenB := q.Get("token_a"), q.Get("token_b")
		if !common.IsHexAddress(tokenA) || !common.IsHexAddress(tokenB) {
			s.writeError(w, badRequest("token_a and token_b must be hex addresses"))
			return
		}
		fee, err := strconv.ParseUint(q.Get("fee"), 10, 32)
		if err != nil {
			s.writeError(w, badRequest("incorrect 'fee' param %q", q.Get("fee")))
			return
		}

		found, err := s.deps.Pools.PoolAddress(r.Context(), common.HexToAddress(tokenA), common.HexToAddress(tokenB), uint32(fee))
		if err != nil {
			s.writeError(w, err)
			return
		}
		address = found.Hex()
	}
	if !common.IsHexAddress(address) {
		s.writeError(w, badRequest("incorrect 'address' param %q", address))
		return
	}

	snap, err := s.deps.Pools.Snapshot(r.Context(), common.HexToAddress(address))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := poolResponse{
		Address: snap.Address,
		Token0:  snap.Token0,
		Token1:  snap.Token1,
		Fee:     snap.Fee,
		Tick:    snap.Tick,
	}
	if snap.SqrtPriceX96 != nil {
		resp.SqrtPriceX96 = snap.SqrtPriceX96.Dec()
		resp.Price = pricemath.ToDecimalPrice(snap.SqrtPriceX96.ToBig(), snap.Token0.Decimals, snap.Token1.Decimals)
	}
	if snap.Liquidity != nil {
		resp.Liquidity = snap.Liquidity.Dec()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) strategyKey(r *http.Request) (string, domain.StrategyVersion, error) {
	user := r.PathValue("user")
	if user == "" {
		return "", 0, badRequest("user is required")
	}
	version, err := parseVersion(r.PathValue("version"))
	if err != nil {
		return "", 0, err
	}
	return user, version, nil
}

type evaluateRequest struct {
	// Price nil reads the pool price of the strategy pair.
	Price *decimal.Decimal `json:"price,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "dca engine"))
		return
	}
	user, version, err := s.strategyKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	price := req.Price
	if price == nil {
		if s.deps.Pricer == nil {
			s.writeError(w, badRequest("price is required when no price feed is configured"))
			return
		}
		cfg, err := s.deps.Engine.Config(r.Context(), user, version)
		if err != nil {
			s.writeError(w, err)
			return
		}
		current, err := s.deps.Pricer.GetPrice(r.Context(), cfg.Pair)
		if err != nil {
			s.writeError(w, errors.Wrap(domain.ErrQuoteUnavailable, err.Error()))
			return
		}
		price = &current
	}

	ev, err := s.deps.Engine.Evaluate(r.Context(), user, version, *price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "dca engine"))
		return
	}
	user, version, err := s.strategyKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cfg, err := s.deps.Engine.Config(r.Context(), user, version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// configPatch holds the user-editable parameters. Aggregates and history are engine-owned.
type configPatch struct {
	Pair                 *domain.Pair     `json:"pair,omitempty"`
	StepSize             *decimal.Decimal `json:"step_size,omitempty"`
	SlippageToleranceBps *int64           `json:"slippage_tolerance_bps,omitempty"`
	MinPrice             *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice             *decimal.Decimal `json:"max_price,omitempty"`
	InitialCapital       *decimal.Decimal `json:"initial_capital,omitempty"`
	Capital              *decimal.Decimal `json:"capital,omitempty"`
	RatioPriceUp         *decimal.Decimal `json:"ratio_price_up,omitempty"`
	RatioPriceDown       *decimal.Decimal `json:"ratio_price_down,omitempty"`
	IsStop               *bool            `json:"is_stop,omitempty"`
}

func (p configPatch) apply(cfg *domain.StrategyConfig) error {
	if p.Pair != nil {
		cfg.Pair = *p.Pair
	}
	if p.StepSize != nil {
		cfg.StepSize = *p.StepSize
	}
	if p.SlippageToleranceBps != nil {
		cfg.SlippageToleranceBps = *p.SlippageToleranceBps
	}
	if p.MinPrice != nil {
		cfg.MinPrice = *p.MinPrice
	}
	if p.MaxPrice != nil {
		cfg.MaxPrice = *p.MaxPrice
	}
	if p.InitialCapital != nil {
		cfg.InitialCapital = *p.InitialCapital
	}
	if p.Capital != nil {
		cfg.Capital = *p.Capital
	}
	if p.RatioPriceUp != nil {
		cfg.RatioPriceUp = *p.RatioPriceUp
	}
	if p.RatioPriceDown != nil {
		cfg.RatioPriceDown = *p.RatioPriceDown
	}
	if p.IsStop != nil {
		cfg.IsStop = *p.IsStop
	}
	if cfg.Pair == (domain.Pair{}) {
		return errors.New("pair is required")
	}
	return nil
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "dca engine"))
		return
	}
	user, version, err := s.strategyKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var patch configPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}

	cfg, err := s.deps.Engine.Configure(r.Context(), user, version, patch.apply)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleResetStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "dca engine"))
		return
	}
	user, version, err := s.strategyKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cfg, err := s.deps.Engine.ResetStop(r.Context(), user, version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type tradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
	Total  int                  `json:"total"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "trade log"))
		return
	}

	q := r.URL.Query()
	query := domain.TradeQuery{UserID: q.Get("user_id")}
	if query.UserID == "" {
		s.writeError(w, badRequest("user_id is required"))
		return
	}
	if raw := q.Get("version"); raw != "" {
		version, err := parseVersion(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		query.Version = version
	}

	var err error
	if query.Offset, err = parseInt(q.Get("offset"), "offset", 0); err != nil {
		s.writeError(w, err)
		return
	}
	if query.Limit, err = parseInt(q.Get("limit"), "limit", storage.DefaultLimit); err != nil {
		s.writeError(w, err)
		return
	}

	trades, total, err := s.deps.Trades.List(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, tradesResponse{Trades: trades, Total: total, Offset: query.Offset, Limit: query.Limit})
}

func (s *Server) handleClearTrades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "trade log"))
		return
	}
	user := r.URL.Query().Get("user_id")
	if user == "" {
		s.writeError(w, badRequest("user_id is required"))
		return
	}

	deleted, err := s.deps.Trades.Clear(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plans == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "allocation plans"))
		return
	}
	plans, err := s.deps.Plans.Plans(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if plans == nil {
		plans = []domain.AllocationPlan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

type createPlanRequest struct {
	Asset              string          `json:"asset"`
	MinPrice           decimal.Decimal `json:"min_price"`
	MaxPrice           decimal.Decimal `json:"max_price"`
	TargetAveragePrice decimal.Decimal `json:"target_average_price"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	MonthlyTopUp       decimal.Decimal `json:"monthly_top_up"`
	StartDate          *time.Time      `json:"start_date,omitempty"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plans == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "allocation plans"))
		return
	}

	var req createPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	plan := domain.AllocationPlan{
		Asset:              req.Asset,
		MinPrice:           req.MinPrice,
		MaxPrice:           req.MaxPrice,
		TargetAveragePrice: req.TargetAveragePrice,
		InitialCapital:     req.InitialCapital,
		MonthlyTopUp:       req.MonthlyTopUp,
	}
	if req.StartDate != nil {
		plan.StartDate = req.StartDate.UTC()
	}

	created, err := s.deps.Plans.CreatePlan(r.Context(), plan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDefaultPlan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plans == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "allocation plans"))
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		s.writeError(w, badRequest("asset is required"))
		return
	}

	plan, err := s.deps.Plans.DefaultPlan(r.Context(), asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plans == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "allocation plans"))
		return
	}
	plan, err := s.deps.Plans.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleNextAllocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plans == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "allocation plans"))
		return
	}
	price, err := parseOptionalDecimal(r.URL.Query().Get("price"), "price")
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.deps.Plans.Recommend(r.Context(), r.PathValue("id"), price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type executeResponse struct {
	Recommendation domain.AllocationRecommendation `json:"recommendation"`
	Trade          *domain.TradeRecord             `json:"trade"`
}

func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plans == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "allocation plans"))
		return
	}

	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	rec, trade, err := s.deps.Plans.Execute(r.Context(), r.PathValue("id"), req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Recommendation: rec, Trade: trade})
}

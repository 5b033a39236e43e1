// Package web exposes the solver, the DCA engine and allocation plans over HTTP,
// with SSE and websocket streams of decision events.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/solver"
)

type solverService interface {
	Solve(ctx context.Context, req solver.Request) (solver.Result, error)
}

type poolLookup interface {
	PoolAddress(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
	Snapshot(ctx context.Context, address common.Address) (domain.PoolSnapshot, error)
}

type dcaEngine interface {
	Evaluate(ctx context.Context, userID string, version domain.StrategyVersion, price decimal.Decimal) (*domain.Evaluation, error)
	Config(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error)
	Configure(ctx context.Context, userID string, version domain.StrategyVersion, mutate func(*domain.StrategyConfig) error) (domain.StrategyConfig, error)
	ResetStop(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error)
}

type tradeHistory interface {
	List(ctx context.Context, q domain.TradeQuery) ([]domain.TradeRecord, int, error)
	Clear(ctx context.Context, userID string) (int, error)
}

type planService interface {
	DefaultPlan(ctx context.Context, asset string) (domain.AllocationPlan, error)
	CreatePlan(ctx context.Context, plan domain.AllocationPlan) (domain.AllocationPlan, error)
	Plan(ctx context.Context, id string) (domain.AllocationPlan, error)
	Plans(ctx context.Context) ([]domain.AllocationPlan, error)
	Recommend(ctx context.Context, planID string, price *decimal.Decimal) (domain.AllocationRecommendation, error)
	Execute(ctx context.Context, planID string, price *decimal.Decimal) (domain.AllocationRecommendation, *domain.TradeRecord, error)
}

type pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

type decisionStream interface {
	Subscribe() chan domain.DecisionEvent
	Unsubscribe(ch chan domain.DecisionEvent)
}

// Deps are the services behind the API. Nil entries answer 503.
type Deps struct {
	Solver solverService
	Pools  poolLookup
	Engine dcaEngine
	Trades tradeHistory
	Plans  planService
	Pricer pricer
	Events decisionStream
}

// Server serves the JSON API, the decision streams and /metrics.
type Server struct {
	l    *zap.Logger
	addr string
	deps Deps
}

// NewServer creates a new web server instance.
func NewServer(l *zap.Logger, addr string, deps Deps) *Server {
	return &Server{l: l, addr: addr, deps: deps}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("POST /api/solve", s.handleSolve)
	mux.HandleFunc("GET /api/pools", s.handlePool)

	mux.HandleFunc("POST /api/strategies/{user}/{version}/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /api/strategies/{user}/{version}/config", s.handleGetConfig)
	mux.HandleFunc("PATCH /api/strategies/{user}/{version}/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/strategies/{user}/{version}/reset", s.handleResetStop)

	mux.HandleFunc("GET /api/trades", s.handleListTrades)
	mux.HandleFunc("DELETE /api/trades", s.handleClearTrades)

	mux.HandleFunc("GET /api/plans", s.handleListPlans)
	mux.HandleFunc("POST /api/plans", s.handleCreatePlan)
	mux.HandleFunc("POST /api/plans/default", s.handleDefaultPlan)
	mux.HandleFunc("GET /api/plans/{id}", s.handleGetPlan)
	mux.HandleFunc("GET /api/plans/{id}/next", s.handleNextAllocation)
	mux.HandleFunc("POST /api/plans/{id}/execute", s.handleExecutePlan)

	mux.HandleFunc("GET /api/decisions/stream", s.handleDecisionStream)
	mux.HandleFunc("GET /api/decisions/ws", s.handleDecisionSocket)

	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("web server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.l.Info("web server listening with automatic TLS", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

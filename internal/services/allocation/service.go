package allocation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
)

type planStore interface {
	CreatePlan(ctx context.Context, plan domain.AllocationPlan) error
	GetPlan(ctx context.Context, id string) (domain.AllocationPlan, error)
	ActivePlan(ctx context.Context, asset string) (domain.AllocationPlan, error)
	UpdatePlan(ctx context.Context, plan domain.AllocationPlan) error
	ListPlans(ctx context.Context) ([]domain.AllocationPlan, error)
}

type tradeLog interface {
	Append(ctx context.Context, trade domain.TradeRecord) error
}

type priceFeed interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// Service runs the planner against stored plans and a reference price feed.
type Service struct {
	l       *zap.Logger
	planner *Planner
	plans   planStore
	trades  tradeLog
	feed    priceFeed
	quote   string
	now     func() time.Time

	mu sync.Mutex
}

// NewService creates a plan service. quote is the stablecoin symbol used to price assets.
func NewService(l *zap.Logger, planner *Planner, plans planStore, trades tradeLog, feed priceFeed, quote string) *Service {
	if quote == "" {
		quote = "USDT"
	}
	return &Service{
		l:       l,
		planner: planner,
		plans:   plans,
		trades:  trades,
		feed:    feed,
		quote:   strings.ToUpper(quote),
		now:     time.Now,
	}
}

// DefaultPlan returns the active plan for asset, creating the default one if none exists.
func (s *Service) DefaultPlan(ctx context.Context, asset string) (domain.AllocationPlan, error) {
	asset = strings.ToUpper(asset)

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.plans.ActivePlan(ctx, asset)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.AllocationPlan{}, errors.Wrapf(err, "load active plan for %s", asset)
	}

	plan = DefaultPlan(asset, s.now())
	if err := s.plans.CreatePlan(ctx, plan); err != nil {
		return domain.AllocationPlan{}, errors.Wrap(err, "create default plan")
	}

	s.l.Info("created default allocation plan", zap.String("asset", asset), zap.String("plan", plan.ID))
	return plan, nil
}

// CreatePlan validates and stores a new plan.
func (s *Service) CreatePlan(ctx context.Context, plan domain.AllocationPlan) (domain.AllocationPlan, error) {
	now := s.now()
	plan.Asset = strings.ToUpper(plan.Asset)
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.StartDate.IsZero() {
		plan.StartDate = now
	}
	plan.Status = domain.PlanActive
	plan.LastCapitalSnapshot = plan.InitialCapital
	plan.UpdatedAt = now

	if err := ValidatePlan(plan); err != nil {
		return domain.AllocationPlan{}, errors.Wrap(storage.ErrInvalidInput, err.Error())
	}
	if err := s.plans.CreatePlan(ctx, plan); err != nil {
		return domain.AllocationPlan{}, errors.Wrap(err, "create plan")
	}

	return plan, nil
}

// Plan returns a stored plan.
func (s *Service) Plan(ctx context.Context, id string) (domain.AllocationPlan, error) {
	return s.plans.GetPlan(ctx, id)
}

// Plans lists all stored plans.
func (s *Service) Plans(ctx context.Context) ([]domain.AllocationPlan, error) {
	return s.plans.ListPlans(ctx)
}

// Recommend computes the next allocation. A nil price is fetched from the reference feed.
func (s *Service) Recommend(ctx context.Context, planID string, price *decimal.Decimal) (domain.AllocationRecommendation, error) {
	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return domain.AllocationRecommendation{}, errors.Wrapf(err, "load plan %s", planID)
	}

	current, err := s.price(ctx, plan, price)
	if err != nil {
		return domain.AllocationRecommendation{}, err
	}

	rec := s.planner.Next(plan, current, s.now())
	observability.RecordRecommendation(string(rec.Status))

	return rec, nil
}

// Execute recommends and books the trade, appending it to the trade log.
// The returned trade is nil when nothing was suggested.
func (s *Service) Execute(ctx context.Context, planID string, price *decimal.Decimal) (domain.AllocationRecommendation, *domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return domain.AllocationRecommendation{}, nil, errors.Wrapf(err, "load plan %s", planID)
	}

	current, err := s.price(ctx, plan, price)
	if err != nil {
		return domain.AllocationRecommendation{}, nil, err
	}

	now := s.now()
	rec := s.planner.Next(plan, current, now)
	observability.RecordRecommendation(string(rec.Status))

	trade := s.planner.Apply(&plan, rec, now)
	if trade == nil {
		return rec, nil, nil
	}

	if err := s.plans.UpdatePlan(ctx, plan); err != nil {
		return domain.AllocationRecommendation{}, nil, errors.Wrap(err, "update plan")
	}
	if err := s.trades.Append(ctx, *trade); err != nil {
		return domain.AllocationRecommendation{}, nil, errors.Wrap(err, "append plan trade")
	}

	s.l.Info("allocation executed",
		zap.String("plan", plan.ID),
		zap.String("price", current.String()),
		zap.String("capital", trade.AmountUSD.String()),
		zap.String("amount", trade.AmountAsset.String()),
		zap.String("status", string(plan.Status)),
	)

	return rec, trade, nil
}

// ActivePlans lists the plans still deploying capital.
func (s *Service) ActivePlans(ctx context.Context) ([]domain.AllocationPlan, error) {
	plans, err := s.plans.ListPlans(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list plans")
	}

	active := plans[:0]
	for _, plan := range plans {
		if plan.Status == domain.PlanActive {
			active = append(active, plan)
		}
	}
	return active, nil
}

// RecommendActive recommends for every active plan at reference prices.
func (s *Service) RecommendActive(ctx context.Context) ([]domain.AllocationRecommendation, error) {
	plans, err := s.ActivePlans(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]domain.AllocationRecommendation, 0, len(plans))
	for _, plan := range plans {
		rec, err := s.Recommend(ctx, plan.ID, nil)
		if err != nil {
			s.l.Error("failed to recommend allocation", zap.String("plan", plan.ID), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func (s *Service) price(ctx context.Context, plan domain.AllocationPlan, price *decimal.Decimal) (decimal.Decimal, error) {
	if price != nil {
		if !price.IsPositive() {
			return decimal.Zero, errors.Wrapf(storage.ErrInvalidInput, "price must be positive, got %s", price)
		}
		return *price, nil
	}
	if s.feed == nil {
		return decimal.Zero, errors.New("no reference price feed configured")
	}

	current, err := s.feed.GetPrice(ctx, domain.Pair{From: plan.Asset, To: s.quote})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "get %s price", plan.Asset)
	}
	return current, nil
}

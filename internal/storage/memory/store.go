// Package memory provides an in-process storage.Store used by tests and the
// "memory" backend.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps configs, trades and plans in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	configs  map[string]domain.StrategyConfig
	trades   []domain.TradeRecord
	tradeIDs map[string]struct{}
	plans    map[string]domain.AllocationPlan
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		configs:  make(map[string]domain.StrategyConfig),
		tradeIDs: make(map[string]struct{}),
		plans:    make(map[string]domain.AllocationPlan),
	}
}

// Load returns the config for userID/version. Returns ErrNotFound if not exists.
func (s *Store) Load(_ context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[domain.ConfigKey(userID, version)]
	if !ok {
		return domain.StrategyConfig{}, storage.ErrNotFound
	}
	return cfg, nil
}

// Save stores cfg when its revision matches the stored one.
func (s *Store) Save(_ context.Context, cfg domain.StrategyConfig) (domain.StrategyConfig, error) {
	if cfg.UserID == "" || !cfg.Version.Valid() {
		return domain.StrategyConfig{}, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cfg.Key()
	current, exists := s.configs[key]
	switch {
	case !exists && cfg.Revision != 0:
		return domain.StrategyConfig{}, storage.ErrConflict
	case exists && current.Revision != cfg.Revision:
		return domain.StrategyConfig{}, storage.ErrConflict
	}

	cfg.Revision++
	s.configs[key] = cfg
	return cfg, nil
}

// ListConfigs returns all configs ordered by user and version.
func (s *Store) ListConfigs(_ context.Context) ([]domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StrategyConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	storage.SortConfigs(out)
	return out, nil
}

// Append adds a trade. Returns ErrDuplicateKey if the id exists.
func (s *Store) Append(_ context.Context, trade domain.TradeRecord) error {
	if trade.ID == "" || trade.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tradeIDs[trade.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.tradeIDs[trade.ID] = struct{}{}
	s.trades = append(s.trades, trade)
	return nil
}

// HasTrade reports whether a trade id is stored.
func (s *Store) HasTrade(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tradeIDs[id]
	return ok
}

// List returns a page of matching trades, newest first.
func (s *Store) List(_ context.Context, q domain.TradeQuery) ([]domain.TradeRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.TradeRecord
	for _, t := range s.trades {
		if storage.MatchTrade(t, q) {
			matched = append(matched, t)
		}
	}
	storage.SortTrades(matched)

	start, end := storage.Page(len(matched), q.Offset, q.Limit)
	return append([]domain.TradeRecord(nil), matched[start:end]...), len(matched), nil
}

// Clear drops every trade of userID.
func (s *Store) Clear(_ context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.trades[:0]
	removed := 0
	for _, t := range s.trades {
		if t.UserID == userID {
			delete(s.tradeIDs, t.ID)
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.trades = kept
	return removed, nil
}

// CreatePlan inserts a plan. Returns ErrDuplicateKey if the id exists.
func (s *Store) CreatePlan(_ context.Context, plan domain.AllocationPlan) error {
	if plan.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[plan.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.plans[plan.ID] = plan
	return nil
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(_ context.Context, id string) (domain.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return domain.AllocationPlan{}, storage.ErrNotFound
	}
	return plan, nil
}

// ActivePlan returns the latest active plan for asset.
func (s *Store) ActivePlan(_ context.Context, asset string) (domain.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found domain.AllocationPlan
		ok    bool
	)
	for _, plan := range s.plans {
		if plan.Status != domain.PlanActive || !strings.EqualFold(plan.Asset, asset) {
			continue
		}
		if !ok || plan.StartDate.After(found.StartDate) {
			found, ok = plan, true
		}
	}
	if !ok {
		return domain.AllocationPlan{}, storage.ErrNotFound
	}
	return found, nil
}

// UpdatePlan overwrites an existing plan.
func (s *Store) UpdatePlan(_ context.Context, plan domain.AllocationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[plan.ID]; !exists {
		return storage.ErrNotFound
	}
	s.plans[plan.ID] = plan
	return nil
}

// ListPlans returns all plans ordered by start date.
func (s *Store) ListPlans(_ context.Context) ([]domain.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AllocationPlan, 0, len(s.plans))
	for _, plan := range s.plans {
		out = append(out, plan)
	}
	storage.SortPlans(out)
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

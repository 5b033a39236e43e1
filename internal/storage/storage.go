// Package storage declares the persistence contracts shared by the memory,
// WAL, SQLite and PostgreSQL backends.
package storage

import (
	"context"
	"sort"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

// Backend names accepted by the store factory.
const (
	BackendMemory   = "memory"
	BackendWAL      = "wal"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ConfigStore persists StrategyConfig per user and version.
type ConfigStore interface {
	// Load returns the stored config. Returns ErrNotFound if none was saved.
	Load(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error)

	// Save writes cfg if the stored revision still equals cfg.Revision
	// (zero means the config must not exist yet). The returned config carries
	// the new revision. Returns ErrConflict on a revision mismatch.
	Save(ctx context.Context, cfg domain.StrategyConfig) (domain.StrategyConfig, error)

	// ListConfigs returns every stored config ordered by user and version.
	ListConfigs(ctx context.Context) ([]domain.StrategyConfig, error)
}

// TradeLog is the append-only trade history.
type TradeLog interface {
	// Append adds a trade. Returns ErrDuplicateKey if the trade id exists.
	Append(ctx context.Context, trade domain.TradeRecord) error

	// List returns a page of trades ordered by timestamp DESC, plus the total match count.
	List(ctx context.Context, q domain.TradeQuery) ([]domain.TradeRecord, int, error)

	// Clear removes the history of a user and returns how many trades were removed.
	Clear(ctx context.Context, userID string) (int, error)
}

// PlanStore persists allocation plans.
type PlanStore interface {
	// CreatePlan inserts a plan. Returns ErrDuplicateKey if the id exists.
	CreatePlan(ctx context.Context, plan domain.AllocationPlan) error

	// GetPlan returns a plan by id. Returns ErrNotFound if not exists.
	GetPlan(ctx context.Context, id string) (domain.AllocationPlan, error)

	// ActivePlan returns the most recently started active plan for an asset.
	ActivePlan(ctx context.Context, asset string) (domain.AllocationPlan, error)

	// UpdatePlan overwrites a plan. Returns ErrNotFound if not exists.
	UpdatePlan(ctx context.Context, plan domain.AllocationPlan) error

	// ListPlans returns all plans ordered by start date.
	ListPlans(ctx context.Context) ([]domain.AllocationPlan, error)
}

// Store groups every contract a backend implements.
type Store interface {
	ConfigStore
	TradeLog
	PlanStore
	Close() error
}

// DefaultLimit page size used when a query leaves Limit unset.
const DefaultLimit = 50

// Page clamps offset/limit against n items and returns the [start, end) window.
func Page(n, offset, limit int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}

// MatchTrade reports whether a trade satisfies the user/version filter of q.
func MatchTrade(t domain.TradeRecord, q domain.TradeQuery) bool {
	if q.UserID != "" && t.UserID != q.UserID {
		return false
	}
	return q.Version == 0 || t.Version == q.Version
}

// SortConfigs orders configs by user then version.
func SortConfigs(cfgs []domain.StrategyConfig) {
	sort.Slice(cfgs, func(i, j int) bool {
		if cfgs[i].UserID != cfgs[j].UserID {
			return cfgs[i].UserID < cfgs[j].UserID
		}
		return cfgs[i].Version < cfgs[j].Version
	})
}

// SortTrades orders trades by timestamp DESC, id breaking ties.
func SortTrades(trades []domain.TradeRecord) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].Timestamp.After(trades[j].Timestamp)
		}
		return trades[i].ID < trades[j].ID
	})
}

// SortPlans orders plans by start date ASC, id breaking ties.
func SortPlans(plans []domain.AllocationPlan) {
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].StartDate.Equal(plans[j].StartDate) {
			return plans[i].StartDate.Before(plans[j].StartDate)
		}
		return plans[i].ID < plans[j].ID
	})
}

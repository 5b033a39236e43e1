// Package walstore persists configs, trades and plans in a gowal write-ahead log.
// The log is replayed into an in-memory index on open; reads never touch disk.
package walstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/memory"
)

const (
	DefaultDir    = "./data/wal"
	backend       = storage.BackendWAL
	dirPermission = 0o755
	// segments are never dropped: every record is part of the replayed state.
	// TODO: write a snapshot record and truncate older segments once the log grows past a few thousand entries.
	segmentLimit = 1000
	maxSegments  = 1 << 20

	configKeyPrefix = "config_"
	tradeKeyPrefix  = "trade_"
	clearKeyPrefix  = "clear_"
	planKeyPrefix   = "plan_"
)

var _ storage.Store = (*Store)(nil)

// Store is a WAL-backed storage.Store.
type Store struct {
	l     *zap.Logger
	wal   *gowal.Wal
	index *memory.Store
	mu    sync.Mutex
}

// Open opens (or creates) the WAL in dir and replays it.
func Open(l *zap.Logger, dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "dca_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init store WAL")
	}

	s := &Store{l: l, wal: wal, index: memory.NewStore()}
	s.replay()

	return s, nil
}

type clearRecord struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

func (s *Store) replay() {
	ctx := context.Background()
	var n int
	for msg := range s.wal.Iterator() {
		n++
		var err error
		switch {
		case strings.HasPrefix(msg.Key, configKeyPrefix):
			var cfg domain.StrategyConfig
			if err = json.Unmarshal(msg.Value, &cfg); err == nil {
				cfg.Revision--
				_, err = s.index.Save(ctx, cfg)
			}
		case strings.HasPrefix(msg.Key, tradeKeyPrefix):
			var trade domain.TradeRecord
			if err = json.Unmarshal(msg.Value, &trade); err == nil {
				err = s.index.Append(ctx, trade)
			}
		case strings.HasPrefix(msg.Key, clearKeyPrefix):
			var rec clearRecord
			if err = json.Unmarshal(msg.Value, &rec); err == nil {
				_, err = s.index.Clear(ctx, rec.UserID)
			}
		case strings.HasPrefix(msg.Key, planKeyPrefix):
			var plan domain.AllocationPlan
			if err = json.Unmarshal(msg.Value, &plan); err == nil {
				if err = s.index.UpdatePlan(ctx, plan); errors.Is(err, storage.ErrNotFound) {
					err = s.index.CreatePlan(ctx, plan)
				}
			}
		}
		if err != nil {
			s.l.Error("skipping WAL record", zap.String("key", msg.Key), zap.Error(err))
		}
	}

	s.l.Debug("WAL replayed", zap.Int("records", n))
}

func (s *Store) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}

	nextIndex := s.wal.CurrentIndex() + 1
	return errors.Wrapf(s.wal.Write(nextIndex, key, data), "write %s", key)
}

func observe(op string, start time.Time, err error) {
	observability.RecordStoreOp(backend, op, time.Since(start).Seconds(), err)
}

// Load returns a config from the index.
func (s *Store) Load(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error) {
	return s.index.Load(ctx, userID, version)
}

// Save checks the revision, journals the config and applies it.
func (s *Store) Save(ctx context.Context, cfg domain.StrategyConfig) (saved domain.StrategyConfig, err error) {
	defer func(start time.Time) { observe("save_config", start, err) }(time.Now())

	if cfg.UserID == "" || !cfg.Version.Valid() {
		return domain.StrategyConfig{}, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.index.Load(ctx, cfg.UserID, cfg.Version)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if cfg.Revision != 0 {
			return domain.StrategyConfig{}, storage.ErrConflict
		}
	case err != nil:
		return domain.StrategyConfig{}, err
	case current.Revision != cfg.Revision:
		return domain.StrategyConfig{}, storage.ErrConflict
	}

	next := cfg
	next.Revision++
	if err := s.write(configKeyPrefix+cfg.Key(), next); err != nil {
		return domain.StrategyConfig{}, err
	}

	return s.index.Save(ctx, cfg)
}

// ListConfigs returns every config.
func (s *Store) ListConfigs(ctx context.Context) ([]domain.StrategyConfig, error) {
	return s.index.ListConfigs(ctx)
}

// Append journals a trade.
func (s *Store) Append(ctx context.Context, trade domain.TradeRecord) (err error) {
	defer func(start time.Time) { observe("append_trade", start, err) }(time.Now())

	if trade.ID == "" || trade.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.HasTrade(trade.ID) {
		return storage.ErrDuplicateKey
	}
	if err := s.write(tradeKeyPrefix+trade.ID, trade); err != nil {
		return err
	}

	return s.index.Append(ctx, trade)
}

// List returns a page of trades.
func (s *Store) List(ctx context.Context, q domain.TradeQuery) ([]domain.TradeRecord, int, error) {
	return s.index.List(ctx, q)
}

// Clear journals a tombstone that drops the user's earlier trades on replay.
func (s *Store) Clear(ctx context.Context, userID string) (n int, err error) {
	defer func(start time.Time) { observe("clear_trades", start, err) }(time.Now())

	if userID == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(clearKeyPrefix+userID, clearRecord{UserID: userID, At: time.Now().UTC()}); err != nil {
		return 0, err
	}

	return s.index.Clear(ctx, userID)
}

// CreatePlan journals a new plan.
func (s *Store) CreatePlan(ctx context.Context, plan domain.AllocationPlan) (err error) {
	defer func(start time.Time) { observe("create_plan", start, err) }(time.Now())

	if plan.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.GetPlan(ctx, plan.ID); err == nil {
		return storage.ErrDuplicateKey
	}
	if err := s.write(planKeyPrefix+plan.ID, plan); err != nil {
		return err
	}

	return s.index.CreatePlan(ctx, plan)
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (domain.AllocationPlan, error) {
	return s.index.GetPlan(ctx, id)
}

// ActivePlan returns the latest active plan for asset.
func (s *Store) ActivePlan(ctx context.Context, asset string) (domain.AllocationPlan, error) {
	return s.index.ActivePlan(ctx, asset)
}

// UpdatePlan journals the new plan state.
func (s *Store) UpdatePlan(ctx context.Context, plan domain.AllocationPlan) (err error) {
	defer func(start time.Time) { observe("update_plan", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.GetPlan(ctx, plan.ID); err != nil {
		return err
	}
	if err := s.write(planKeyPrefix+plan.ID, plan); err != nil {
		return err
	}

	return s.index.UpdatePlan(ctx, plan)
}

// ListPlans returns all plans.
func (s *Store) ListPlans(ctx context.Context) ([]domain.AllocationPlan, error) {
	return s.index.ListPlans(ctx)
}

// CurrentIndex returns the latest WAL index stored.
func (s *Store) CurrentIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return fmt.Errorf("wal store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

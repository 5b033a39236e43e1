// Package sqlite implements storage.Store on an embedded SQLite database.
// Decimals are stored as TEXT so no precision is lost; timestamps as unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
)

const backend = storage.BackendSQLite

var _ storage.Store = (*Store)(nil)

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS strategy_configs (
			user_id             TEXT    NOT NULL,
			version             INTEGER NOT NULL,
			revision            INTEGER NOT NULL,
			pair                TEXT    NOT NULL,
			step_size           TEXT    NOT NULL,
			slippage_bps        INTEGER NOT NULL,
			min_price           TEXT    NOT NULL,
			max_price           TEXT    NOT NULL,
			initial_capital     TEXT    NOT NULL,
			capital             TEXT    NOT NULL,
			ratio_price_up      TEXT    NOT NULL,
			ratio_price_down    TEXT    NOT NULL,
			is_stop             INTEGER NOT NULL,
			price_buy_history   TEXT    NOT NULL,
			amount_usd_to_buy   TEXT    NOT NULL,
			amount_asset_bought TEXT    NOT NULL,
			last_evaluated_at   INTEGER NOT NULL,
			PRIMARY KEY (user_id, version)
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id           TEXT PRIMARY KEY,
			user_id      TEXT    NOT NULL,
			version      INTEGER NOT NULL,
			plan_id      TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			price        TEXT    NOT NULL,
			action       TEXT    NOT NULL,
			amount_usd   TEXT    NOT NULL,
			amount_asset TEXT    NOT NULL,
			swap_from    TEXT    NOT NULL,
			swap_to      TEXT    NOT NULL,
			swap_in      TEXT    NOT NULL,
			swap_out     TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_ts ON trades(user_id, ts)`,

		`CREATE TABLE IF NOT EXISTS allocation_plans (
			id                    TEXT PRIMARY KEY,
			asset                 TEXT    NOT NULL,
			min_price             TEXT    NOT NULL,
			max_price             TEXT    NOT NULL,
			target_average_price  TEXT    NOT NULL,
			initial_capital       TEXT    NOT NULL,
			monthly_top_up        TEXT    NOT NULL,
			start_date            INTEGER NOT NULL,
			executed_capital      TEXT    NOT NULL,
			executed_amount       TEXT    NOT NULL,
			last_capital_snapshot TEXT    NOT NULL,
			status                TEXT    NOT NULL,
			updated_at            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_asset ON allocation_plans(asset, status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func observe(op string, start time.Time, err error) {
	observability.RecordStoreOp(backend, op, time.Since(start).Seconds(), err)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// decimals parses TEXT columns into their destinations.
func decimals(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		raw := pairs[i].(string)
		dst := pairs[i+1].(*decimal.Decimal)
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse decimal %q: %w", raw, err)
		}
		*dst = d
	}
	return nil
}

const configColumns = `user_id, version, revision, pair, step_size, slippage_bps, min_price, max_price,
	initial_capital, capital, ratio_price_up, ratio_price_down, is_stop, price_buy_history,
	amount_usd_to_buy, amount_asset_bought, last_evaluated_at`

func scanConfig(row interface{ Scan(...any) error }) (domain.StrategyConfig, error) {
	var (
		cfg                                                domain.StrategyConfig
		pair, step, minP, maxP, initCap, capital, up, down string
		history, usd, asset                                string
		lastEval                                           int64
	)
	err := row.Scan(&cfg.UserID, &cfg.Version, &cfg.Revision, &pair, &step, &cfg.SlippageToleranceBps,
		&minP, &maxP, &initCap, &capital, &up, &down, &cfg.IsStop, &history, &usd, &asset, &lastEval)
	if err != nil {
		return domain.StrategyConfig{}, err
	}

	if cfg.Pair, err = domain.ParsePair(pair); err != nil {
		return domain.StrategyConfig{}, err
	}
	cfg.LastEvaluatedAt = fromUnixNano(lastEval)

	err = decimals(step, &cfg.StepSize, minP, &cfg.MinPrice, maxP, &cfg.MaxPrice,
		initCap, &cfg.InitialCapital, capital, &cfg.Capital, up, &cfg.RatioPriceUp, down, &cfg.RatioPriceDown,
		history, &cfg.PriceBuyHistory, usd, &cfg.AmountUSDToBuy, asset, &cfg.AmountAssetBought)
	return cfg, err
}

// Load returns the config for userID/version.
func (s *Store) Load(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM strategy_configs WHERE user_id = ? AND version = ?`, userID, version)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StrategyConfig{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Save inserts the first revision or updates the row whose revision matches cfg.Revision.
func (s *Store) Save(ctx context.Context, cfg domain.StrategyConfig) (saved domain.StrategyConfig, err error) {
	defer func(start time.Time) { observe("save_config", start, err) }(time.Now())

	if cfg.UserID == "" || !cfg.Version.Valid() {
		return domain.StrategyConfig{}, storage.ErrInvalidInput
	}

	next := cfg
	next.Revision++
	args := []any{
		next.Revision, next.Pair.String(), next.StepSize.String(), next.SlippageToleranceBps,
		next.MinPrice.String(), next.MaxPrice.String(), next.InitialCapital.String(), next.Capital.String(),
		next.RatioPriceUp.String(), next.RatioPriceDown.String(), next.IsStop, next.PriceBuyHistory.String(),
		next.AmountUSDToBuy.String(), next.AmountAssetBought.String(), unixNano(next.LastEvaluatedAt),
		next.UserID, next.Version,
	}

	var res sql.Result
	if cfg.Revision == 0 {
		res, err = s.db.ExecContext(ctx, `INSERT INTO strategy_configs (
			revision, pair, step_size, slippage_bps, min_price, max_price, initial_capital, capital,
			ratio_price_up, ratio_price_down, is_stop, price_buy_history, amount_usd_to_buy,
			amount_asset_bought, last_evaluated_at, user_id, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, version) DO NOTHING`, args...)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE strategy_configs SET
			revision = ?, pair = ?, step_size = ?, slippage_bps = ?, min_price = ?, max_price = ?,
			initial_capital = ?, capital = ?, ratio_price_up = ?, ratio_price_down = ?, is_stop = ?,
			price_buy_history = ?, amount_usd_to_buy = ?, amount_asset_bought = ?, last_evaluated_at = ?
		WHERE user_id = ? AND version = ? AND revision = ?`, append(args, cfg.Revision)...)
	}
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("save config: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("save config: %w", err)
	}
	if n == 0 {
		return domain.StrategyConfig{}, storage.ErrConflict
	}
	return next, nil
}

// ListConfigs returns every config ordered by user and version.
func (s *Store) ListConfigs(ctx context.Context) ([]domain.StrategyConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` FROM strategy_configs ORDER BY user_id, version`)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Append inserts a trade. Returns ErrDuplicateKey if the id exists.
func (s *Store) Append(ctx context.Context, t domain.TradeRecord) (err error) {
	defer func(start time.Time) { observe("append_trade", start, err) }(time.Now())

	if t.ID == "" || t.UserID == "" {
		return storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO trades (
			id, user_id, version, plan_id, ts, price, action, amount_usd, amount_asset,
			swap_from, swap_to, swap_in, swap_out
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.UserID, t.Version, t.PlanID, unixNano(t.Timestamp), t.Price.String(), t.Action.String(),
		t.AmountUSD.String(), t.AmountAsset.String(),
		t.Swap.From, t.Swap.To, t.Swap.AmountIn.String(), t.Swap.AmountOut.String(),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

func tradeFilter(q domain.TradeQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Version != 0 {
		conds = append(conds, "version = ?")
		args = append(args, q.Version)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns a page of trades ordered by timestamp DESC.
func (s *Store) List(ctx context.Context, q domain.TradeQuery) ([]domain.TradeRecord, int, error) {
	where, args := tradeFilter(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count trades: %w", err)
	}

	offset, end := storage.Page(total, q.Offset, q.Limit)
	if offset == end {
		return nil, total, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, version, plan_id, ts, price, action, amount_usd,
			amount_asset, swap_from, swap_to, swap_in, swap_out
		FROM trades`+where+` ORDER BY ts DESC, id ASC LIMIT ? OFFSET ?`,
		append(args, end-offset, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t                                  domain.TradeRecord
			ts                                 int64
			action                             string
			price, usd, asset, swapIn, swapOut string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Version, &t.PlanID, &ts, &price, &action, &usd, &asset,
			&t.Swap.From, &t.Swap.To, &swapIn, &swapOut); err != nil {
			return nil, 0, fmt.Errorf("scan trade: %w", err)
		}
		if err := t.Action.UnmarshalText([]byte(action)); err != nil {
			return nil, 0, err
		}
		t.Timestamp = fromUnixNano(ts)
		if err := decimals(price, &t.Price, usd, &t.AmountUSD, asset, &t.AmountAsset,
			swapIn, &t.Swap.AmountIn, swapOut, &t.Swap.AmountOut); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// Clear deletes the trades of userID.
func (s *Store) Clear(ctx context.Context, userID string) (n int, err error) {
	defer func(start time.Time) { observe("clear_trades", start, err) }(time.Now())

	if userID == "" {
		return 0, storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear trades: %w", err)
	}
	removed, err := res.RowsAffected()
	return int(removed), err
}

const planColumns = `id, asset, min_price, max_price, target_average_price, initial_capital, monthly_top_up,
	start_date, executed_capital, executed_amount, last_capital_snapshot, status, updated_at`

func planArgs(p domain.AllocationPlan) []any {
	return []any{
		p.ID, strings.ToUpper(p.Asset), p.MinPrice.String(), p.MaxPrice.String(), p.TargetAveragePrice.String(),
		p.InitialCapital.String(), p.MonthlyTopUp.String(), unixNano(p.StartDate),
		p.ExecutedCapital.String(), p.ExecutedAmount.String(), p.LastCapitalSnapshot.String(),
		string(p.Status), unixNano(p.UpdatedAt),
	}
}

func scanPlan(row interface{ Scan(...any) error }) (domain.AllocationPlan, error) {
	var (
		p                                  domain.AllocationPlan
		minP, maxP, target, initCap, topUp string
		execCap, execAmt, snapshot, status string
		start, updated                     int64
	)
	if err := row.Scan(&p.ID, &p.Asset, &minP, &maxP, &target, &initCap, &topUp, &start,
		&execCap, &execAmt, &snapshot, &status, &updated); err != nil {
		return domain.AllocationPlan{}, err
	}
	p.Status = domain.PlanStatus(status)
	p.StartDate = fromUnixNano(start)
	p.UpdatedAt = fromUnixNano(updated)

	err := decimals(minP, &p.MinPrice, maxP, &p.MaxPrice, target, &p.TargetAveragePrice,
		initCap, &p.InitialCapital, topUp, &p.MonthlyTopUp, execCap, &p.ExecutedCapital,
		execAmt, &p.ExecutedAmount, snapshot, &p.LastCapitalSnapshot)
	return p, err
}

// CreatePlan inserts a plan. Returns ErrDuplicateKey if the id exists.
func (s *Store) CreatePlan(ctx context.Context, plan domain.AllocationPlan) (err error) {
	defer func(start time.Time) { observe("create_plan", start, err) }(time.Now())

	if plan.ID == "" {
		return storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO allocation_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, planArgs(plan)...)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (domain.AllocationPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM allocation_plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AllocationPlan{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// ActivePlan returns the latest active plan for asset.
func (s *Store) ActivePlan(ctx context.Context, asset string) (domain.AllocationPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM allocation_plans
		WHERE asset = ? AND status = ? ORDER BY start_date DESC LIMIT 1`,
		strings.ToUpper(asset), string(domain.PlanActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AllocationPlan{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("active plan: %w", err)
	}
	return p, nil
}

// UpdatePlan overwrites an existing plan.
func (s *Store) UpdatePlan(ctx context.Context, plan domain.AllocationPlan) (err error) {
	defer func(start time.Time) { observe("update_plan", start, err) }(time.Now())

	args := planArgs(plan)
	res, err := s.db.ExecContext(ctx, `UPDATE allocation_plans SET
			asset = ?, min_price = ?, max_price = ?, target_average_price = ?, initial_capital = ?,
			monthly_top_up = ?, start_date = ?, executed_capital = ?, executed_amount = ?,
			last_capital_snapshot = ?, status = ?, updated_at = ?
		WHERE id = ?`, append(args[1:], args[0])...)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPlans returns all plans ordered by start date.
func (s *Store) ListPlans(ctx context.Context) ([]domain.AllocationPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM allocation_plans ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []domain.AllocationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

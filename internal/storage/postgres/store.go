package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a Store on an existing pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

const configColumns = `user_id, version, revision, pair, step_size::text, slippage_bps, min_price::text,
	max_price::text, initial_capital::text, capital::text, ratio_price_up::text, ratio_price_down::text,
	is_stop, price_buy_history::text, amount_usd_to_buy::text, amount_asset_bought::text, last_evaluated_at`

func scanConfig(row pgx.Row) (domain.StrategyConfig, error) {
	var (
		cfg                                                domain.StrategyConfig
		pair, step, minP, maxP, initCap, capital, up, down string
		history, usd, asset                                string
		lastEval                                           *time.Time
	)
	err := row.Scan(&cfg.UserID, &cfg.Version, &cfg.Revision, &pair, &step, &cfg.SlippageToleranceBps,
		&minP, &maxP, &initCap, &capital, &up, &down, &cfg.IsStop, &history, &usd, &asset, &lastEval)
	if err != nil {
		return domain.StrategyConfig{}, err
	}

	if cfg.Pair, err = domain.ParsePair(pair); err != nil {
		return domain.StrategyConfig{}, err
	}
	if lastEval != nil {
		cfg.LastEvaluatedAt = lastEval.UTC()
	}

	err = numerics(step, &cfg.StepSize, minP, &cfg.MinPrice, maxP, &cfg.MaxPrice,
		initCap, &cfg.InitialCapital, capital, &cfg.Capital, up, &cfg.RatioPriceUp, down, &cfg.RatioPriceDown,
		history, &cfg.PriceBuyHistory, usd, &cfg.AmountUSDToBuy, asset, &cfg.AmountAssetBought)
	return cfg, err
}

// Load returns the config for userID/version. Returns ErrNotFound if not exists.
func (s *Store) Load(ctx context.Context, userID string, version domain.StrategyVersion) (domain.StrategyConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM strategy_configs WHERE user_id = $1 AND version = $2`, userID, int16(version))

	cfg, err := scanConfig(row)
	if err != nil {
		if isNotFoundError(err) {
			return domain.StrategyConfig{}, storage.ErrNotFound
		}
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
		next.UserID, int16(next.Version), int64(next.Revision), next.Pair.String(), next.StepSize.String(),
		next.SlippageToleranceBps, next.MinPrice.String(), next.MaxPrice.String(), next.InitialCapital.String(),
		next.Capital.String(), next.RatioPriceUp.String(), next.RatioPriceDown.String(), next.IsStop,
		next.PriceBuyHistory.String(), next.AmountUSDToBuy.String(), next.AmountAssetBought.String(),
		nullableTime(next.LastEvaluatedAt),
	}

	var query string
	if cfg.Revision == 0 {
		query = `
			INSERT INTO strategy_configs (
				user_id, version, revision, pair, step_size, slippage_bps, min_price, max_price,
				initial_capital, capital, ratio_price_up, ratio_price_down, is_stop,
				price_buy_history, amount_usd_to_buy, amount_asset_bought, last_evaluated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (user_id, version) DO NOTHING
		`
	} else {
		query = `
			UPDATE strategy_configs SET
				revision = $3, pair = $4, step_size = $5, slippage_bps = $6, min_price = $7,
				max_price = $8, initial_capital = $9, capital = $10, ratio_price_up = $11,
				ratio_price_down = $12, is_stop = $13, price_buy_history = $14,
				amount_usd_to_buy = $15, amount_asset_bought = $16, last_evaluated_at = $17
			WHERE user_id = $1 AND version = $2 AND revision = $18
		`
		args = append(args, int64(cfg.Revision))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("save config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.StrategyConfig{}, storage.ErrConflict
	}
	return next, nil
}

// ListConfigs returns every config ordered by user and version.
func (s *Store) ListConfigs(ctx context.Context) ([]domain.StrategyConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+configColumns+` FROM strategy_configs ORDER BY user_id, version`)
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trades (
			id, user_id, version, plan_id, ts, price, action, amount_usd, amount_asset,
			swap_from, swap_to, swap_in, swap_out
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		t.ID, t.UserID, int16(t.Version), t.PlanID, t.Timestamp, t.Price.String(), t.Action.String(),
		t.AmountUSD.String(), t.AmountAsset.String(),
		t.Swap.From, t.Swap.To, t.Swap.AmountIn.String(), t.Swap.AmountOut.String(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func tradeFilter(q domain.TradeQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.UserID != "" {
		args = append(args, q.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.Version != 0 {
		args = append(args, int16(q.Version))
		conds = append(conds, fmt.Sprintf("version = $%d", len(args)))
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
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count trades: %w", err)
	}

	offset, end := storage.Page(total, q.Offset, q.Limit)
	if offset == end {
		return nil, total, nil
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, version, plan_id, ts, price::text, action, amount_usd::text,
			amount_asset::text, swap_from, swap_to, swap_in::text, swap_out::text
		FROM trades%s
		ORDER BY ts DESC, id ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)

	rows, err := s.pool.Query(ctx, query, append(args, end-offset, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t                                  domain.TradeRecord
			action                             string
			price, usd, asset, swapIn, swapOut string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Version, &t.PlanID, &t.Timestamp, &price, &action, &usd, &asset,
			&t.Swap.From, &t.Swap.To, &swapIn, &swapOut); err != nil {
			return nil, 0, fmt.Errorf("scan trade: %w", err)
		}
		if err := t.Action.UnmarshalText([]byte(action)); err != nil {
			return nil, 0, err
		}
		t.Timestamp = t.Timestamp.UTC()
		if err := numerics(price, &t.Price, usd, &t.AmountUSD, asset, &t.AmountAsset,
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

	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear trades: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const planColumns = `id, asset, min_price::text, max_price::text, target_average_price::text,
	initial_capital::text, monthly_top_up::text, start_date, executed_capital::text,
	executed_amount::text, last_capital_snapshot::text, status, updated_at`

func planArgs(p domain.AllocationPlan) []any {
	return []any{
		p.ID, strings.ToUpper(p.Asset), p.MinPrice.String(), p.MaxPrice.String(), p.TargetAveragePrice.String(),
		p.InitialCapital.String(), p.MonthlyTopUp.String(), p.StartDate,
		p.ExecutedCapital.String(), p.ExecutedAmount.String(), p.LastCapitalSnapshot.String(),
		string(p.Status), p.UpdatedAt,
	}
}

func scanPlan(row pgx.Row) (domain.AllocationPlan, error) {
	var (
		p                                  domain.AllocationPlan
		minP, maxP, target, initCap, topUp string
		execCap, execAmt, snapshot, status string
	)
	if err := row.Scan(&p.ID, &p.Asset, &minP, &maxP, &target, &initCap, &topUp, &p.StartDate,
		&execCap, &execAmt, &snapshot, &status, &p.UpdatedAt); err != nil {
		return domain.AllocationPlan{}, err
	}
	p.Status = domain.PlanStatus(status)
	p.StartDate = p.StartDate.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	err := numerics(minP, &p.MinPrice, maxP, &p.MaxPrice, target, &p.TargetAveragePrice,
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO allocation_plans (
			id, asset, min_price, max_price, target_average_price, initial_capital, monthly_top_up,
			start_date, executed_capital, executed_amount, last_capital_snapshot, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, planArgs(plan)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan returns a plan by id. Returns ErrNotFound if not exists.
func (s *Store) GetPlan(ctx context.Context, id string) (domain.AllocationPlan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM allocation_plans WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return domain.AllocationPlan{}, storage.ErrNotFound
		}
		return domain.AllocationPlan{}, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// ActivePlan returns the latest active plan for asset.
func (s *Store) ActivePlan(ctx context.Context, asset string) (domain.AllocationPlan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx, `
		SELECT `+planColumns+` FROM allocation_plans
		WHERE asset = $1 AND status = $2
		ORDER BY start_date DESC
		LIMIT 1
	`, strings.ToUpper(asset), string(domain.PlanActive)))
	if err != nil {
		if isNotFoundError(err) {
			return domain.AllocationPlan{}, storage.ErrNotFound
		}
		return domain.AllocationPlan{}, fmt.Errorf("active plan: %w", err)
	}
	return p, nil
}

// UpdatePlan overwrites an existing plan. Returns ErrNotFound if not exists.
func (s *Store) UpdatePlan(ctx context.Context, plan domain.AllocationPlan) (err error) {
	defer func(start time.Time) { observe("update_plan", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE allocation_plans SET
			asset = $2, min_price = $3, max_price = $4, target_average_price = $5,
			initial_capital = $6, monthly_top_up = $7, start_date = $8, executed_capital = $9,
			executed_amount = $10, last_capital_snapshot = $11, status = $12, updated_at = $13
		WHERE id = $1
	`, planArgs(plan)...)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPlans returns all plans ordered by start date.
func (s *Store) ListPlans(ctx context.Context) ([]domain.AllocationPlan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+` FROM allocation_plans ORDER BY start_date, id`)
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

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Package solver finds the minimal swap input that moves a pool to a target price.
package solver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricemath"
)

const (
	DefaultChunks        = 8
	DefaultMaxIterations = 96
	DefaultMaxMultiplier = 4

	pathUnconstrained = "unconstrained"
	pathFallback      = "fallback"
	pathGradual       = "gradual"
)

// PoolReader provides fresh pool state.
type PoolReader interface {
	Snapshot(ctx context.Context, pool common.Address) (domain.PoolSnapshot, error)
}

// Options tune the search. Zero values select the defaults.
type Options struct {
	Chunks        int
	MaxIterations int
	MaxMultiplier int
}

func (o Options) withDefaults() Options {
	if o.Chunks < 1 {
		o.Chunks = DefaultChunks
	}
	if o.MaxIterations < 1 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.MaxMultiplier < 1 {
		o.MaxMultiplier = DefaultMaxMultiplier
	}
	return o
}

// Request describes one solve.
type Request struct {
	Pool common.Address
	// Direction empty derives it from the current and target prices.
	Direction domain.Direction
	// TargetPrice token1 per token0.
	TargetPrice decimal.Decimal
	// Available caps the input, in tokenIn units. Nil means unconstrained.
	Available *decimal.Decimal
	// Options override the solver defaults when non-zero.
	Options Options
}

// Result of a solve.
type Result struct {
	Pool         common.Address   `json:"pool"`
	Direction    domain.Direction `json:"direction"`
	TokenIn      domain.TokenMeta `json:"token_in"`
	TokenOut     domain.TokenMeta `json:"token_out"`
	AmountIn     *big.Int         `json:"-"`
	AmountInRaw  string           `json:"amount_in_raw"`
	Amount       decimal.Decimal  `json:"amount_in"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	TargetPrice  decimal.Decimal  `json:"target_price"`
	FinalPrice   decimal.Decimal  `json:"final_price"`
	UsedGradual  bool             `json:"used_gradual"`
	// TargetReached is false for best-effort results.
	TargetReached bool `json:"target_reached"`
	QuoteCalls    int  `json:"quote_calls"`
}

// Solver orchestrates the liquidity estimate and quote verification.
type Solver struct {
	l      *zap.Logger
	reader PoolReader
	quoter Quoter
	opts   Options
}

// New creates a solver.
func New(l *zap.Logger, reader PoolReader, quoter Quoter, opts Options) *Solver {
	return &Solver{l: l, reader: reader, quoter: quoter, opts: opts.withDefaults()}
}

// SolveForPool moves pool toward target, deriving direction and token order from the current price.
func (s *Solver) SolveForPool(ctx context.Context, pool common.Address, target decimal.Decimal, available *decimal.Decimal) (Result, error) {
	return s.Solve(ctx, Request{Pool: pool, TargetPrice: target, Available: available})
}

// Solve returns the smallest input found that moves the pool price to the target.
func (s *Solver) Solve(ctx context.Context, req Request) (Result, error) {
	if !req.TargetPrice.IsPositive() {
		return Result{}, errors.Wrapf(domain.ErrInvalidTarget, "target price must be positive, got %s", req.TargetPrice)
	}
	if req.Available != nil && !req.Available.IsPositive() {
		return Result{}, errors.Errorf("available amount must be positive, got %s", req.Available)
	}

	snap, err := s.reader.Snapshot(ctx, req.Pool)
	if err != nil {
		return Result{}, errors.Wrap(err, "read pool snapshot")
	}
	if !snap.Active() {
		return Result{}, errors.Wrapf(domain.ErrPoolNotFound, "pool %s is not initialized", req.Pool.Hex())
	}

	dec0, dec1 := snap.Token0.Decimals, snap.Token1.Decimals
	sqrtCurrent := snap.SqrtPriceX96.ToBig()
	sqrtTarget, err := pricemath.ToSqrtPriceX96(req.TargetPrice, dec0, dec1)
	if err != nil {
		return Result{}, err
	}

	dir := req.Direction
	if dir == "" {
		var ok bool
		if dir, ok = pricemath.DirectionOf(sqrtCurrent, sqrtTarget); !ok {
			return Result{}, errors.Wrapf(domain.ErrInvalidTarget, "pool is already at %s", req.TargetPrice)
		}
	}

	mathEstimate := pricemath.EstimateAmountIn(sqrtCurrent, sqrtTarget, snap.Liquidity.ToBig(), dir)
	if mathEstimate.Sign() <= 0 {
		return Result{}, errors.Wrapf(domain.ErrInvalidTarget,
			"target %s is not reachable moving %s from %s", req.TargetPrice, dir, pricemath.ToDecimalPrice(sqrtCurrent, dec0, dec1))
	}

	tokenIn, tokenOut := snap.Tokens(dir)
	opts := s.opts
	if req.Options != (Options{}) {
		opts = req.Options.withDefaults()
	}

	sr := &search{
		l:        s.l.With(zap.String("pool", req.Pool.Hex()), zap.String("direction", string(dir))),
		verifier: NewQuoteVerifier(s.quoter, snap, dir),
		dir:      dir,
		target:   req.TargetPrice,
		opts:     opts,
	}

	var available *big.Int
	if req.Available != nil {
		available = pricemath.ToUnits(*req.Available, tokenIn.Decimals)
		if available.Sign() <= 0 {
			return Result{}, errors.Errorf("available amount %s is below one unit of %s", req.Available, tokenIn.Symbol)
		}
	}

	out, path, err := sr.run(ctx, mathEstimate, sqrtTarget, dec0, dec1, available)
	observability.RecordSolve(path, sr.verifier.Calls(), err)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Pool:          req.Pool,
		Direction:     dir,
		TokenIn:       tokenIn,
		TokenOut:      tokenOut,
		AmountIn:      out.amount,
		AmountInRaw:   out.amount.String(),
		Amount:        pricemath.FromUnits(out.amount, tokenIn.Decimals),
		CurrentPrice:  pricemath.ToDecimalPrice(sqrtCurrent, dec0, dec1),
		TargetPrice:   req.TargetPrice,
		FinalPrice:    out.price,
		UsedGradual:   out.gradual,
		TargetReached: out.reached,
		QuoteCalls:    sr.verifier.Calls(),
	}

	s.l.Info("price target solved",
		zap.String("pool", req.Pool.Hex()),
		zap.String("direction", string(dir)),
		zap.String("amountIn", res.Amount.String()),
		zap.String("finalPrice", res.FinalPrice.String()),
		zap.Bool("usedGradual", res.UsedGradual),
		zap.Bool("targetReached", res.TargetReached),
		zap.Int("quoteCalls", res.QuoteCalls),
	)

	return res, nil
}

type outcome struct {
	amount  *big.Int
	price   decimal.Decimal
	gradual bool
	reached bool
}

type search struct {
	l        *zap.Logger
	verifier *QuoteVerifier
	dir      domain.Direction
	target   decimal.Decimal
	opts     Options
}

func (sr *search) run(ctx context.Context, mathEstimate, sqrtTarget *big.Int, dec0, dec1 uint8, available *big.Int) (outcome, string, error) {
	quoterEstimate := new(big.Int).Set(mathEstimate)
	probe, err := sr.verifier.Verify(ctx, mathEstimate)
	switch {
	case err != nil:
		sr.l.Warn("estimate probe failed, using liquidity estimate", zap.Error(err))
	case !crossed(sr.dir, probe.Price, sr.target):
		quoterEstimate.Lsh(quoterEstimate, 1)
	}

	if available == nil || available.Cmp(quoterEstimate) >= 0 {
		high := new(big.Int).Mul(mathEstimate, big.NewInt(int64(sr.opts.MaxMultiplier)))
		if available != nil && high.Cmp(available) > 0 {
			high.Set(available)
		}
		if out, ok := sr.bisect(ctx, big.NewInt(1), high); ok {
			return out, pathUnconstrained, nil
		}

		// the estimate missed and the input is capped: never return more than available.
		if available != nil {
			out, err := sr.gradual(ctx, available)
			return out, pathGradual, err
		}

		return outcome{
			amount: mathEstimate,
			price:  pricemath.ToDecimalPrice(sqrtTarget, dec0, dec1),
		}, pathFallback, nil
	}

	out, err := sr.gradual(ctx, available)
	return out, pathGradual, err
}

// bisect finds the smallest crossing amount in [low, high]. A quote failure
// stops the search and keeps what was found.
func (sr *search) bisect(ctx context.Context, low, high *big.Int) (outcome, bool) {
	var best *Verification
	low, high = new(big.Int).Set(low), new(big.Int).Set(high)
	one := big.NewInt(1)

	for i := 0; i < sr.opts.MaxIterations && low.Cmp(high) <= 0; i++ {
		mid := new(big.Int).Add(low, high)
		mid.Rsh(mid, 1)

		v, err := sr.verifier.Verify(ctx, mid)
		if err != nil {
			sr.l.Warn("quote failed during search, keeping best so far", zap.String("amountIn", mid.String()), zap.Error(err))
			break
		}

		if crossed(sr.dir, v.Price, sr.target) {
			best = &v
			high.Sub(mid, one)
		} else {
			low.Add(mid, one)
		}
	}

	if best == nil {
		return outcome{}, false
	}
	return outcome{amount: best.AmountIn, price: best.Price, reached: true}, true
}

// gradual quotes cumulative chunks of available and narrows down inside the first crossing chunk.
func (sr *search) gradual(ctx context.Context, available *big.Int) (outcome, error) {
	chunks := big.NewInt(int64(sr.opts.Chunks))
	chunk := new(big.Int).Quo(available, chunks)
	if chunk.Sign() == 0 {
		chunk.Set(available)
	}

	prev := new(big.Int)
	var last *Verification
	for i := int64(1); prev.Cmp(available) < 0; i++ {
		cumulative := new(big.Int).Mul(chunk, big.NewInt(i))
		if i >= int64(sr.opts.Chunks) || cumulative.Cmp(available) > 0 {
			cumulative.Set(available)
		}

		v, err := sr.verifier.Verify(ctx, cumulative)
		if err != nil {
			sr.l.Warn("chunk quote failed", zap.String("amountIn", cumulative.String()), zap.Error(err))
			last = nil
			break
		}

		if crossed(sr.dir, v.Price, sr.target) {
			lo := new(big.Int).Add(prev, big.NewInt(1))
			if inner, ok := sr.bisect(ctx, lo, new(big.Int).Sub(cumulative, big.NewInt(1))); ok {
				inner.gradual = true
				return inner, nil
			}
			return outcome{amount: v.AmountIn, price: v.Price, gradual: true, reached: true}, nil
		}

		last = &v
		prev = cumulative
	}

	if last == nil || last.AmountIn.Cmp(available) != 0 {
		v, err := sr.verifier.Verify(ctx, available)
		if err != nil {
			return outcome{}, errors.Wrapf(domain.ErrQuoteUnavailable, "final verification of %s: %v", available, err)
		}
		last = &v
		if crossed(sr.dir, v.Price, sr.target) {
			return outcome{amount: v.AmountIn, price: v.Price, gradual: true, reached: true}, nil
		}
	}

	sr.l.Info("available amount cannot reach target, returning best effort",
		zap.String("available", available.String()),
		zap.String("price", last.Price.String()),
	)

	return outcome{amount: new(big.Int).Set(available), price: last.Price, gradual: true}, nil
}

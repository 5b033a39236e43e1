package solver

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricemath"
)

var (
	poolAddr = common.HexToAddress("0x951c97b306eee55C82adaB79a83Bb2397Cd1A8c9")
	token0   = common.HexToAddress("0xc47da4cb96ce65a96844a01bfae509f9d5454534")
	token1   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// syntheticPool is a constant-liquidity pool. The snapshot reports liquidity
// while quotes use effective, so the closed-form estimate can be made to miss.
type syntheticPool struct {
	sqrt      *big.Int
	liquidity *big.Int
	effective *big.Int

	mu        sync.Mutex
	calls     int
	failAfter int // quotes after this many calls fail; <0 never
}

func newSyntheticPool() *syntheticPool {
	return &syntheticPool{
		sqrt:      new(big.Int).Set(pricemath.Q96),
		liquidity: tokens(1000),
		effective: tokens(1500),
		failAfter: -1,
	}
}

func (p *syntheticPool) Snapshot(_ context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	if addr != poolAddr {
		return domain.PoolSnapshot{}, errors.Wrap(domain.ErrPoolNotFound, addr.Hex())
	}
	sqrt, _ := uint256.FromBig(p.sqrt)
	liq, _ := uint256.FromBig(p.liquidity)
	return domain.PoolSnapshot{
		Address:      poolAddr,
		SqrtPriceX96: sqrt,
		Liquidity:    liq,
		Fee:          500,
		Token0:       domain.TokenMeta{Address: token0, Symbol: "JPYT", Decimals: 18},
		Token1:       domain.TokenMeta{Address: token1, Symbol: "USDC", Decimals: 18},
	}, nil
}

func (p *syntheticPool) sqrtAfter(dir domain.Direction, amount *big.Int) *big.Int {
	if dir == domain.DirectionUp {
		delta := new(big.Int).Mul(amount, pricemath.Q96)
		delta.Quo(delta, p.effective)
		return delta.Add(delta, p.sqrt)
	}

	lq := new(big.Int).Mul(p.effective, pricemath.Q96)
	num := new(big.Int).Mul(lq, p.sqrt)
	den := new(big.Int).Mul(amount, p.sqrt)
	den.Add(den, lq)
	return num.Quo(num, den)
}

func (p *syntheticPool) priceAfter(dir domain.Direction, amount *big.Int) decimal.Decimal {
	return pricemath.ToDecimalPrice(p.sqrtAfter(dir, amount), 18, 18)
}

func (p *syntheticPool) QuoteExactInput(_ context.Context, req domain.QuoteRequest) (domain.QuoteResult, error) {
	p.mu.Lock()
	p.calls++
	calls := p.calls
	p.mu.Unlock()

	if p.failAfter >= 0 && calls > p.failAfter {
		return domain.QuoteResult{}, errors.New("execution reverted")
	}

	dir := domain.DirectionDown
	if req.TokenIn == token1 {
		dir = domain.DirectionUp
	}

	return domain.QuoteResult{
		AmountOut:         big.NewInt(1),
		SqrtPriceX96After: p.sqrtAfter(dir, req.AmountIn),
		GasEstimate:       big.NewInt(100_000),
	}, nil
}

func newSolver(p *syntheticPool) *Solver {
	return New(zap.NewNop(), p, p, Options{})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func requireMinimal(t *testing.T, p *syntheticPool, dir domain.Direction, target decimal.Decimal, amount *big.Int) {
	t.Helper()
	require.True(t, crossed(dir, p.priceAfter(dir, amount), target), "amount %s does not reach %s", amount, target)
	smaller := new(big.Int).Sub(amount, big.NewInt(1))
	require.False(t, crossed(dir, p.priceAfter(dir, smaller), target), "amount %s is not minimal", amount)
}

func TestSolve_Unconstrained(t *testing.T) {
	tests := []struct {
		name   string
		dir    domain.Direction
		target string
	}{
		{name: "up", dir: domain.DirectionUp, target: "1.21"},
		{name: "down", dir: domain.DirectionDown, target: "0.81"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newSyntheticPool()
			target := dec(tt.target)

			res, err := newSolver(p).Solve(context.Background(), Request{Pool: poolAddr, Direction: tt.dir, TargetPrice: target})
			require.NoError(t, err)

			require.False(t, res.UsedGradual)
			require.True(t, res.TargetReached)
			require.Equal(t, tt.dir, res.Direction)
			requireMinimal(t, p, tt.dir, target, res.AmountIn)
			require.True(t, p.priceAfter(tt.dir, res.AmountIn).Equal(res.FinalPrice))
			require.True(t, pricemath.FromUnits(res.AmountIn, 18).Equal(res.Amount))
			require.LessOrEqual(t, res.QuoteCalls, 1+DefaultMaxIterations)
		})
	}
}

func TestSolve_AvailableAboveEstimateUsesBinarySearch(t *testing.T) {
	p := newSyntheticPool()
	target := dec("1.21")

	res, err := newSolver(p).Solve(context.Background(), Request{
		Pool: poolAddr, Direction: domain.DirectionUp, TargetPrice: target, Available: decPtr("1000"),
	})
	require.NoError(t, err)
	require.False(t, res.UsedGradual)
	requireMinimal(t, p, domain.DirectionUp, target, res.AmountIn)
}

func TestSolve_GradualReachesTarget(t *testing.T) {
	p := newSyntheticPool()
	target := dec("1.21")

	// needs ~150 tokens; the estimate is 100 and is doubled to 200 after the probe
	res, err := newSolver(p).Solve(context.Background(), Request{
		Pool: poolAddr, Direction: domain.DirectionUp, TargetPrice: target, Available: decPtr("180"),
	})
	require.NoError(t, err)

	require.True(t, res.UsedGradual)
	require.True(t, res.TargetReached)
	require.True(t, res.AmountIn.Cmp(tokens(180)) <= 0)
	requireMinimal(t, p, domain.DirectionUp, target, res.AmountIn)
	require.True(t, p.priceAfter(domain.DirectionUp, res.AmountIn).Equal(res.FinalPrice))
}

func TestSolve_GradualInsufficientReturnsAvailable(t *testing.T) {
	p := newSyntheticPool()

	res, err := newSolver(p).Solve(context.Background(), Request{
		Pool: poolAddr, Direction: domain.DirectionUp, TargetPrice: dec("1.21"), Available: decPtr("50"),
	})
	require.NoError(t, err)

	require.True(t, res.UsedGradual)
	require.False(t, res.TargetReached)
	require.Equal(t, 0, res.AmountIn.Cmp(tokens(50)))
	require.True(t, p.priceAfter(domain.DirectionUp, tokens(50)).Equal(res.FinalPrice))
	require.True(t, res.FinalPrice.LessThan(dec("1.21")))
	require.Equal(t, 1+DefaultChunks, res.QuoteCalls, "probe plus one quote per chunk")
}

func TestSolve_AvailableCapsBinarySearch(t *testing.T) {
	target := dec("1.21")

	// needs ~300 tokens; the estimate is 100 and is doubled to 200 after the probe
	thinPool := func() *syntheticPool {
		p := newSyntheticPool()
		p.effective = tokens(3000)
		return p
	}

	t.Run("short of target returns available", func(t *testing.T) {
		p := thinPool()
		res, err := newSolver(p).Solve(context.Background(), Request{
			Pool: poolAddr, Direction: domain.DirectionUp, TargetPrice: target, Available: decPtr("250"),
		})
		require.NoError(t, err)

		require.True(t, res.UsedGradual)
		require.False(t, res.TargetReached)
		require.Equal(t, 0, res.AmountIn.Cmp(tokens(250)))
		require.True(t, p.priceAfter(domain.DirectionUp, tokens(250)).Equal(res.FinalPrice))
		require.True(t, res.FinalPrice.LessThan(target))
	})

	t.Run("within available stays minimal", func(t *testing.T) {
		p := thinPool()
		res, err := newSolver(p).Solve(context.Background(), Request{
			Pool: poolAddr, Direction: domain.DirectionUp, TargetPrice: target, Available: decPtr("350"),
		})
		require.NoError(t, err)

		require.False(t, res.UsedGradual)
		require.True(t, res.TargetReached)
		require.True(t, res.AmountIn.Cmp(tokens(350)) <= 0)
		requireMinimal(t, p, domain.DirectionUp, target, res.AmountIn)
	})
}

func TestSolve_GradualDown(t *testing.T) {
	p := newSyntheticPool()
	target := dec("0.81")

	res, err := newSolver(p).Solve(context.Background(), Request{
		Pool: poolAddr, TargetPrice: target, Available: decPtr("20"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.DirectionDown, res.Direction)
	require.Equal(t, token0, res.TokenIn.Address)
	require.True(t, res.UsedGradual)
	require.Equal(t, 0, res.AmountIn.Cmp(tokens(20)))
}

func TestSolve_InvalidTarget(t *testing.T) {
	p := newSyntheticPool()
	s := newSolver(p)

	_, err := s.Solve(context.Background(), Request{Pool: poolAddr, TargetPrice: dec("1")})
	require.ErrorIs(t, err, domain.ErrInvalidTarget, "target equals current price")

	_, err = s.Solve(context.Background(), Request{Pool: poolAddr, Direction: domain.DirectionDown, TargetPrice: dec("1.21")})
	require.ErrorIs(t, err, domain.ErrInvalidTarget, "direction inconsistent with target")

	_, err = s.Solve(context.Background(), Request{Pool: poolAddr, TargetPrice: decimal.Zero})
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	require.Zero(t, p.calls, "no quotes for invalid targets")
}

func TestSolve_PoolNotFound(t *testing.T) {
	_, err := newSolver(newSyntheticPool()).Solve(context.Background(), Request{
		Pool: common.HexToAddress("0x01"), TargetPrice: dec("2"),
	})
	require.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestSolve_QuoteFailures(t *testing.T) {
	t.Run("unconstrained falls back to the estimate", func(t *testing.T) {
		p := newSyntheticPool()
		p.failAfter = 0

		res, err := newSolver(p).Solve(context.Background(), Request{Pool: poolAddr, TargetPrice: dec("1.21")})
		require.NoError(t, err)

		sqrtTarget, err := pricemath.ToSqrtPriceX96(dec("1.21"), 18, 18)
		require.NoError(t, err)
		estimate := pricemath.EstimateAmountIn(pricemath.Q96, sqrtTarget, tokens(1000), domain.DirectionUp)

		require.Equal(t, 0, res.AmountIn.Cmp(estimate))
		require.True(t, pricemath.ToDecimalPrice(sqrtTarget, 18, 18).Equal(res.FinalPrice))
		require.False(t, res.UsedGradual)
		require.False(t, res.TargetReached)
	})

	t.Run("mid-search failure keeps best so far", func(t *testing.T) {
		p := newSyntheticPool()
		p.failAfter = 6

		res, err := newSolver(p).Solve(context.Background(), Request{Pool: poolAddr, TargetPrice: dec("1.21")})
		require.NoError(t, err)
		require.True(t, res.TargetReached)
		require.True(t, crossed(domain.DirectionUp, p.priceAfter(domain.DirectionUp, res.AmountIn), dec("1.21")))
		require.Equal(t, 7, res.QuoteCalls)
	})

	t.Run("gradual final verification failure", func(t *testing.T) {
		p := newSyntheticPool()
		p.failAfter = 0

		_, err := newSolver(p).Solve(context.Background(), Request{
			Pool: poolAddr, TargetPrice: dec("1.21"), Available: decPtr("50"),
		})
		require.ErrorIs(t, err, domain.ErrQuoteUnavailable)
	})

	t.Run("gradual chunk failure retries at available", func(t *testing.T) {
		p := newSyntheticPool()
		p.failAfter = 3

		_, err := newSolver(p).Solve(context.Background(), Request{
			Pool: poolAddr, TargetPrice: dec("1.21"), Available: decPtr("50"),
		})
		require.ErrorIs(t, err, domain.ErrQuoteUnavailable)
	})
}

func TestSolve_IterationBound(t *testing.T) {
	p := newSyntheticPool()

	res, err := newSolver(p).Solve(context.Background(), Request{
		Pool: poolAddr, TargetPrice: dec("1.21"), Options: Options{MaxIterations: 5},
	})
	require.NoError(t, err)
	require.LessOrEqual(t, res.QuoteCalls, 6)
	require.True(t, res.TargetReached)
}

func TestSolveForPool(t *testing.T) {
	p := newSyntheticPool()

	res, err := newSolver(p).SolveForPool(context.Background(), poolAddr, dec("0.81"), nil)
	require.NoError(t, err)
	require.Equal(t, domain.DirectionDown, res.Direction)
	require.Equal(t, token0, res.TokenIn.Address)
	require.Equal(t, token1, res.TokenOut.Address)
	require.True(t, res.CurrentPrice.Equal(decimal.NewFromInt(1)))
	requireMinimal(t, p, domain.DirectionDown, dec("0.81"), res.AmountIn)
}

// Package pool reads Uniswap v3 pool state and QuoterV2 simulations over JSON-RPC.
package pool

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
	"github.com/CongSofwareEngineer/bot-dca-token/pkg/retrier"
)

// DefaultCallTimeout bounds every single eth_call.
const DefaultCallTimeout = 10 * time.Second

var errNoCode = errors.New("empty call result, no contract at address")

// Reader reads factory, pool and ERC-20 state.
type Reader struct {
	l       *zap.Logger
	caller  ethereum.ContractCaller
	factory common.Address
	timeout time.Duration
	retrier *retrier.Retrier
}

// NewReader creates a reader. A zero timeout selects DefaultCallTimeout.
func NewReader(l *zap.Logger, caller ethereum.ContractCaller, factory common.Address, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Reader{
		l:       l,
		caller:  caller,
		factory: factory,
		timeout: timeout,
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithRetryIf(func(err error) bool {
				return !errors.Is(err, context.Canceled)
			}),
			retrier.WithOnRetry(func(attempt int, err error) {
				l.Debug("retrying rpc call", zap.Int("attempt", attempt), zap.Error(err))
			}),
		),
	}
}

// PoolAddress resolves the pool for a token pair and fee tier.
func (r *Reader) PoolAddress(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	out, err := r.call(ctx, r.factory, factoryABI, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}

	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("unexpected getPool result %T", out[0])
	}
	if addr == (common.Address{}) {
		return common.Address{}, errors.Wrapf(domain.ErrPoolNotFound, "%s/%s fee %d", tokenA.Hex(), tokenB.Hex(), fee)
	}

	return addr, nil
}

// Snapshot reads slot0, liquidity, fee and both tokens' metadata.
// Independent reads run concurrently; the result is never cached.
func (r *Reader) Snapshot(ctx context.Context, address common.Address) (domain.PoolSnapshot, error) {
	snap := domain.PoolSnapshot{Address: address}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.call(gctx, address, poolABI, "slot0")
		if err != nil {
			return err
		}
		sqrt, err := toUint256(out[0])
		if err != nil {
			return errors.Wrap(err, "slot0 sqrtPriceX96")
		}
		tick, ok := out[1].(*big.Int)
		if !ok {
			return errors.Errorf("unexpected slot0 tick %T", out[1])
		}
		snap.SqrtPriceX96 = sqrt
		snap.Tick = tick.Int64()
		return nil
	})
	g.Go(func() error {
		out, err := r.call(gctx, address, poolABI, "liquidity")
		if err != nil {
			return err
		}
		liq, err := toUint256(out[0])
		if err != nil {
			return errors.Wrap(err, "liquidity")
		}
		snap.Liquidity = liq
		return nil
	})
	g.Go(func() error {
		out, err := r.call(gctx, address, poolABI, "fee")
		if err != nil {
			return err
		}
		fee, ok := out[0].(*big.Int)
		if !ok {
			return errors.Errorf("unexpected fee %T", out[0])
		}
		snap.Fee = uint32(fee.Uint64())
		return nil
	})
	g.Go(func() error {
		addr, err := r.address(gctx, address, "token0")
		snap.Token0.Address = addr
		return err
	})
	g.Go(func() error {
		addr, err := r.address(gctx, address, "token1")
		snap.Token1.Address = addr
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, errNoCode) {
			return domain.PoolSnapshot{}, errors.Wrapf(domain.ErrPoolNotFound, "no pool at %s", address.Hex())
		}
		return domain.PoolSnapshot{}, errors.Wrapf(err, "read pool %s", address.Hex())
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := r.Token(gctx, snap.Token0.Address)
		snap.Token0 = meta
		return err
	})
	g.Go(func() error {
		meta, err := r.Token(gctx, snap.Token1.Address)
		snap.Token1 = meta
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.PoolSnapshot{}, errors.Wrapf(err, "read tokens of pool %s", address.Hex())
	}

	r.l.Debug("pool snapshot",
		zap.String("pool", address.Hex()),
		zap.String("sqrtPriceX96", snap.SqrtPriceX96.Dec()),
		zap.String("liquidity", snap.Liquidity.Dec()),
		zap.Int64("tick", snap.Tick),
	)

	return snap, nil
}

// Token reads ERC-20 decimals and symbol. A missing symbol is tolerated.
func (r *Reader) Token(ctx context.Context, token common.Address) (domain.TokenMeta, error) {
	meta := domain.TokenMeta{Address: token}

	out, err := r.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return meta, errors.Errorf("unexpected decimals %T", out[0])
	}
	meta.Decimals = decimals

	out, err = r.call(ctx, token, erc20ABI, "symbol")
	if err != nil {
		r.l.Debug("token symbol unavailable", zap.String("token", token.Hex()), zap.Error(err))
		return meta, nil
	}
	if symbol, ok := out[0].(string); ok {
		meta.Symbol = symbol
	}

	return meta, nil
}

func (r *Reader) address(ctx context.Context, contract common.Address, method string) (common.Address, error) {
	out, err := r.call(ctx, contract, poolABI, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("unexpected %s result %T", method, out[0])
	}
	return addr, nil
}

func (r *Reader) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	start := time.Now()
	raw, err := retrier.DoWithData(r.retrier, ctx, func(ctx context.Context) ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		res, err := r.caller.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		if len(res) == 0 {
			return nil, retrier.Permanent(errNoCode)
		}
		return res, nil
	})
	observability.RecordRPCLatency(method, time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, to.Hex())
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned no values", method)
	}

	return out, nil
}

func toUint256(v interface{}) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected type %T", v)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errors.Errorf("value %s overflows 256 bits", b)
	}
	return u, nil
}

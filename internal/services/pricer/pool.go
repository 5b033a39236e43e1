package pricer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricemath"
)

type snapshotReader interface {
	Snapshot(ctx context.Context, address common.Address) (domain.PoolSnapshot, error)
}

// PoolPricer prices the configured asset token from a concentrated-liquidity
// pool. Each call reads a fresh snapshot.
type PoolPricer struct {
	reader snapshotReader
	pool   common.Address
	asset  common.Address
}

// NewPoolPricer prices asset, one of the two pool tokens, in the other one.
func NewPoolPricer(reader snapshotReader, pool, asset common.Address) *PoolPricer {
	return &PoolPricer{reader: reader, pool: pool, asset: asset}
}

// GetPrice ignores pair symbols; the pool and asset token fix the market.
func (p *PoolPricer) GetPrice(ctx context.Context, _ domain.Pair) (decimal.Decimal, error) {
	snap, err := p.reader.Snapshot(ctx, p.pool)
	if err != nil {
		return decimal.Zero, err
	}
	if !snap.Active() {
		return decimal.Zero, errors.Errorf("pool %s is not initialized", p.pool.Hex())
	}

	price := pricemath.ToDecimalPrice(snap.SqrtPriceX96.ToBig(), snap.Token0.Decimals, snap.Token1.Decimals)
	switch p.asset {
	case snap.Token0.Address:
		return price, nil
	case snap.Token1.Address:
		return pricemath.Invert(price), nil
	default:
		return decimal.Zero, errors.Errorf("token %s is not in pool %s", p.asset.Hex(), p.pool.Hex())
	}
}

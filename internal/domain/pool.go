package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Direction of a pool price move, in token1-per-token0 terms.
type Direction string

const (
	// DirectionUp price rises; token1 is swapped in.
	DirectionUp Direction = "up"
	// DirectionDown price falls; token0 is swapped in.
	DirectionDown Direction = "down"
)

// ParseDirection accepts "up", "down" or "" (derive later).
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionUp, DirectionDown, "":
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// TokenMeta ERC-20 metadata.
type TokenMeta struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// PoolSnapshot point-in-time pool state; never cached across calls.
type PoolSnapshot struct {
	Address      common.Address
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	Tick         int64
	Fee          uint32
	Token0       TokenMeta
	Token1       TokenMeta
}

// Active reports whether the pool has been initialized.
func (s PoolSnapshot) Active() bool {
	return s.SqrtPriceX96 != nil && !s.SqrtPriceX96.IsZero()
}

// Tokens returns tokenIn/tokenOut for a move in the given direction.
func (s PoolSnapshot) Tokens(dir Direction) (in, out TokenMeta) {
	if dir == DirectionUp {
		return s.Token1, s.Token0
	}
	return s.Token0, s.Token1
}

// QuoteRequest single-hop exact-input quote.
type QuoteRequest struct {
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	Fee      uint32
}

// QuoteResult outcome of a quote simulation.
type QuoteResult struct {
	AmountOut               *big.Int
	SqrtPriceX96After       *big.Int
	InitializedTicksCrossed uint32
	GasEstimate             *big.Int
}

package solver

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/services/pricemath"
)

// Quoter is the point-in-time swap simulation the solver relies on.
type Quoter interface {
	QuoteExactInput(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResult, error)
}

// Verification is the pool state a candidate amount would leave behind.
type Verification struct {
	AmountIn          *big.Int
	AmountOut         *big.Int
	SqrtPriceX96After *big.Int
	// Price token1 per token0 after the swap.
	Price decimal.Decimal
}

// QuoteVerifier quotes candidate amounts for one pool, token pair and direction.
type QuoteVerifier struct {
	quoter     Quoter
	tokenIn    domain.TokenMeta
	tokenOut   domain.TokenMeta
	fee        uint32
	dec0, dec1 uint8
	calls      int
}

// NewQuoteVerifier creates a verifier for swaps moving snap in direction dir.
func NewQuoteVerifier(quoter Quoter, snap domain.PoolSnapshot, dir domain.Direction) *QuoteVerifier {
	in, out := snap.Tokens(dir)
	return &QuoteVerifier{
		quoter:   quoter,
		tokenIn:  in,
		tokenOut: out,
		fee:      snap.Fee,
		dec0:     snap.Token0.Decimals,
		dec1:     snap.Token1.Decimals,
	}
}

// Verify quotes amountIn and converts the resulting sqrt price.
func (v *QuoteVerifier) Verify(ctx context.Context, amountIn *big.Int) (Verification, error) {
	v.calls++

	res, err := v.quoter.QuoteExactInput(ctx, domain.QuoteRequest{
		TokenIn:  v.tokenIn.Address,
		TokenOut: v.tokenOut.Address,
		AmountIn: amountIn,
		Fee:      v.fee,
	})
	if err != nil {
		return Verification{}, err
	}

	return Verification{
		AmountIn:          new(big.Int).Set(amountIn),
		AmountOut:         res.AmountOut,
		SqrtPriceX96After: res.SqrtPriceX96After,
		Price:             pricemath.ToDecimalPrice(res.SqrtPriceX96After, v.dec0, v.dec1),
	}, nil
}

// Calls returns the number of quotes issued so far.
func (v *QuoteVerifier) Calls() int {
	return v.calls
}

// crossed reports whether price has reached target moving in dir.
func crossed(dir domain.Direction, price, target decimal.Decimal) bool {
	if dir == domain.DirectionUp {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

package pool

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
)

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Quoter simulates single-hop exact-input swaps on QuoterV2.
// Calls are not retried so a solve issues a bounded number of requests.
type Quoter struct {
	caller  ethereum.ContractCaller
	address common.Address
	timeout time.Duration
}

// NewQuoter creates a quoter. A zero timeout selects DefaultCallTimeout.
func NewQuoter(caller ethereum.ContractCaller, address common.Address, timeout time.Duration) *Quoter {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Quoter{caller: caller, address: address, timeout: timeout}
}

// QuoteExactInput runs quoteExactInputSingle through eth_call.
func (q *Quoter) QuoteExactInput(ctx context.Context, req domain.QuoteRequest) (res domain.QuoteResult, err error) {
	start := time.Now()
	defer func() {
		observability.RecordQuote(time.Since(start).Seconds(), err)
	}()

	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return domain.QuoteResult{}, errors.Errorf("amount in must be positive")
	}

	data, err := quoterV2ABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		Fee:               new(big.Int).SetUint64(uint64(req.Fee)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return domain.QuoteResult{}, errors.Wrap(err, "pack quoteExactInputSingle")
	}

	callCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	raw, err := q.caller.CallContract(callCtx, ethereum.CallMsg{To: &q.address, Data: data}, nil)
	if err != nil {
		return domain.QuoteResult{}, errors.Wrapf(err, "quote %s in", req.AmountIn)
	}
	if len(raw) == 0 {
		return domain.QuoteResult{}, errors.Wrapf(errNoCode, "quoter %s", q.address.Hex())
	}

	out, err := quoterV2ABI.Unpack("quoteExactInputSingle", raw)
	if err != nil {
		return domain.QuoteResult{}, errors.Wrap(err, "unpack quoteExactInputSingle")
	}
	if len(out) != 4 {
		return domain.QuoteResult{}, errors.Errorf("quoteExactInputSingle returned %d values", len(out))
	}

	amountOut, ok1 := out[0].(*big.Int)
	sqrtAfter, ok2 := out[1].(*big.Int)
	ticks, ok3 := out[2].(uint32)
	gas, ok4 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.QuoteResult{}, errors.New("unexpected quoteExactInputSingle result types")
	}

	return domain.QuoteResult{
		AmountOut:               amountOut,
		SqrtPriceX96After:       sqrtAfter,
		InitializedTicksCrossed: ticks,
		GasEstimate:             gas,
	}, nil
}

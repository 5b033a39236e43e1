package pricer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

type fixedPricer decimal.Decimal

func (f fixedPricer) GetPrice(context.Context, domain.Pair) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}

func TestRouter(t *testing.T) {
	eth := domain.Pair{From: "ETH", To: "USDT"}
	btc := domain.Pair{From: "BTC", To: "USDT"}

	r := NewRouter(nil)
	r.Route(eth, fixedPricer(decimal.NewFromInt(2000)))

	price, err := r.GetPrice(context.Background(), eth)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(2000).Equal(price))

	_, err = r.GetPrice(context.Background(), btc)
	require.ErrorContains(t, err, "no price feed for BTC_USDT")

	r = NewRouter(fixedPricer(decimal.NewFromInt(60000)))
	r.Route(eth, fixedPricer(decimal.NewFromInt(2000)))
	price, err = r.GetPrice(context.Background(), btc)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(60000).Equal(price))
}

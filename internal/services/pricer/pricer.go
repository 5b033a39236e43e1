// Package pricer provides asset prices in quote units: the on-chain pool price
// used by the DCA engine and exchange reference feeds used by allocation plans.
package pricer

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

// Pricer returns the price of pair.From in pair.To.
type Pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// Feed names accepted by the factory.
const (
	FeedPool        = "pool"
	FeedBinance     = "binance"
	FeedBybit       = "bybit"
	FeedHyperliquid = "hyperliquid"
)

package pricer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

// Router dispatches each pair to its own pricer, falling back to a shared one.
type Router struct {
	routes   map[domain.Pair]Pricer
	fallback Pricer
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Pricer) *Router {
	return &Router{routes: make(map[domain.Pair]Pricer), fallback: fallback}
}

// Route registers p for pair, replacing any previous route.
func (r *Router) Route(pair domain.Pair, p Pricer) {
	r.routes[pair] = p
}

// GetPrice implements Pricer.
func (r *Router) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	if p, ok := r.routes[pair]; ok {
		return p.GetPrice(ctx, pair)
	}
	if r.fallback == nil {
		return decimal.Zero, errors.Errorf("no price feed for %s", pair)
	}
	return r.fallback.GetPrice(ctx, pair)
}

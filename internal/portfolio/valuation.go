// Package portfolio values a vault's on-chain holdings at live prices.
package portfolio

import (
	"context"
	"fmt"

	"rebalancer/internal/domain"
)

// Valuation is a priced view of a vault.
type Valuation struct {
	Total    float64
	Holdings map[string]domain.Holding
	Prices   map[string]domain.PriceQuote
	Values   map[string]float64
	// Stale is set when any non-empty holding was priced from a cached value.
	Stale bool
}

// Percentage returns mint's share of the total value in percent.
func (v Valuation) Percentage(mint string) float64 {
	if v.Total <= 0 {
		return 0
	}
	return v.Values[mint] / v.Total * 100
}

// Value reads the vault's holdings and prices every non-empty one.
func Value(ctx context.Context, holdings domain.HoldingsReader, prices domain.PriceProvider, vault string) (Valuation, error) {
	hs, err := holdings.GetHoldings(ctx, vault)
	if err != nil {
		return Valuation{}, fmt.Errorf("read holdings: %w", err)
	}

	v := Valuation{
		Holdings: make(map[string]domain.Holding, len(hs)),
		Prices:   make(map[string]domain.PriceQuote, len(hs)),
		Values:   make(map[string]float64, len(hs)),
	}
	for _, h := range hs {
		if h.Amount == 0 {
			continue
		}
		p, err := prices.GetCurrentPrice(ctx, h.Mint)
		if err != nil {
			return Valuation{}, fmt.Errorf("price %s: %w", h.Mint, err)
		}
		value := h.UIAmount() * p.Price
		v.Holdings[h.Mint] = h
		v.Prices[h.Mint] = p
		v.Values[h.Mint] = value
		v.Total += value
		if p.Stale {
			v.Stale = true
		}
	}
	return v, nil
}

// Package signal turns an upstream target allocation into at most one trade intent
// per cycle.
package signal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/portfolio"
)

// OutstandingCounter counts a user's PENDING/SUBMITTED trades.
type OutstandingCounter interface {
	CountOutstandingTrades(ctx context.Context, userID string) (int64, error)
}

type Config struct {
	MinDiscrepancy float64 // percent of vault
	MinConfidence  float64
	MaxOutstanding int
	// StableMint receives the proceeds when the chosen asset is overweight and no
	// other target asset is short.
	StableMint string
}

func DefaultConfig() Config {
	return Config{
		MinDiscrepancy: 5,
		MinConfidence:  0.8,
		MaxOutstanding: 3,
	}
}

type Generator struct {
	allocations domain.AllocationSource
	holdings    domain.HoldingsReader
	prices      domain.PriceProvider
	outstanding OutstandingCounter
	cfg         Config
	now         func() time.Time
}

func NewGenerator(allocations domain.AllocationSource, holdings domain.HoldingsReader,
	prices domain.PriceProvider, outstanding OutstandingCounter, cfg Config) *Generator {
	return &Generator{
		allocations: allocations,
		holdings:    holdings,
		prices:      prices,
		outstanding: outstanding,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) SetClock(now func() time.Time) { g.now = now }

type drift struct {
	mint    string
	target  float64
	current float64
}

// diff is positive when the asset is under its target.
func (d drift) diff() float64 { return d.target - d.current }

// Generate returns nil with a nil error when no trade is warranted.
func (g *Generator) Generate(ctx context.Context, userID, vault string) (*domain.TradeIntent, error) {
	logger := log.WithFields(log.Fields{"user_id": userID, "vault": vault})

	n, err := g.outstanding.CountOutstandingTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count outstanding trades: %w", err)
	}
	if g.cfg.MaxOutstanding > 0 && n >= int64(g.cfg.MaxOutstanding) {
		logger.WithField("outstanding", n).Info("skipping signal, too many outstanding trades")
		return nil, nil
	}

	alloc, err := g.allocations.GetTargetAllocation(ctx, userID)
	if err != nil {
		return nil, err
	}
	if alloc.Confidence < g.cfg.MinConfidence {
		logger.WithField("confidence", alloc.Confidence).Info("skipping signal, confidence below threshold")
		return nil, nil
	}

	val, err := portfolio.Value(ctx, g.holdings, g.prices, vault)
	if err != nil {
		return nil, err
	}
	if val.Stale {
		logger.Warn("skipping signal, price data is stale")
		return nil, nil
	}
	if val.Total <= 0 {
		logger.Info("skipping signal, vault has no value")
		return nil, nil
	}

	drifts := g.drifts(alloc, val)
	best, ok := g.pick(drifts)
	if !ok {
		return nil, nil
	}

	from, to, ok := g.route(best, drifts, val)
	if !ok {
		logger.WithField("asset", best.mint).Info("no counter asset for rebalance")
		return nil, nil
	}

	discrepancy := math.Abs(best.diff())
	intent := &domain.TradeIntent{
		UserID:           userID,
		VaultAddress:     vault,
		FromAsset:        from,
		ToAsset:          to,
		TargetPercentage: discrepancy,
		Metadata: domain.IntentMetadata{
			CurrentPercentage: best.current,
			Discrepancy:       discrepancy,
			Confidence:        alloc.Confidence,
			Timestamp:         g.now(),
			SignalID:          alloc.SignalID,
		},
	}
	logger.WithFields(log.Fields{
		"from":        from,
		"to":          to,
		"discrepancy": discrepancy,
		"signal_id":   alloc.SignalID,
	}).Info("trade intent generated")
	return intent, nil
}

// drifts covers every target asset plus held assets the allocation leaves out,
// which are treated as a zero target. Sorted by mint.
func (g *Generator) drifts(alloc domain.TargetAllocation, val portfolio.Valuation) []drift {
	seen := make(map[string]bool)
	var out []drift
	for mint, target := range alloc.Assets {
		seen[mint] = true
		out = append(out, drift{mint: mint, target: target, current: val.Percentage(mint)})
	}
	for mint := range val.Values {
		if !seen[mint] {
			out = append(out, drift{mint: mint, current: val.Percentage(mint)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mint < out[j].mint })
	return out
}

// pick returns the largest drift above the threshold. Ties prefer buying.
func (g *Generator) pick(drifts []drift) (drift, bool) {
	var best drift
	found := false
	for _, d := range drifts {
		abs := math.Abs(d.diff())
		if abs <= g.cfg.MinDiscrepancy {
			continue
		}
		bestAbs := math.Abs(best.diff())
		if !found || abs > bestAbs || (abs == bestAbs && d.diff() > 0 && best.diff() < 0) {
			best, found = d, true
		}
	}
	return best, found
}

// route chooses the swap direction. An underweight asset is bought with the largest
// other holding; an overweight one is sold into the most underweight asset, or the
// stable mint.
func (g *Generator) route(best drift, drifts []drift, val portfolio.Valuation) (from, to string, ok bool) {
	if best.diff() > 0 {
		var largest float64
		for mint, v := range val.Values {
			if mint == best.mint || val.Holdings[mint].Amount == 0 {
				continue
			}
			if v > largest || (v == largest && mint < from) {
				largest, from = v, mint
			}
		}
		return from, best.mint, from != ""
	}

	var short float64
	for _, d := range drifts {
		if d.mint != best.mint && d.diff() > short {
			short, to = d.diff(), d.mint
		}
	}
	if to == "" {
		to = g.cfg.StableMint
	}
	return best.mint, to, to != "" && to != best.mint
}

// Package risk is the synchronous pre-trade gate. Every intent passes through
// Authorize before anything is persisted or broadcast; any check that cannot
// complete rejects the intent.
package risk

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/portfolio"
	"rebalancer/pkg/metrics"
)

// SnapshotSource yields the high-water mark of recorded vault values.
type SnapshotSource interface {
	MaxSnapshotValue(ctx context.Context, userID, vault string, since time.Time) (decimal.Decimal, bool, error)
}

// Limits are the gate thresholds. Percentages are in percent, slippage in bps.
type Limits struct {
	MaxPositionPct    float64
	MaxDrawdownPct    float64
	MaxPriceImpactPct float64
	MaxSlippageBps    float64
	DrawdownLookback  time.Duration
	QuoteTimeout      time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct:    50,
		MaxDrawdownPct:    20,
		MaxPriceImpactPct: 1,
		MaxSlippageBps:    100,
		DrawdownLookback:  30 * 24 * time.Hour,
		QuoteTimeout:      5 * time.Second,
	}
}

// Gate evaluates kill switch, position sizing, drawdown and price impact in that order.
type Gate struct {
	prices    domain.PriceProvider
	quotes    domain.QuoteProvider
	holdings  domain.HoldingsReader
	snapshots SnapshotSource
	kill      *KillSwitch
	limits    Limits
	now       func() time.Time
}

func NewGate(prices domain.PriceProvider, quotes domain.QuoteProvider, holdings domain.HoldingsReader,
	snapshots SnapshotSource, kill *KillSwitch, limits Limits) *Gate {
	if kill == nil {
		kill = NewKillSwitch(false)
	}
	return &Gate{
		prices:    prices,
		quotes:    quotes,
		holdings:  holdings,
		snapshots: snapshots,
		kill:      kill,
		limits:    limits,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gate) SetClock(now func() time.Time) { g.now = now }

func (g *Gate) KillSwitch() *KillSwitch { return g.kill }

// Authorize approves intent or returns a *Rejection.
func (g *Gate) Authorize(ctx context.Context, intent domain.TradeIntent) (domain.AuthorizedIntent, error) {
	auth, err := g.authorize(ctx, intent)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			metrics.RiskRejections.WithLabelValues(string(rej.Code)).Inc()
			log.WithFields(log.Fields{
				"user_id": intent.UserID,
				"vault":   intent.VaultAddress,
				"check":   rej.CheckFailed,
				"code":    rej.Code,
			}).Info("risk gate rejected intent")
		}
		return domain.AuthorizedIntent{}, err
	}
	return auth, nil
}

func (g *Gate) authorize(ctx context.Context, intent domain.TradeIntent) (domain.AuthorizedIntent, error) {
	checks := make([]string, 0, 4)

	if g.kill.Active() {
		st := g.kill.Status()
		return domain.AuthorizedIntent{}, reject(CodeKillSwitchActive, CheckKillSwitch, map[string]any{"reason": st.Reason})
	}
	checks = append(checks, CheckKillSwitch)

	sizing, err := g.checkPositionSize(ctx, intent)
	if err != nil {
		return domain.AuthorizedIntent{}, err
	}
	checks = append(checks, CheckPositionSizing)

	drawdown, err := g.checkDrawdown(ctx, intent, sizing.total)
	if err != nil {
		return domain.AuthorizedIntent{}, err
	}
	checks = append(checks, CheckDrawdown)

	quote, err := g.checkPriceImpact(ctx, intent, sizing.amountIn)
	if err != nil {
		return domain.AuthorizedIntent{}, err
	}
	checks = append(checks, CheckPriceImpact)

	return domain.AuthorizedIntent{
		TradeIntent:            intent,
		ValidatedAt:            g.now(),
		ValidationID:           uuid.NewString(),
		ChecksPerformed:        checks,
		TradeValueUSD:          sizing.tradeValue,
		PositionSizePercentage: sizing.positionPct,
		CurrentDrawdown:        drawdown,
		PriceImpact:            quote.PriceImpact,
		Slippage:               float64(quote.SlippageBps),
		AmountIn:               sizing.amountIn,
		Quote:                  quote,
	}, nil
}

type sizing struct {
	total       float64
	tradeValue  float64
	positionPct float64
	amountIn    uint64
}

func (g *Gate) checkPositionSize(ctx context.Context, intent domain.TradeIntent) (sizing, error) {
	pct := intent.TargetPercentage
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct <= 0 {
		return sizing{}, reject(CodePositionSizeExceeded, CheckPositionSizing, map[string]any{
			"target_percentage": pct,
			"error":             "target percentage must be positive",
		})
	}

	val, err := portfolio.Value(ctx, g.holdings, g.prices, intent.VaultAddress)
	if err != nil {
		return sizing{}, unavailable(CheckPositionSizing, err)
	}
	if val.Stale {
		return sizing{}, reject(CodeDependencyUnavailable, CheckPositionSizing, map[string]any{
			"error": "price data is stale",
		})
	}
	if val.Total <= 0 {
		return sizing{}, reject(CodeInsufficientBalance, CheckPositionSizing, map[string]any{
			"portfolio_value": val.Total,
		})
	}

	tradeValue := val.Total * pct / 100
	positionPct := tradeValue / val.Total * 100
	if positionPct > g.limits.MaxPositionPct {
		return sizing{}, reject(CodePositionSizeExceeded, CheckPositionSizing, map[string]any{
			"portfolio_value":   val.Total,
			"trade_value":       tradeValue,
			"position_size_pct": positionPct,
			"max_position_pct":  g.limits.MaxPositionPct,
		})
	}

	from, held := val.Holdings[intent.FromAsset]
	fromValue := val.Values[intent.FromAsset]
	if !held || fromValue < tradeValue {
		return sizing{}, reject(CodeInsufficientBalance, CheckPositionSizing, map[string]any{
			"from_asset":  intent.FromAsset,
			"from_value":  fromValue,
			"trade_value": tradeValue,
		})
	}

	amountIn := from.ToBaseUnits(tradeValue / val.Prices[intent.FromAsset].Price)
	if amountIn > from.Amount {
		amountIn = from.Amount
	}
	if amountIn == 0 {
		return sizing{}, reject(CodeInsufficientBalance, CheckPositionSizing, map[string]any{
			"from_asset":  intent.FromAsset,
			"trade_value": tradeValue,
			"error":       "trade rounds to zero base units",
		})
	}

	return sizing{total: val.Total, tradeValue: tradeValue, positionPct: positionPct, amountIn: amountIn}, nil
}

// checkDrawdown compares the current value with the peak of the snapshot series
// over the lookback window. The current value counts toward the peak.
func (g *Gate) checkDrawdown(ctx context.Context, intent domain.TradeIntent, current float64) (float64, error) {
	since := g.now().Add(-g.limits.DrawdownLookback)
	hwm, ok, err := g.snapshots.MaxSnapshotValue(ctx, intent.UserID, intent.VaultAddress, since)
	if err != nil {
		return 0, unavailable(CheckDrawdown, err)
	}

	peak := current
	if ok {
		if v, _ := hwm.Float64(); v > peak {
			peak = v
		}
	}
	var drawdown float64
	if peak > 0 {
		drawdown = (peak - current) / peak * 100
	}
	if drawdown > g.limits.MaxDrawdownPct {
		return 0, reject(CodeDrawdownExceeded, CheckDrawdown, map[string]any{
			"high_water_mark":  peak,
			"current_value":    current,
			"drawdown_pct":     drawdown,
			"max_drawdown_pct": g.limits.MaxDrawdownPct,
		})
	}
	return drawdown, nil
}

func (g *Gate) checkPriceImpact(ctx context.Context, intent domain.TradeIntent, amountIn uint64) (domain.Quote, error) {
	qctx := ctx
	if g.limits.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, g.limits.QuoteTimeout)
		defer cancel()
	}

	quote, err := g.quotes.GetQuote(qctx, intent.FromAsset, intent.ToAsset, amountIn)
	if err != nil {
		return domain.Quote{}, unavailable(CheckPriceImpact, err)
	}

	// a route that returns nothing for a positive input is not a price
	if quote.OutputAmount <= 0 ||
		math.IsNaN(quote.PriceImpact) || quote.PriceImpact < 0 || quote.PriceImpact > 100 ||
		quote.SlippageBps < 0 || quote.SlippageBps > 10000 {
		return domain.Quote{}, reject(CodeQuoteInvalid, CheckPriceImpact, map[string]any{
			"output_amount": quote.OutputAmount,
			"price_impact":  quote.PriceImpact,
			"slippage_bps":  quote.SlippageBps,
		})
	}
	if quote.PriceImpact > g.limits.MaxPriceImpactPct {
		return domain.Quote{}, reject(CodePriceImpactExceeded, CheckPriceImpact, map[string]any{
			"price_impact":         quote.PriceImpact,
			"max_price_impact_pct": g.limits.MaxPriceImpactPct,
		})
	}
	if float64(quote.SlippageBps) > g.limits.MaxSlippageBps {
		return domain.Quote{}, reject(CodeSlippageExceeded, CheckPriceImpact, map[string]any{
			"slippage_bps":     quote.SlippageBps,
			"max_slippage_bps": g.limits.MaxSlippageBps,
		})
	}
	return quote, nil
}

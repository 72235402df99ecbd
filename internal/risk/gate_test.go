package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
	"rebalancer/internal/domain/domaintest"
)

const (
	vault = "vault-1"
	usdc  = "USDC"
	sol   = "SOL"
)

type snapshots struct {
	value decimal.Decimal
	ok    bool
	err   error
}

func (s snapshots) MaxSnapshotValue(ctx context.Context, userID, vault string, since time.Time) (decimal.Decimal, bool, error) {
	return s.value, s.ok, s.err
}

type fixture struct {
	prices   *domaintest.Prices
	holdings *domaintest.Holdings
	quotes   *domaintest.Quotes
	snaps    snapshots
	kill     *KillSwitch
	limits   Limits
}

// newFixture builds a 10,000 USD vault: 5,000 USDC and 50 SOL at 100.
func newFixture() *fixture {
	return &fixture{
		prices: domaintest.NewPrices().Set(usdc, 1).Set(sol, 100),
		holdings: domaintest.NewHoldings().Set(vault,
			domain.Holding{Mint: usdc, Amount: 5_000_000_000, Decimals: 6},
			domain.Holding{Mint: sol, Amount: 50_000_000_000, Decimals: 9},
		),
		quotes: &domaintest.Quotes{Quote: domain.Quote{OutputAmount: 9_900_000_000, PriceImpact: 0.2, SlippageBps: 50}},
		kill:   NewKillSwitch(false),
		limits: DefaultLimits(),
	}
}

func (f *fixture) gate() *Gate {
	return NewGate(f.prices, f.quotes, f.holdings, f.snaps, f.kill, f.limits)
}

func intent(pct float64) domain.TradeIntent {
	return domain.TradeIntent{
		UserID:           "user-1",
		VaultAddress:     vault,
		FromAsset:        usdc,
		ToAsset:          sol,
		TargetPercentage: pct,
	}
}

func requireRejection(t *testing.T, err error, code Code, check string) *Rejection {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %v", err)
	assert.Equal(t, code, rej.Code)
	assert.Equal(t, check, rej.CheckFailed)
	return rej
}

func TestGateAuthorize(t *testing.T) {
	ctx := context.Background()

	t.Run("approves intent within all limits", func(t *testing.T) {
		f := newFixture()
		auth, err := f.gate().Authorize(ctx, intent(10))
		require.NoError(t, err)

		assert.Equal(t, []string{CheckKillSwitch, CheckPositionSizing, CheckDrawdown, CheckPriceImpact}, auth.ChecksPerformed)
		assert.InDelta(t, 1000, auth.TradeValueUSD, 1e-9)
		assert.InDelta(t, 10, auth.PositionSizePercentage, 1e-9)
		assert.Equal(t, uint64(1_000_000_000), auth.AmountIn)
		assert.Equal(t, auth.AmountIn, auth.Quote.InAmount)
		assert.Equal(t, 0.2, auth.PriceImpact)
		assert.Equal(t, float64(50), auth.Slippage)
		assert.Zero(t, auth.CurrentDrawdown)
		assert.NotEmpty(t, auth.ValidationID)
		assert.False(t, auth.ValidatedAt.IsZero())
		assert.Equal(t, "user-1", auth.UserID)
	})

	t.Run("kill switch rejects before any dependency is called", func(t *testing.T) {
		f := newFixture()
		f.kill.Activate("operator halt")
		_, err := f.gate().Authorize(ctx, intent(10))
		rej := requireRejection(t, err, CodeKillSwitchActive, CheckKillSwitch)
		assert.Equal(t, "operator halt", rej.Details["reason"])
		assert.Zero(t, f.quotes.Calls)
	})

	t.Run("sixty percent of vault exceeds position limit", func(t *testing.T) {
		f := newFixture()
		_, err := f.gate().Authorize(ctx, intent(60))
		rej := requireRejection(t, err, CodePositionSizeExceeded, CheckPositionSizing)
		assert.InDelta(t, 6000, rej.Details["trade_value"], 1e-9)
		assert.Zero(t, f.quotes.Calls)
	})

	t.Run("non-positive target percentage is rejected", func(t *testing.T) {
		f := newFixture()
		_, err := f.gate().Authorize(ctx, intent(0))
		requireRejection(t, err, CodePositionSizeExceeded, CheckPositionSizing)
	})

	t.Run("from asset cannot fund trade", func(t *testing.T) {
		f := newFixture()
		f.holdings.Set(vault,
			domain.Holding{Mint: usdc, Amount: 3_000_000_000, Decimals: 6},
			domain.Holding{Mint: sol, Amount: 70_000_000_000, Decimals: 9},
		)
		_, err := f.gate().Authorize(ctx, intent(40))
		requireRejection(t, err, CodeInsufficientBalance, CheckPositionSizing)
	})

	t.Run("from asset not held", func(t *testing.T) {
		f := newFixture()
		in := intent(10)
		in.FromAsset = "BONK"
		_, err := f.gate().Authorize(ctx, in)
		requireRejection(t, err, CodeInsufficientBalance, CheckPositionSizing)
	})

	t.Run("stale price fails closed", func(t *testing.T) {
		f := newFixture()
		f.prices.SetStale(sol, 100)
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeDependencyUnavailable, CheckPositionSizing)
		assert.Zero(t, f.quotes.Calls)
	})

	t.Run("price outage fails closed", func(t *testing.T) {
		f := newFixture()
		f.prices.Err = domain.ErrPriceUnavailable
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeDependencyUnavailable, CheckPositionSizing)
	})

	t.Run("holdings outage fails closed", func(t *testing.T) {
		f := newFixture()
		f.holdings.Err = errors.New("rpc down")
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeDependencyUnavailable, CheckPositionSizing)
	})

	t.Run("drawdown above limit", func(t *testing.T) {
		f := newFixture()
		f.snaps = snapshots{value: decimal.NewFromInt(13000), ok: true}
		_, err := f.gate().Authorize(ctx, intent(10))
		rej := requireRejection(t, err, CodeDrawdownExceeded, CheckDrawdown)
		assert.InDelta(t, 23.0769, rej.Details["drawdown_pct"], 1e-3)
	})

	t.Run("drawdown within limit is reported", func(t *testing.T) {
		f := newFixture()
		f.snaps = snapshots{value: decimal.NewFromInt(12000), ok: true}
		auth, err := f.gate().Authorize(ctx, intent(10))
		require.NoError(t, err)
		assert.InDelta(t, 16.6667, auth.CurrentDrawdown, 1e-3)
	})

	t.Run("snapshot peak below current value means no drawdown", func(t *testing.T) {
		f := newFixture()
		f.snaps = snapshots{value: decimal.NewFromInt(8000), ok: true}
		auth, err := f.gate().Authorize(ctx, intent(10))
		require.NoError(t, err)
		assert.Zero(t, auth.CurrentDrawdown)
	})

	t.Run("snapshot store error fails closed", func(t *testing.T) {
		f := newFixture()
		f.snaps = snapshots{err: errors.New("db down")}
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeDependencyUnavailable, CheckDrawdown)
	})

	t.Run("price impact above limit", func(t *testing.T) {
		f := newFixture()
		f.quotes.Quote.PriceImpact = 1.5
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodePriceImpactExceeded, CheckPriceImpact)
	})

	t.Run("slippage above limit", func(t *testing.T) {
		f := newFixture()
		f.quotes.Quote.SlippageBps = 150
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeSlippageExceeded, CheckPriceImpact)
	})

	t.Run("out of range quote values are invalid", func(t *testing.T) {
		cases := map[string]func(q *domain.Quote){
			"negative output":   func(q *domain.Quote) { q.OutputAmount = -1 },
			"zero output":       func(q *domain.Quote) { q.OutputAmount = 0 },
			"impact over 100":   func(q *domain.Quote) { q.PriceImpact = 150 },
			"negative impact":   func(q *domain.Quote) { q.PriceImpact = -0.1 },
			"negative slippage": func(q *domain.Quote) { q.SlippageBps = -1 },
			"slippage too big":  func(q *domain.Quote) { q.SlippageBps = 10001 },
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				f := newFixture()
				mutate(&f.quotes.Quote)
				_, err := f.gate().Authorize(ctx, intent(10))
				requireRejection(t, err, CodeQuoteInvalid, CheckPriceImpact)
			})
		}
	})

	t.Run("quote error fails closed", func(t *testing.T) {
		f := newFixture()
		f.quotes.Err = errors.New("jupiter 503")
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeDependencyUnavailable, CheckPriceImpact)
	})

	t.Run("quote timeout fails closed", func(t *testing.T) {
		f := newFixture()
		f.quotes.Block = true
		f.limits.QuoteTimeout = 20 * time.Millisecond
		_, err := f.gate().Authorize(ctx, intent(10))
		requireRejection(t, err, CodeDependencyUnavailable, CheckPriceImpact)
	})
}

func TestKillSwitch(t *testing.T) {
	k := NewKillSwitch(false)
	var reasons []string
	k.OnActivate(func(reason string) { reasons = append(reasons, reason) })

	assert.False(t, k.Active())
	assert.True(t, k.Activate("manual"))
	assert.False(t, k.Activate("again"))
	assert.Equal(t, []string{"manual"}, reasons)

	st := k.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "manual", st.Reason)
	require.NotNil(t, st.ActivatedAt)

	k.Deactivate()
	assert.False(t, k.Active())
	assert.Nil(t, k.Status().ActivatedAt)

	assert.True(t, NewKillSwitch(true).Active())
}

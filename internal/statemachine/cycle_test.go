package statemachine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
	"rebalancer/internal/risk"
)

func TestCycleHappyPath(t *testing.T) {
	h := newHarness(t)
	h.init()

	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.Equal(t, domain.StateAwaitingConfirmation, res.State)
	assert.Empty(t, res.Error)

	tr := h.trade(res.TradeID)
	assert.Equal(t, domain.TradeSubmitted, tr.Status)
	assert.Equal(t, h.expectedCOID(), tr.ClientOrderID)
	require.True(t, tr.HasSignature())
	assert.Equal(t, "sig-1", *tr.TransactionSignature)
	assert.Equal(t, "1000000000", tr.AmountIn.String())
	assert.Contains(t, string(tr.RiskSnapshot), "validation-1")
	assert.Equal(t, domain.JobRunning, h.job(tr.JobID).Status)

	snap := h.state()
	require.NotNil(t, snap.CurrentTradeID)
	assert.Equal(t, tr.ID, *snap.CurrentTradeID)
	assert.Equal(t, *tr.JobID, *snap.CurrentJobID)
	assert.Equal(t, 1, h.ledger.SubmitCount())
	assert.True(t, h.watcher.Watching("sig-1"))

	require.True(t, h.watcher.Fire("sig-1", domain.LedgerConfirmed, ""))
	assert.Equal(t, domain.StateIdle, h.state().CurrentState)
	assert.Equal(t, domain.TradeConfirmed, h.trade(tr.ID).Status)
	assert.Equal(t, domain.JobCompleted, h.job(tr.JobID).Status)

	// the confirmation timer was cancelled on exit
	assert.Zero(t, h.sched.Pending())
	h.sched.Advance(time.Minute)
	assert.Equal(t, domain.StateIdle, h.state().CurrentState)
}

func TestCycleConfirmationTimeout(t *testing.T) {
	h := newHarness(t)
	h.init()
	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)

	h.sched.Advance(29 * time.Second)
	assert.Equal(t, domain.StateAwaitingConfirmation, h.state().CurrentState)

	h.sched.Advance(time.Second)
	snap := h.state()
	assert.Equal(t, domain.StateFailedRetryPending, snap.CurrentState)
	assert.Equal(t, 1, snap.RetryCount)

	tr := h.trade(res.TradeID)
	assert.Equal(t, domain.TradeSubmitted, tr.Status)
	job := h.job(tr.JobID)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "confirmation timeout", job.ErrorMessage)
	assert.False(t, h.watcher.Watching("sig-1"))
	assert.Contains(t, h.watcher.Stopped, "sig-1")

	// a late confirmation after the bot moved on is ignored
	assert.False(t, h.watcher.Fire("sig-1", domain.LedgerConfirmed, ""))

	h.sched.Advance(2 * time.Second)
	assert.Equal(t, domain.StateIdle, h.state().CurrentState)
}

func TestConfirmationTimeoutSeesResolvedTrade(t *testing.T) {
	h := newHarness(t)
	h.init()
	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)

	require.NoError(t, h.store.UpdateTradeStatus(context.Background(), res.TradeID, domain.TradeConfirmed, ""))
	h.sched.Advance(30 * time.Second)

	snap := h.state()
	assert.Equal(t, domain.StateIdle, snap.CurrentState)
	assert.Zero(t, snap.FailureStreak)
}

func TestRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.init()

	for i, backoff := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		res := h.cycle()
		require.Contains(t, []CycleOutcome{OutcomeSubmitted, OutcomeReused}, res.Outcome, "attempt %d", i+1)
		h.sched.Advance(30 * time.Second)

		snap := h.state()
		require.Equal(t, domain.StateFailedRetryPending, snap.CurrentState, "attempt %d", i+1)
		assert.Equal(t, i+1, snap.RetryCount)

		h.sched.Advance(backoff - time.Millisecond)
		require.Equal(t, domain.StateFailedRetryPending, h.state().CurrentState)
		h.sched.Advance(time.Millisecond)
		require.Equal(t, domain.StateIdle, h.state().CurrentState)
	}

	res := h.cycle()
	require.Equal(t, OutcomeReused, res.Outcome)
	h.sched.Advance(30 * time.Second)

	snap := h.state()
	assert.Equal(t, domain.StateError, snap.CurrentState)
	assert.Equal(t, "retry budget exhausted after 4 consecutive failures: confirmation timeout", snap.ErrorMessage)
	assert.Equal(t, 1, h.ledger.SubmitCount())
	assert.Zero(t, h.sched.Pending())

	assert.Equal(t, OutcomeSkipped, h.cycle().Outcome)
}

func TestIdempotencyWithinBucket(t *testing.T) {
	h := newHarness(t)
	h.init()

	first := h.cycle()
	require.Equal(t, OutcomeSubmitted, first.Outcome)
	require.True(t, h.watcher.Fire("sig-1", domain.LedgerConfirmed, ""))

	h.sched.Advance(time.Minute)
	again := h.cycle()
	assert.Equal(t, OutcomeReused, again.Outcome)
	assert.Equal(t, first.TradeID, again.TradeID)
	assert.Equal(t, domain.StateIdle, again.State)
	assert.Equal(t, 1, h.ledger.SubmitCount())
	assert.Len(t, h.builder.Built, 1)

	h.sched.Advance(4 * time.Minute)
	next := h.cycle()
	require.Equal(t, OutcomeSubmitted, next.Outcome)
	assert.NotEqual(t, first.TradeID, next.TradeID)
	assert.Equal(t, 2, h.ledger.SubmitCount())
	assert.Equal(t, h.expectedCOID(), h.trade(next.TradeID).ClientOrderID)
}

func TestCycleReusesExistingTrade(t *testing.T) {
	h := newHarness(t)
	h.init()
	seeded := h.seedTrade(h.expectedCOID(), domain.TradeSubmitted, "sig-x", 0)

	res := h.cycle()
	assert.Equal(t, OutcomeReused, res.Outcome)
	assert.Equal(t, seeded.ID, res.TradeID)
	assert.Equal(t, domain.StateAwaitingConfirmation, res.State)
	assert.Zero(t, h.ledger.SubmitCount())
	assert.Empty(t, h.builder.Built)
	assert.True(t, h.watcher.Watching("sig-x"))

	snap := h.state()
	assert.Equal(t, seeded.ID, *snap.CurrentTradeID)
	assert.Equal(t, *seeded.JobID, *snap.CurrentJobID)
}

func TestCycleReusesFailedTrade(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.seedTrade(h.expectedCOID(), domain.TradeFailed, "sig-x", 0)

	res := h.cycle()
	assert.Equal(t, OutcomeReused, res.Outcome)
	assert.Equal(t, domain.StateFailedRetryPending, res.State)
	assert.Zero(t, h.ledger.SubmitCount())
}

func TestCycleRiskRejection(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.authorize = func(domain.TradeIntent) (domain.AuthorizedIntent, error) {
		return domain.AuthorizedIntent{}, &risk.Rejection{Code: risk.CodeDrawdownExceeded, CheckFailed: risk.CheckDrawdown}
	}

	res := h.cycle()
	assert.Equal(t, OutcomeRejected, res.Outcome)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, risk.CodeDrawdownExceeded, res.Rejection.Code)
	assert.Equal(t, domain.StateIdle, res.State)

	trades, err := h.store.ListTrades(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, []domain.Event{
		domain.EventSignalReceived,
		domain.EventRiskValidationPassed,
		domain.EventRiskValidationFailed,
	}, h.events())

	h.mu.Lock()
	last := h.published[len(h.published)-1]
	h.mu.Unlock()
	assert.Equal(t, "DRAWDOWN_EXCEEDED", last.Meta["code"])
	assert.Equal(t, "drawdown", last.Meta["check"])
}

func TestCycleRejectsMalformedIntent(t *testing.T) {
	cases := map[string]func(in *domain.TradeIntent){
		"same asset":      func(in *domain.TradeIntent) { in.ToAsset = in.FromAsset },
		"missing asset":   func(in *domain.TradeIntent) { in.FromAsset = "" },
		"other vault":     func(in *domain.TradeIntent) { in.VaultAddress = "vault-2" },
		"zero target":     func(in *domain.TradeIntent) { in.TargetPercentage = 0 },
		"target over 100": func(in *domain.TradeIntent) { in.TargetPercentage = 120 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.init()
			mutate(h.intent)
			gateCalled := false
			h.authorize = func(in domain.TradeIntent) (domain.AuthorizedIntent, error) {
				gateCalled = true
				return authorized(in), nil
			}

			res := h.cycle()
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Equal(t, domain.StateIdle, res.State)
			assert.False(t, gateCalled)
		})
	}
}

func TestCycleWithoutSignal(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.intent = nil

	res := h.cycle()
	assert.Equal(t, OutcomeNoSignal, res.Outcome)
	assert.Equal(t, domain.StateIdle, res.State)
	assert.Empty(t, h.events())

	h.signalErr = domain.ErrAllocationUnavailable
	res = h.cycle()
	assert.Equal(t, OutcomeSignalError, res.Outcome)
	assert.Equal(t, domain.StateIdle, res.State)
	assert.Empty(t, h.events())
}

func TestCycleSkipsBusyBot(t *testing.T) {
	h := newHarness(t)
	h.init()
	require.Equal(t, OutcomeSubmitted, h.cycle().Outcome)

	res := h.cycle()
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, domain.StateAwaitingConfirmation, res.State)
	assert.Equal(t, 1, h.ledger.SubmitCount())
}

func TestPauseDuringRiskGateInterruptsCycle(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.authorize = func(in domain.TradeIntent) (domain.AuthorizedIntent, error) {
		_, err := h.reg.Pause(context.Background(), key, "operator")
		require.NoError(t, err)
		return authorized(in), nil
	}

	res := h.cycle()
	assert.Equal(t, OutcomeInterrupted, res.Outcome)
	assert.Equal(t, domain.StatePaused, res.State)

	trades, err := h.store.ListTrades(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Zero(t, h.ledger.SubmitCount())
}

func TestPauseDuringBuildDoesNotInterruptBroadcast(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.beforeBuild = func() {
		_, err := h.reg.Pause(context.Background(), key, "operator")
		require.NoError(t, err)
	}

	res := h.cycle()
	assert.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.Equal(t, domain.StatePaused, res.State)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 1, h.ledger.SubmitCount())
	assert.Equal(t, domain.TradeSubmitted, h.trade(res.TradeID).Status)
	assert.False(t, h.watcher.Watching("sig-1"))

	h.beforeBuild = nil
	snap, err := h.reg.Resume(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingConfirmation, snap.CurrentState)
	require.NotNil(t, snap.CurrentTradeID)
	assert.Equal(t, res.TradeID, *snap.CurrentTradeID)
	assert.True(t, h.watcher.Watching("sig-1"))
	assert.Equal(t, 1, h.ledger.SubmitCount())

	require.True(t, h.watcher.Fire("sig-1", domain.LedgerConfirmed, ""))
	assert.Equal(t, domain.StateIdle, h.state().CurrentState)
}

func TestBroadcastRejected(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.ledger.SubmitErr = fmt.Errorf("preflight: %w", domain.ErrTransactionRejected)

	res := h.cycle()
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.StateFailedRetryPending, res.State)

	tr := h.trade(res.TradeID)
	assert.Equal(t, domain.TradeFailed, tr.Status)
	assert.True(t, tr.HasSignature())
	assert.Equal(t, domain.JobFailed, h.job(tr.JobID).Status)
}

func TestBroadcastAmbiguous(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.ledger.SubmitErr = errors.New("rpc timeout")

	res := h.cycle()
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.StateFailedRetryPending, res.State)
	assert.Equal(t, "rpc timeout", h.state().ErrorMessage)

	// the transaction may have landed; recovery decides
	tr := h.trade(res.TradeID)
	assert.Equal(t, domain.TradePending, tr.Status)
	assert.Equal(t, "sig-1", *tr.TransactionSignature)
	assert.Equal(t, domain.JobRunning, h.job(tr.JobID).Status)
}

func TestBuildFailure(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.builder.Err = errors.New("no route")

	res := h.cycle()
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.StateFailedRetryPending, res.State)

	tr := h.trade(res.TradeID)
	assert.Equal(t, domain.TradeFailed, tr.Status)
	assert.False(t, tr.HasSignature())
	assert.Zero(t, h.ledger.SubmitCount())
}

func TestUnencodableRiskSnapshot(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.authorize = func(in domain.TradeIntent) (domain.AuthorizedIntent, error) {
		auth := authorized(in)
		auth.TradeValueUSD = math.NaN()
		return auth, nil
	}

	res := h.cycle()
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Contains(t, res.Error, "encode risk snapshot")

	snap := h.state()
	assert.Equal(t, domain.StateError, snap.CurrentState)
	assert.Contains(t, snap.ErrorMessage, "encode risk snapshot")

	trades, err := h.store.ListTrades(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Zero(t, h.ledger.SubmitCount())
}

func TestLedgerReportsFailure(t *testing.T) {
	h := newHarness(t)
	h.init()
	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)

	require.True(t, h.watcher.Fire("sig-1", domain.LedgerFailed, "slippage tolerance exceeded"))

	snap := h.state()
	assert.Equal(t, domain.StateFailedRetryPending, snap.CurrentState)
	assert.Equal(t, "slippage tolerance exceeded", snap.ErrorMessage)

	tr := h.trade(res.TradeID)
	assert.Equal(t, domain.TradeFailed, tr.Status)
	assert.Equal(t, "slippage tolerance exceeded", tr.ErrorMessage)
	assert.Equal(t, domain.JobFailed, h.job(tr.JobID).Status)

	// the confirmation timer of the old state is gone; only the retry remains
	assert.Equal(t, 1, h.sched.Pending())
}

func TestRunCyclesOnlyEnabledBots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.reg.InitializeBotState(ctx, user, vault)
	require.NoError(t, err)
	other := Key{UserID: user, VaultAddress: "vault-2"}
	_, err = h.reg.InitializeBotState(ctx, other.UserID, other.VaultAddress)
	require.NoError(t, err)
	_, err = h.reg.SetEnabled(ctx, other, false)
	require.NoError(t, err)

	results := h.reg.RunCycles(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, key, results[0].Key)
	assert.Equal(t, OutcomeSubmitted, results[0].Outcome)
}

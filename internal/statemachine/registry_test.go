package statemachine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
	"rebalancer/internal/store"
)

func TestInitializeBotState(t *testing.T) {
	h := newHarness(t)
	snap := h.init()
	assert.Equal(t, domain.StateIdle, snap.CurrentState)
	assert.True(t, snap.Enabled)

	again := h.init()
	assert.Equal(t, snap.CurrentState, again.CurrentState)

	bots, err := h.store.ListBotStates(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, bots, 1)
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.init()
	before := h.stored()

	snap, err := h.reg.ProcessEvent(context.Background(), key, domain.EventTradeConfirmed, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, domain.StateIdle, snap.CurrentState)

	after := h.stored()
	assert.Equal(t, before.CurrentState, after.CurrentState)
	assert.Equal(t, before.StateHistory, after.StateHistory)
	assert.Equal(t, before.LastUpdated, after.LastUpdated)
	assert.Empty(t, h.events())
}

func TestUnknownEventAndBot(t *testing.T) {
	h := newHarness(t)
	h.init()

	_, err := h.reg.ProcessEvent(context.Background(), key, domain.Event("NOPE"), nil)
	assert.Error(t, err)

	_, err = h.reg.ProcessEvent(context.Background(), Key{UserID: "ghost", VaultAddress: vault}, domain.EventManualPause, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIdleClearsWorkingFields(t *testing.T) {
	h := newHarness(t)
	h.init()
	ctx := context.Background()

	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)
	require.NotNil(t, h.state().CurrentTradeID)

	h.sched.Advance(30 * time.Second)
	snap := h.state()
	require.Equal(t, domain.StateFailedRetryPending, snap.CurrentState)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Equal(t, "confirmation timeout", snap.ErrorMessage)
	assert.NotNil(t, snap.CurrentTradeID)

	h.sched.Advance(2 * time.Second)
	snap = h.state()
	assert.Equal(t, domain.StateIdle, snap.CurrentState)
	assert.Nil(t, snap.CurrentTradeID)
	assert.Nil(t, snap.CurrentJobID)
	assert.Zero(t, snap.RetryCount)
	assert.Empty(t, snap.ErrorMessage)
	assert.Equal(t, 1, snap.FailureStreak)

	persisted := h.stored()
	assert.Equal(t, domain.StateIdle, persisted.CurrentState)
	assert.Nil(t, persisted.CurrentTradeID)

	// a confirmed trade ends the streak
	_, err := h.reg.ProcessEvent(ctx, key, domain.EventManualPause, nil)
	require.NoError(t, err)
	_, err = h.reg.ProcessEvent(ctx, key, domain.EventManualResume, nil)
	require.NoError(t, err)
	assert.Zero(t, h.state().FailureStreak)
}

func TestStateHistoryIsBounded(t *testing.T) {
	h := newHarness(t)
	h.init()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := h.reg.ProcessEvent(ctx, key, domain.EventManualPause, nil)
		require.NoError(t, err)
		_, err = h.reg.ProcessEvent(ctx, key, domain.EventManualResume, nil)
		require.NoError(t, err)
	}

	hist := h.stored().StateHistory
	require.Len(t, hist, models.MaxStateHistory)
	last := hist[len(hist)-1]
	assert.Equal(t, domain.StateIdle, last.State)
	assert.Equal(t, domain.EventManualResume, last.Event)
}

func TestSystemErrorFromAnyStateAndRecoveryOnly(t *testing.T) {
	h := newHarness(t)
	h.init()
	ctx := context.Background()

	snap, err := h.reg.ProcessEvent(ctx, key, domain.EventSystemError, map[string]any{"error": "disk full"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, snap.CurrentState)
	assert.Equal(t, "disk full", snap.ErrorMessage)

	for _, e := range []domain.Event{domain.EventSignalReceived, domain.EventManualResume, domain.EventRetryScheduled} {
		_, err := h.reg.ProcessEvent(ctx, key, e, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition, string(e))
	}

	assert.Equal(t, OutcomeSkipped, h.cycle().Outcome)

	snap, err = h.reg.ProcessEvent(ctx, key, domain.EventRecoveryInitiated, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, snap.CurrentState)
	assert.Empty(t, snap.ErrorMessage)
}

func TestGetBotStateReturnsMostRecentlyUpdated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.reg.InitializeBotState(ctx, user, "vault-a")
	require.NoError(t, err)
	h.sched.Advance(time.Second)
	_, err = h.reg.InitializeBotState(ctx, user, "vault-b")
	require.NoError(t, err)

	snap, err := h.reg.GetBotState(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "vault-b", snap.VaultAddress)

	h.sched.Advance(time.Second)
	_, err = h.reg.Pause(ctx, Key{UserID: user, VaultAddress: "vault-a"}, "test")
	require.NoError(t, err)
	snap, err = h.reg.GetBotState(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "vault-a", snap.VaultAddress)
	assert.Equal(t, domain.StatePaused, snap.CurrentState)

	_, err = h.reg.GetBotState(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetEnabled(t *testing.T) {
	h := newHarness(t)
	h.init()
	ctx := context.Background()

	snap, err := h.reg.SetEnabled(ctx, key, false)
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
	assert.False(t, h.stored().Enabled)

	assert.Equal(t, OutcomeSkipped, h.cycle().Outcome)
	assert.Zero(t, h.ledger.SubmitCount())
}

func TestPauseAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, v := range []string{"vault-a", "vault-b", "vault-c"} {
		_, err := h.reg.InitializeBotState(ctx, user, v)
		require.NoError(t, err)
	}
	_, err := h.reg.Pause(ctx, Key{UserID: user, VaultAddress: "vault-c"}, "earlier")
	require.NoError(t, err)

	assert.Equal(t, 2, h.reg.PauseAll(ctx, "kill switch"))

	bots, err := h.reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 3)
	for _, b := range bots {
		assert.Equal(t, domain.StatePaused, b.CurrentState, b.VaultAddress)
	}
}

// failingStore rejects bot state writes while failing is set.
type failingStore struct {
	*store.MemoryStore
	failing atomic.Bool
}

func (s *failingStore) SaveBotState(ctx context.Context, b *models.BotState) error {
	if s.failing.Load() {
		return errors.New("database is down")
	}
	return s.MemoryStore.SaveBotState(ctx, b)
}

func TestFailedPersistKeepsConfirmationArmed(t *testing.T) {
	h := newHarness(t)
	h.init()
	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)

	fs := &failingStore{MemoryStore: h.store}
	h.reg.deps.Store = fs
	fs.failing.Store(true)

	snap, err := h.reg.Pause(context.Background(), key, "operator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is down")
	assert.Equal(t, domain.StateAwaitingConfirmation, snap.CurrentState)
	assert.Equal(t, domain.StateAwaitingConfirmation, h.stored().CurrentState)

	// the rolled back state still owns its watch and timeout
	assert.True(t, h.watcher.Watching("sig-1"))
	assert.Equal(t, 1, h.sched.Pending())

	fs.failing.Store(false)
	h.sched.Advance(30 * time.Second)
	after := h.state()
	assert.Equal(t, domain.StateFailedRetryPending, after.CurrentState)
	assert.Equal(t, "confirmation timeout", after.ErrorMessage)
	assert.Equal(t, domain.JobFailed, h.job(h.trade(res.TradeID).JobID).Status)
}

func TestTransitionsArePublished(t *testing.T) {
	h := newHarness(t)
	h.init()
	res := h.cycle()
	require.Equal(t, OutcomeSubmitted, res.Outcome)
	require.True(t, h.watcher.Fire("sig-1", domain.LedgerConfirmed, ""))

	assert.Equal(t, []domain.Event{
		domain.EventSignalReceived,
		domain.EventRiskValidationPassed,
		domain.EventRiskValidationPassed,
		domain.EventTradeSubmitted,
		domain.EventTradeConfirmed,
	}, h.events())

	h.mu.Lock()
	last := h.published[len(h.published)-1]
	h.mu.Unlock()
	assert.Equal(t, domain.StateAwaitingConfirmation, last.FromState)
	assert.Equal(t, domain.StateIdle, last.ToState)
	assert.Equal(t, user, last.UserID)
}

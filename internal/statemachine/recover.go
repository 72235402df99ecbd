package statemachine

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
	"rebalancer/internal/recovery"
	"rebalancer/internal/store"
)

// PerformRecovery reconciles a bot on operator request. Unlike startup recovery it
// also clears ERROR through RECOVERY_INITIATED.
func (r *Registry) PerformRecovery(ctx context.Context, userID, vault string) (recovery.RecoveryStatus, error) {
	return r.recover(ctx, Key{UserID: userID, VaultAddress: vault}, true)
}

// Restore reconciles a bot at process start. PAUSED and ERROR are preserved.
func (r *Registry) Restore(ctx context.Context, userID, vault string) (recovery.RecoveryStatus, error) {
	return r.recover(ctx, Key{UserID: userID, VaultAddress: vault}, false)
}

// RestoreEnabled runs startup recovery for every enabled bot.
func (r *Registry) RestoreEnabled(ctx context.Context) ([]recovery.RecoveryStatus, error) {
	states, err := r.deps.Store.ListBotStates(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]recovery.RecoveryStatus, 0, len(states))
	for _, s := range states {
		st, err := r.Restore(ctx, s.UserID, s.VaultAddress)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"user_id": s.UserID, "vault": s.VaultAddress}).Error("startup recovery failed")
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *Registry) recover(ctx context.Context, key Key, onDemand bool) (recovery.RecoveryStatus, error) {
	start := time.Now()
	status := recovery.RecoveryStatus{UserID: key.UserID, VaultAddress: key.VaultAddress}

	if timeout := r.deps.Recovery.Config().Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	b, err := r.bot(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		snap, err := r.InitializeBotState(ctx, key.UserID, key.VaultAddress)
		if err != nil {
			return status, err
		}
		status.Initialized = true
		status.PreviousState = snap.CurrentState
		status.RecoveredState = snap.CurrentState
		status.Duration = time.Since(start)
		return status, nil
	}
	if err != nil {
		return status, err
	}

	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	rep, err := r.deps.Recovery.Reconcile(ctx, key.UserID, key.VaultAddress)
	if err != nil {
		return status, err
	}
	status.TradesConfirmed = rep.TradesConfirmed
	status.TradesFailed = rep.TradesFailed
	status.TradesPending = rep.TradesPending
	status.JobsOrphaned = rep.JobsOrphaned
	status.Partial = rep.Partial

	b.mu.Lock()
	status.PreviousState = b.state.CurrentState
	b.restore(context.WithoutCancel(ctx), rep, onDemand)
	status.RecoveredState = b.state.CurrentState
	b.mu.Unlock()

	status.Duration = time.Since(start)
	b.logger().WithFields(log.Fields{
		"previous_state":  status.PreviousState,
		"recovered_state": status.RecoveredState,
		"on_demand":       onDemand,
		"partial":         status.Partial,
	}).Info("recovery completed")
	return status, nil
}

// restore rebuilds the bot's state from the trade it was working on and re-arms the
// timers of that state. Caller holds b.mu.
func (b *Bot) restore(ctx context.Context, rep recovery.Report, onDemand bool) {
	cur := b.state.CurrentState
	if cur == domain.StatePaused || (cur == domain.StateError && !onDemand) {
		return
	}

	trade := b.referenceTrade(ctx, rep)
	target := recovery.ReconstructState(trade)
	meta := map[string]any{"reason": "recovery"}

	if cur == domain.StateError {
		b.raise(ctx, domain.EventRecoveryInitiated, meta)
		if b.state.CurrentState != domain.StateIdle {
			return
		}
		if target == domain.StateFailedRetryPending {
			// the failure that led to ERROR is already accounted for
			return
		}
		cur = domain.StateIdle
	}

	switch target {
	case domain.StateIdle:
		if cur != domain.StateIdle {
			b.force(ctx, domain.StateIdle, meta)
		}
	case domain.StateAwaitingConfirmation:
		b.point(trade)
		if cur == domain.StateAwaitingConfirmation {
			b.exit()
			if err := b.persist(ctx); err != nil {
				b.logger().WithError(err).Error("failed to persist recovered trade reference")
			}
			b.arm(ctx, target)
			return
		}
		b.force(ctx, target, meta)
	case domain.StateFailedRetryPending:
		b.point(trade)
		if cur == domain.StateFailedRetryPending {
			b.exit()
			b.arm(ctx, target)
			return
		}
		meta["error"] = trade.ErrorMessage
		b.force(ctx, target, meta)
	}
}

// force enters a reconstructed state outside the transition table, recorded as
// RECOVERY_INITIATED. Entry actions and follow-ups run as usual.
func (b *Bot) force(ctx context.Context, to domain.State, meta map[string]any) {
	follow, err := b.transition(ctx, to, domain.EventRecoveryInitiated, meta)
	if err != nil {
		b.logger().WithError(err).Error("failed to enter recovered state")
	}
	for _, q := range follow {
		b.raise(ctx, q.event, q.meta)
	}
}

func (b *Bot) point(t *models.Trade) {
	id := t.ID
	b.state.CurrentTradeID = &id
	b.state.CurrentJobID = copyString(t.JobID)
}

// referenceTrade is the bot's current trade, or else the newest unresolved one.
func (b *Bot) referenceTrade(ctx context.Context, rep recovery.Report) *models.Trade {
	if id := deref(b.state.CurrentTradeID); id != "" {
		t, err := b.r.deps.Store.GetTrade(ctx, id)
		if err == nil {
			return t
		}
		if !errors.Is(err, store.ErrNotFound) {
			b.logger().WithError(err).WithField("trade_id", id).Warn("cannot load current trade")
		}
	}
	return rep.Latest
}

package statemachine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
	"rebalancer/pkg/metrics"
)

const reasonConfirmationTimeout = "confirmation timeout"

// Bot owns the state, timers and confirmation watch of one (user, vault). Every
// mutation happens under mu. cycleMu serializes trading cycles and recovery so that
// events like MANUAL_PAUSE are never blocked behind a long-running cycle.
type Bot struct {
	key Key
	r   *Registry

	mu        sync.Mutex
	state     *models.BotState
	gen       uint64
	timers    []Timer
	stopWatch func()

	cycleMu sync.Mutex
}

type queued struct {
	event domain.Event
	meta  map[string]any
}

func newBot(r *Registry, s *models.BotState) *Bot {
	return &Bot{
		key:   Key{UserID: s.UserID, VaultAddress: s.VaultAddress},
		r:     r,
		state: s,
	}
}

func (b *Bot) logger() *log.Entry {
	return log.WithFields(log.Fields{"user_id": b.key.UserID, "vault": b.key.VaultAddress})
}

// Snapshot returns a copy of the current state.
func (b *Bot) Snapshot() BotStateContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return contextOf(b.state)
}

// ProcessEvent applies event and any transitions its entry actions raise. An event the
// current state does not accept returns an *InvalidTransitionError and changes nothing.
func (b *Bot) ProcessEvent(ctx context.Context, event domain.Event, meta map[string]any) (BotStateContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.processLocked(ctx, event, meta)
	return contextOf(b.state), err
}

func (b *Bot) processLocked(ctx context.Context, event domain.Event, meta map[string]any) error {
	queue := []queued{{event: event, meta: meta}}
	var firstErr error
	for i := 0; i < len(queue); i++ {
		q := queue[i]
		follow, err := b.apply(ctx, q.event, q.meta)
		if err != nil {
			if i == 0 {
				firstErr = err
			} else {
				b.logger().WithError(err).WithField("event", q.event).Error("chained transition failed")
			}
		}
		queue = append(queue, follow...)
	}
	return firstErr
}

func (b *Bot) apply(ctx context.Context, event domain.Event, meta map[string]any) ([]queued, error) {
	from := b.state.CurrentState
	to, err := Next(from, event)
	if err != nil {
		metrics.InvalidTransitions.WithLabelValues(string(from), string(event)).Inc()
		b.logger().WithFields(log.Fields{"state": from, "event": event}).Warn("rejected invalid transition")
		return nil, err
	}
	return b.transition(ctx, to, event, meta)
}

// transition moves the bot to `to` unconditionally: field updates, persistence, exit
// actions, then timers. A persistence failure rolls the in-memory state back, leaves
// the old state's timers and watches armed and raises SYSTEM_ERROR.
func (b *Bot) transition(ctx context.Context, to domain.State, event domain.Event, meta map[string]any) ([]queued, error) {
	from := b.state.CurrentState
	prev := *b.state
	now := b.r.now()

	s := b.state
	s.CurrentState = to
	s.LastUpdated = now
	s.StateHistory = s.StateHistory.Append(models.StateHistoryEntry{State: to, Event: event, Timestamp: now})
	follow := b.prepare(to, event, meta)

	if err := b.persist(ctx); err != nil {
		*b.state = prev
		err = fmt.Errorf("persist %s -> %s: %w", from, to, err)
		b.logger().WithError(err).Error("failed to persist transition")
		if event == domain.EventSystemError {
			return nil, err
		}
		return []queued{{event: domain.EventSystemError, meta: map[string]any{"error": err.Error()}}}, err
	}
	b.exit()

	metrics.Transitions.WithLabelValues(string(from), string(to), string(event)).Inc()
	metrics.BotsByState.WithLabelValues(string(from)).Dec()
	metrics.BotsByState.WithLabelValues(string(to)).Inc()
	b.logger().WithFields(log.Fields{
		"from_state": from,
		"to_state":   to,
		"event":      event,
	}).Info("state transition")
	b.publish(from, to, event, meta, now)

	if len(follow) == 0 {
		b.arm(ctx, to)
	}
	return follow, nil
}

// prepare runs the field updates of entering `to`. It returns follow-up events when the
// state must be left immediately.
func (b *Bot) prepare(to domain.State, event domain.Event, meta map[string]any) []queued {
	s := b.state
	switch to {
	case domain.StateIdle:
		s.CurrentTradeID = nil
		s.CurrentJobID = nil
		s.RetryCount = 0
		s.ErrorMessage = ""
		switch event {
		case domain.EventTradeConfirmed, domain.EventManualResume, domain.EventRecoveryInitiated:
			s.FailureStreak = 0
		}
	case domain.StateFailedRetryPending:
		s.FailureStreak++
		s.RetryCount = s.FailureStreak
		s.ErrorMessage = metaString(meta, "error")
		if s.FailureStreak > b.r.cfg.MaxRetries {
			msg := fmt.Sprintf("retry budget exhausted after %d consecutive failures", s.FailureStreak)
			if s.ErrorMessage != "" {
				msg += ": " + s.ErrorMessage
			}
			return []queued{{event: domain.EventSystemError, meta: map[string]any{"error": msg}}}
		}
	case domain.StateError:
		s.ErrorMessage = metaString(meta, "error")
		if s.ErrorMessage == "" {
			s.ErrorMessage = "system error"
		}
	}
	return nil
}

// arm starts the timers and watches of a freshly entered state.
func (b *Bot) arm(ctx context.Context, to domain.State) {
	switch to {
	case domain.StateAwaitingConfirmation:
		b.armConfirmation(ctx)
	case domain.StateFailedRetryPending:
		b.armRetry()
	}
}

// exit cancels everything armed for the current state. Callbacks already in flight see
// a stale generation and do nothing.
func (b *Bot) exit() {
	b.gen++
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	if b.stopWatch != nil {
		b.stopWatch()
		b.stopWatch = nil
	}
}

func (b *Bot) persist(ctx context.Context) error {
	return b.r.deps.Store.SaveBotState(ctx, b.state)
}

func (b *Bot) publish(from, to domain.State, event domain.Event, meta map[string]any, at time.Time) {
	if b.r.deps.Publisher == nil {
		return
	}
	rec := TransitionRecord{
		UserID:       b.key.UserID,
		VaultAddress: b.key.VaultAddress,
		FromState:    from,
		ToState:      to,
		Event:        event,
		Meta:         meta,
		OccurredAt:   at,
	}
	if err := b.r.deps.Publisher.PublishTransition(rec); err != nil {
		b.logger().WithError(err).Warn("failed to publish transition")
	}
}

func (b *Bot) retryDelay() time.Duration {
	secs := math.Pow(b.r.cfg.BackoffBase, float64(b.state.RetryCount))
	return time.Duration(secs * float64(time.Second))
}

func (b *Bot) armRetry() {
	gen := b.gen
	delay := b.retryDelay()
	b.timers = append(b.timers, b.r.deps.Scheduler.AfterFunc(delay, func() {
		b.fire(gen, domain.EventRetryScheduled, map[string]any{"delay": delay.String()})
	}))
	b.logger().WithFields(log.Fields{
		"retry_count": b.state.RetryCount,
		"delay":       delay.String(),
	}).Info("retry scheduled")
}

func (b *Bot) armConfirmation(ctx context.Context) {
	gen := b.gen
	tradeID := deref(b.state.CurrentTradeID)
	jobID := deref(b.state.CurrentJobID)

	b.timers = append(b.timers, b.r.deps.Scheduler.AfterFunc(b.r.cfg.ConfirmationTimeout, func() {
		b.onConfirmationTimeout(gen, tradeID, jobID)
	}))

	if tradeID == "" || b.r.deps.Watcher == nil {
		return
	}
	trade, err := b.r.deps.Store.GetTrade(ctx, tradeID)
	if err != nil {
		b.logger().WithError(err).WithField("trade_id", tradeID).Warn("cannot load trade for confirmation watch")
		return
	}
	if !trade.HasSignature() {
		return
	}
	b.stopWatch = b.r.deps.Watcher.Watch(context.Background(), *trade.TransactionSignature, func(res domain.ConfirmationResult) {
		b.onConfirmation(gen, tradeID, jobID, res)
	})
}

// fire delivers a timer event if the bot has not moved on since it was armed.
func (b *Bot) fire(gen uint64, event domain.Event, meta map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return
	}
	if err := b.processLocked(context.Background(), event, meta); err != nil {
		b.logger().WithError(err).WithField("event", event).Error("timer event failed")
	}
}

func (b *Bot) onConfirmationTimeout(gen uint64, tradeID, jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return
	}
	ctx := context.Background()
	st := b.r.deps.Store

	// The sweep may have resolved the trade in the meantime.
	if tradeID != "" {
		if trade, err := st.GetTrade(ctx, tradeID); err == nil {
			switch trade.Status {
			case domain.TradeConfirmed:
				b.raise(ctx, domain.EventTradeConfirmed, map[string]any{"trade_id": tradeID})
				return
			case domain.TradeFailed, domain.TradeCancelled:
				b.raise(ctx, domain.EventTradeFailed, map[string]any{"trade_id": tradeID, "error": trade.ErrorMessage})
				return
			}
		}
	}

	if jobID != "" {
		if err := st.FinishJob(ctx, jobID, domain.JobFailed, reasonConfirmationTimeout); err != nil {
			b.logger().WithError(err).WithField("job_id", jobID).Error("failed to fail job on timeout")
		}
	}
	b.raise(ctx, domain.EventTradeFailed, map[string]any{"trade_id": tradeID, "error": reasonConfirmationTimeout})
}

// onConfirmation records the ledger outcome on the trade and job, then raises the event.
func (b *Bot) onConfirmation(gen uint64, tradeID, jobID string, res domain.ConfirmationResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return
	}
	ctx := context.Background()
	st := b.r.deps.Store
	logger := b.logger().WithFields(log.Fields{"trade_id": tradeID, "signature": res.Signature})

	switch res.Status {
	case domain.LedgerConfirmed:
		if err := st.UpdateTradeStatus(ctx, tradeID, domain.TradeConfirmed, ""); err != nil {
			logger.WithError(err).Error("failed to mark trade confirmed")
		}
		if jobID != "" {
			if err := st.FinishJob(ctx, jobID, domain.JobCompleted, ""); err != nil {
				logger.WithError(err).Error("failed to complete job")
			}
		}
		b.raise(ctx, domain.EventTradeConfirmed, map[string]any{"trade_id": tradeID, "signature": res.Signature})
	case domain.LedgerFailed:
		reason := res.Reason
		if reason == "" {
			reason = "transaction failed on ledger"
		}
		if err := st.UpdateTradeStatus(ctx, tradeID, domain.TradeFailed, reason); err != nil {
			logger.WithError(err).Error("failed to mark trade failed")
		}
		if jobID != "" {
			if err := st.FinishJob(ctx, jobID, domain.JobFailed, reason); err != nil {
				logger.WithError(err).Error("failed to fail job")
			}
		}
		b.raise(ctx, domain.EventTradeFailed, map[string]any{"trade_id": tradeID, "signature": res.Signature, "error": reason})
	default:
		logger.WithField("status", res.Status).Debug("ignoring non-terminal confirmation result")
	}
}

func (b *Bot) raise(ctx context.Context, event domain.Event, meta map[string]any) {
	if err := b.processLocked(ctx, event, meta); err != nil && !errors.Is(err, ErrInvalidTransition) {
		b.logger().WithError(err).WithField("event", event).Error("event failed")
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return v
	case error:
		return v.Error()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

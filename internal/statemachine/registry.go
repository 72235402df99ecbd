// Package statemachine is the lifecycle authority of every trading bot. A Registry
// keyed by (user, vault) owns one Bot per key; all state changes go through
// Bot.ProcessEvent and are persisted before any side effect that depends on them.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
	"rebalancer/internal/recovery"
	"rebalancer/internal/store"
	"rebalancer/pkg/metrics"
)

// Authorizer is the pre-trade risk gate.
type Authorizer interface {
	Authorize(ctx context.Context, intent domain.TradeIntent) (domain.AuthorizedIntent, error)
}

// SignalSource proposes at most one intent per cycle; nil means nothing to do.
type SignalSource interface {
	Generate(ctx context.Context, userID, vault string) (*domain.TradeIntent, error)
}

// Reconciler resolves a bot's in-flight trades and jobs against the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, userID, vault string) (recovery.Report, error)
	Config() recovery.Config
}

type Config struct {
	ConfirmationTimeout time.Duration
	MaxRetries          int
	BackoffBase         float64
	IdempotencyBucket   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout: 30 * time.Second,
		MaxRetries:          3,
		BackoffBase:         2,
		IdempotencyBucket:   5 * time.Minute,
	}
}

// Deps are the collaborators of the registry. Publisher and Watcher are optional.
type Deps struct {
	Store     store.Store
	Signals   SignalSource
	Gate      Authorizer
	Builder   domain.SwapBuilder
	Ledger    domain.Ledger
	Watcher   domain.ConfirmationWatcher
	Recovery  Reconciler
	Scheduler Scheduler
	Publisher TransitionPublisher
	Now       func() time.Time
}

type Registry struct {
	deps Deps
	cfg  Config

	mu   sync.Mutex
	bots map[Key]*Bot
}

func NewRegistry(deps Deps, cfg Config) *Registry {
	if deps.Scheduler == nil {
		deps.Scheduler = RealScheduler{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		deps: deps,
		cfg:  cfg,
		bots: make(map[Key]*Bot),
	}
}

func (r *Registry) now() time.Time { return r.deps.Now() }

// bot returns the in-memory bot for key, loading it from the store on first use.
// A bot unknown to the store returns store.ErrNotFound.
func (r *Registry) bot(ctx context.Context, key Key) (*Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bots[key]; ok {
		return b, nil
	}
	s, err := r.deps.Store.GetBotState(ctx, key.UserID, key.VaultAddress)
	if err != nil {
		return nil, err
	}
	return r.register(s), nil
}

func (r *Registry) register(s *models.BotState) *Bot {
	b := newBot(r, s)
	r.bots[b.key] = b
	metrics.BotsByState.WithLabelValues(string(s.CurrentState)).Inc()
	return b
}

// InitializeBotState creates an enabled IDLE bot for (user, vault), or returns the
// existing one unchanged.
func (r *Registry) InitializeBotState(ctx context.Context, userID, vault string) (BotStateContext, error) {
	key := Key{UserID: userID, VaultAddress: vault}
	b, err := r.bot(ctx, key)
	if err == nil {
		return b.Snapshot(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return BotStateContext{}, err
	}

	now := r.now()
	s := &models.BotState{
		UserID:       userID,
		VaultAddress: vault,
		CurrentState: domain.StateIdle,
		Enabled:      true,
		LastUpdated:  now,
		StateHistory: models.StateHistory{},
	}
	if err := r.deps.Store.CreateBotState(ctx, s); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// created concurrently
			if b, err := r.bot(ctx, key); err == nil {
				return b.Snapshot(), nil
			}
		}
		return BotStateContext{}, fmt.Errorf("create bot state: %w", err)
	}

	r.mu.Lock()
	b, ok := r.bots[key]
	if !ok {
		b = r.register(s)
	}
	r.mu.Unlock()

	log.WithFields(log.Fields{"user_id": userID, "vault": vault}).Info("bot initialized")
	return b.Snapshot(), nil
}

// ProcessEvent applies an external event to the bot at key.
func (r *Registry) ProcessEvent(ctx context.Context, key Key, event domain.Event, meta map[string]any) (BotStateContext, error) {
	if !event.Valid() {
		return BotStateContext{}, fmt.Errorf("unknown event %q", event)
	}
	b, err := r.bot(ctx, key)
	if err != nil {
		return BotStateContext{}, err
	}
	return b.ProcessEvent(ctx, event, meta)
}

// Get returns the state of one bot.
func (r *Registry) Get(ctx context.Context, key Key) (BotStateContext, error) {
	b, err := r.bot(ctx, key)
	if err != nil {
		return BotStateContext{}, err
	}
	return b.Snapshot(), nil
}

// GetBotState returns the most recently updated bot of a user.
func (r *Registry) GetBotState(ctx context.Context, userID string) (BotStateContext, error) {
	s, err := r.deps.Store.GetLatestBotStateForUser(ctx, userID)
	if err != nil {
		return BotStateContext{}, err
	}
	return r.Get(ctx, Key{UserID: s.UserID, VaultAddress: s.VaultAddress})
}

// List returns every bot known to the store.
func (r *Registry) List(ctx context.Context) ([]BotStateContext, error) {
	states, err := r.deps.Store.ListBotStates(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]BotStateContext, 0, len(states))
	for i := range states {
		s := &states[i]
		b, err := r.bot(ctx, Key{UserID: s.UserID, VaultAddress: s.VaultAddress})
		if err != nil {
			return nil, err
		}
		out = append(out, b.Snapshot())
	}
	return out, nil
}

// SetEnabled switches scheduled cycles on or off for a bot.
func (r *Registry) SetEnabled(ctx context.Context, key Key, enabled bool) (BotStateContext, error) {
	b, err := r.bot(ctx, key)
	if err != nil {
		return BotStateContext{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Enabled == enabled {
		return contextOf(b.state), nil
	}
	b.state.Enabled = enabled
	b.state.LastUpdated = r.now()
	if err := b.persist(ctx); err != nil {
		b.state.Enabled = !enabled
		return contextOf(b.state), fmt.Errorf("persist enabled flag: %w", err)
	}
	b.logger().WithField("enabled", enabled).Info("bot enabled flag changed")
	return contextOf(b.state), nil
}

// Pause raises MANUAL_PAUSE. It takes effect at the next event boundary of a running
// cycle and never interrupts a broadcast.
func (r *Registry) Pause(ctx context.Context, key Key, reason string) (BotStateContext, error) {
	return r.ProcessEvent(ctx, key, domain.EventManualPause, map[string]any{"reason": reason})
}

// Resume raises MANUAL_RESUME and then reconciles, so a bot paused with a trade in
// flight resumes waiting on it.
func (r *Registry) Resume(ctx context.Context, key Key) (BotStateContext, error) {
	if _, err := r.ProcessEvent(ctx, key, domain.EventManualResume, nil); err != nil {
		return BotStateContext{}, err
	}
	if _, err := r.recover(ctx, key, false); err != nil {
		return BotStateContext{}, err
	}
	return r.Get(ctx, key)
}

// PauseAll pauses every bot that is not already paused.
func (r *Registry) PauseAll(ctx context.Context, reason string) int {
	states, err := r.deps.Store.ListBotStates(ctx, false)
	if err != nil {
		log.WithError(err).Error("pause all: cannot list bots")
		return 0
	}
	n := 0
	for _, s := range states {
		key := Key{UserID: s.UserID, VaultAddress: s.VaultAddress}
		b, err := r.bot(ctx, key)
		if err != nil {
			continue
		}
		if b.Snapshot().CurrentState == domain.StatePaused {
			continue
		}
		if _, err := b.ProcessEvent(ctx, domain.EventManualPause, map[string]any{"reason": reason}); err != nil {
			log.WithError(err).WithFields(log.Fields{"user_id": key.UserID, "vault": key.VaultAddress}).Error("pause all: pause failed")
			continue
		}
		n++
	}
	log.WithFields(log.Fields{"paused": n, "reason": reason}).Warn("paused all bots")
	return n
}

package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
	"rebalancer/internal/domain/domaintest"
	"rebalancer/internal/models"
	"rebalancer/internal/recovery"
	"rebalancer/internal/store"
)

const (
	user  = "user-1"
	vault = "vault-1"
)

// t0 sits on an idempotency bucket boundary.
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var key = Key{UserID: user, VaultAddress: vault}

type stubSignals struct {
	h *harness
}

func (s stubSignals) Generate(ctx context.Context, userID, vault string) (*domain.TradeIntent, error) {
	if s.h.signalErr != nil {
		return nil, s.h.signalErr
	}
	if s.h.intent == nil {
		return nil, nil
	}
	in := *s.h.intent
	return &in, nil
}

type stubGate struct {
	h *harness
}

func (g stubGate) Authorize(ctx context.Context, intent domain.TradeIntent) (domain.AuthorizedIntent, error) {
	if g.h.authorize != nil {
		return g.h.authorize(intent)
	}
	return authorized(intent), nil
}

type hookedBuilder struct {
	h *harness
}

func (b hookedBuilder) BuildSwap(ctx context.Context, intent domain.AuthorizedIntent) (domain.SignedTransaction, error) {
	if b.h.beforeBuild != nil {
		b.h.beforeBuild()
	}
	return b.h.builder.BuildSwap(ctx, intent)
}

type harness struct {
	t       *testing.T
	store   *store.MemoryStore
	sched   *ManualScheduler
	ledger  *domaintest.Ledger
	builder *domaintest.Builder
	watcher *domaintest.Watcher
	proc    *recovery.Procedure
	reg     *Registry

	intent      *domain.TradeIntent
	signalErr   error
	authorize   func(domain.TradeIntent) (domain.AuthorizedIntent, error)
	beforeBuild func()

	mu        sync.Mutex
	published []TransitionRecord
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:       t,
		store:   store.NewMemoryStore(),
		sched:   NewManualScheduler(t0),
		ledger:  domaintest.NewLedger(),
		builder: &domaintest.Builder{},
		watcher: domaintest.NewWatcher(),
		intent:  defaultIntent(),
	}
	h.store.SetClock(h.now)
	h.proc = recovery.NewProcedure(h.store, h.ledger, recovery.DefaultConfig())
	h.proc.SetClock(h.now)
	h.reg = h.newRegistry()
	return h
}

func (h *harness) now() time.Time { return h.sched.Now() }

func (h *harness) newRegistry() *Registry {
	return NewRegistry(Deps{
		Store:     h.store,
		Signals:   stubSignals{h: h},
		Gate:      stubGate{h: h},
		Builder:   hookedBuilder{h: h},
		Ledger:    h.ledger,
		Watcher:   h.watcher,
		Recovery:  h.proc,
		Scheduler: h.sched,
		Publisher: PublisherFunc(func(rec TransitionRecord) error {
			h.mu.Lock()
			h.published = append(h.published, rec)
			h.mu.Unlock()
			return nil
		}),
		Now: h.now,
	}, DefaultConfig())
}

// restart drops the in-memory registry and its timers, as a process restart would.
func (h *harness) restart() {
	h.sched = NewManualScheduler(h.sched.Now())
	h.watcher = domaintest.NewWatcher()
	h.reg = h.newRegistry()
}

func (h *harness) init() BotStateContext {
	snap, err := h.reg.InitializeBotState(context.Background(), user, vault)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) state() BotStateContext {
	snap, err := h.reg.Get(context.Background(), key)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) stored() *models.BotState {
	s, err := h.store.GetBotState(context.Background(), user, vault)
	require.NoError(h.t, err)
	return s
}

func (h *harness) trade(id string) *models.Trade {
	tr, err := h.store.GetTrade(context.Background(), id)
	require.NoError(h.t, err)
	return tr
}

func (h *harness) job(id *string) *models.ExecutionJob {
	require.NotNil(h.t, id)
	j, err := h.store.GetJob(context.Background(), *id)
	require.NoError(h.t, err)
	return j
}

func (h *harness) events() []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Event, 0, len(h.published))
	for _, r := range h.published {
		out = append(out, r.Event)
	}
	return out
}

func (h *harness) cycle() CycleResult {
	res, err := h.reg.RunCycle(context.Background(), key)
	require.NoError(h.t, err)
	return res
}

// seed writes a bot row directly, bypassing the registry.
func (h *harness) seed(s *models.BotState) {
	s.UserID, s.VaultAddress = user, vault
	if s.LastUpdated.IsZero() {
		s.LastUpdated = h.now()
	}
	require.NoError(h.t, h.store.CreateBotState(context.Background(), s))
}

// seedTrade inserts a trade with a RUNNING job, created age ago.
func (h *harness) seedTrade(coid string, status domain.TradeStatus, sig string, age time.Duration) *models.Trade {
	created := h.now().Add(-age)
	job := &models.ExecutionJob{UserID: user, VaultAddress: vault, Status: domain.JobRunning, StartedAt: created}
	tr := &models.Trade{
		UserID:        user,
		VaultAddress:  vault,
		ClientOrderID: coid,
		FromToken:     "USDC",
		ToToken:       "SOL",
		Status:        status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	if sig != "" {
		tr.TransactionSignature = &sig
	}
	require.NoError(h.t, h.store.CreateTradeWithJob(context.Background(), job, tr))
	return tr
}

func defaultIntent() *domain.TradeIntent {
	return &domain.TradeIntent{
		UserID:           user,
		VaultAddress:     vault,
		FromAsset:        "USDC",
		ToAsset:          "SOL",
		TargetPercentage: 10,
		Metadata:         domain.IntentMetadata{SignalID: "signal-1", Confidence: 0.9},
	}
}

func authorized(intent domain.TradeIntent) domain.AuthorizedIntent {
	return domain.AuthorizedIntent{
		TradeIntent:     intent,
		ValidationID:    "validation-1",
		ChecksPerformed: []string{"kill_switch", "position_sizing", "drawdown", "price_impact"},
		TradeValueUSD:   1000,
		AmountIn:        1_000_000_000,
		Quote:           domain.Quote{OutputAmount: 9_000_000_000, PriceImpact: 0.1, SlippageBps: 50},
	}
}

// expectedCOID is the client order id the default intent gets at the harness clock.
func (h *harness) expectedCOID() string {
	return ClientOrderID(vault, "USDC", "SOL", 1_000_000_000, h.now(), DefaultConfig().IdempotencyBucket)
}

package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
	"rebalancer/internal/risk"
	"rebalancer/internal/store"
	"rebalancer/pkg/metrics"
)

// CycleOutcome is how one trading cycle ended.
type CycleOutcome string

const (
	OutcomeSkipped     CycleOutcome = "skipped"
	OutcomeNoSignal    CycleOutcome = "no_signal"
	OutcomeSignalError CycleOutcome = "signal_error"
	OutcomeRejected    CycleOutcome = "rejected"
	OutcomeSubmitted   CycleOutcome = "submitted"
	OutcomeReused      CycleOutcome = "reused"
	OutcomeFailed      CycleOutcome = "failed"
	OutcomeInterrupted CycleOutcome = "interrupted"
	OutcomeError       CycleOutcome = "error"
)

type CycleResult struct {
	Key       Key             `json:"-"`
	Outcome   CycleOutcome    `json:"outcome"`
	State     domain.State    `json:"state"`
	TradeID   string          `json:"trade_id,omitempty"`
	Rejection *risk.Rejection `json:"rejection,omitempty"`
	Error     string          `json:"error,omitempty"`
}

var errInterrupted = errors.New("bot left EXECUTING_TRADE")

// RunCycle runs one signal → risk → execution pass for an enabled IDLE bot.
func (r *Registry) RunCycle(ctx context.Context, key Key) (CycleResult, error) {
	b, err := r.bot(ctx, key)
	if err != nil {
		return CycleResult{Key: key, Outcome: OutcomeError, Error: err.Error()}, err
	}
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	res := b.runCycle(ctx)
	res.Key = key
	res.State = b.Snapshot().CurrentState
	return res, nil
}

// RunCycles runs a cycle for every enabled bot concurrently and logs each outcome.
func (r *Registry) RunCycles(ctx context.Context) []CycleResult {
	states, err := r.deps.Store.ListBotStates(ctx, true)
	if err != nil {
		log.WithError(err).Error("cannot list enabled bots")
		return nil
	}

	results := make([]CycleResult, len(states))
	var wg sync.WaitGroup
	for i, s := range states {
		wg.Add(1)
		go func(i int, key Key) {
			defer wg.Done()
			res, _ := r.RunCycle(ctx, key)
			results[i] = res
			log.WithFields(log.Fields{
				"user_id":  key.UserID,
				"vault":    key.VaultAddress,
				"outcome":  res.Outcome,
				"state":    res.State,
				"trade_id": res.TradeID,
			}).Info("trading cycle finished")
		}(i, Key{UserID: s.UserID, VaultAddress: s.VaultAddress})
	}
	wg.Wait()
	return results
}

func (b *Bot) runCycle(ctx context.Context) CycleResult {
	snap := b.Snapshot()
	if snap.CurrentState != domain.StateIdle || !snap.Enabled {
		return CycleResult{Outcome: OutcomeSkipped}
	}
	logger := b.logger()

	intent, err := b.r.deps.Signals.Generate(ctx, b.key.UserID, b.key.VaultAddress)
	if err != nil {
		logger.WithError(err).Warn("signal generation failed")
		return CycleResult{Outcome: OutcomeSignalError, Error: err.Error()}
	}
	if intent == nil {
		return CycleResult{Outcome: OutcomeNoSignal}
	}

	if _, err := b.ProcessEvent(ctx, domain.EventSignalReceived, map[string]any{
		"signal_id": intent.Metadata.SignalID,
		"from":      intent.FromAsset,
		"to":        intent.ToAsset,
		"target":    intent.TargetPercentage,
	}); err != nil {
		return interrupted(err)
	}

	if err := b.validateIntent(*intent); err != nil {
		b.ProcessEvent(ctx, domain.EventRiskValidationFailed, map[string]any{"error": err.Error()})
		return CycleResult{Outcome: OutcomeRejected, Error: err.Error()}
	}
	if _, err := b.ProcessEvent(ctx, domain.EventRiskValidationPassed, map[string]any{"check": "intent_shape"}); err != nil {
		return interrupted(err)
	}

	auth, err := b.r.deps.Gate.Authorize(ctx, *intent)
	if err != nil {
		meta := map[string]any{"error": err.Error()}
		var rej *risk.Rejection
		if errors.As(err, &rej) {
			meta["code"] = string(rej.Code)
			meta["check"] = rej.CheckFailed
		}
		b.ProcessEvent(ctx, domain.EventRiskValidationFailed, meta)
		return CycleResult{Outcome: OutcomeRejected, Rejection: rej, Error: err.Error()}
	}
	if _, err := b.ProcessEvent(ctx, domain.EventRiskValidationPassed, map[string]any{"validation_id": auth.ValidationID}); err != nil {
		return interrupted(err)
	}

	return b.execute(ctx, auth)
}

func interrupted(err error) CycleResult {
	return CycleResult{Outcome: OutcomeInterrupted, Error: err.Error()}
}

func (b *Bot) validateIntent(in domain.TradeIntent) error {
	switch {
	case in.UserID != b.key.UserID || in.VaultAddress != b.key.VaultAddress:
		return fmt.Errorf("intent is for %s/%s", in.UserID, in.VaultAddress)
	case in.FromAsset == "" || in.ToAsset == "":
		return errors.New("intent is missing an asset")
	case in.FromAsset == in.ToAsset:
		return errors.New("intent swaps an asset for itself")
	case math.IsNaN(in.TargetPercentage) || in.TargetPercentage <= 0 || in.TargetPercentage > 100:
		return fmt.Errorf("target percentage %v out of range", in.TargetPercentage)
	}
	return nil
}

// execute submits an authorized intent exactly once per idempotency key: trade
// persisted PENDING, transaction signed, signature persisted, broadcast, SUBMITTED.
func (b *Bot) execute(ctx context.Context, auth domain.AuthorizedIntent) CycleResult {
	st := b.r.deps.Store
	now := b.r.now()
	coid := ClientOrderID(auth.VaultAddress, auth.FromAsset, auth.ToAsset, auth.AmountIn, now, b.r.cfg.IdempotencyBucket)
	logger := b.logger().WithField("client_order_id", coid)

	if b.Snapshot().CurrentState != domain.StateExecutingTrade {
		return interrupted(errInterrupted)
	}

	existing, err := st.GetTradeByClientOrderID(ctx, auth.UserID, coid)
	switch {
	case err == nil:
		return b.reuse(ctx, existing)
	case !errors.Is(err, store.ErrNotFound):
		return b.systemError(ctx, fmt.Errorf("look up trade: %w", err))
	}

	snapshot, err := json.Marshal(riskSnapshot(auth))
	if err != nil {
		return b.systemError(ctx, fmt.Errorf("encode risk snapshot: %w", err))
	}
	job := &models.ExecutionJob{
		UserID:       auth.UserID,
		VaultAddress: auth.VaultAddress,
		Status:       domain.JobRunning,
		StartedAt:    now,
	}
	trade := &models.Trade{
		UserID:        auth.UserID,
		VaultAddress:  auth.VaultAddress,
		ClientOrderID: coid,
		FromToken:     auth.FromAsset,
		ToToken:       auth.ToAsset,
		AmountIn:      decimal.NewFromBigInt(new(big.Int).SetUint64(auth.AmountIn), 0),
		AmountOut:     decimal.NewFromInt(auth.Quote.OutputAmount),
		Status:        domain.TradePending,
		RiskSnapshot:  datatypes.JSON(snapshot),
	}
	if err := st.CreateTradeWithJob(ctx, job, trade); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			winner, lerr := st.GetTradeByClientOrderID(ctx, auth.UserID, coid)
			if lerr != nil {
				return b.systemError(ctx, fmt.Errorf("reload duplicate trade: %w", lerr))
			}
			return b.reuse(ctx, winner)
		}
		return b.systemError(ctx, fmt.Errorf("create trade: %w", err))
	}
	logger = logger.WithField("trade_id", trade.ID)

	if err := b.attach(ctx, trade.ID, &job.ID); err != nil {
		b.abandon(ctx, trade, domain.TradeCancelled, "cancelled before broadcast")
		if errors.Is(err, errInterrupted) {
			return interrupted(err)
		}
		return b.systemError(ctx, err)
	}

	tx, err := b.r.deps.Builder.BuildSwap(ctx, auth)
	if err != nil {
		metrics.Submissions.WithLabelValues("build_failed").Inc()
		msg := fmt.Sprintf("build swap: %v", err)
		b.abandon(ctx, trade, domain.TradeFailed, msg)
		return b.failed(ctx, trade.ID, msg)
	}

	if err := st.SetTradeSignature(ctx, trade.ID, tx.Signature); err != nil {
		msg := fmt.Sprintf("persist signature: %v", err)
		b.abandon(ctx, trade, domain.TradeFailed, msg)
		return b.failed(ctx, trade.ID, msg)
	}
	logger = logger.WithField("signature", tx.Signature)

	sig, err := b.r.deps.Ledger.Submit(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionRejected) {
			metrics.Submissions.WithLabelValues("rejected").Inc()
			b.abandon(ctx, trade, domain.TradeFailed, err.Error())
			logger.WithError(err).Warn("ledger rejected transaction")
		} else {
			metrics.Submissions.WithLabelValues("ambiguous").Inc()
			logger.WithError(err).Warn("broadcast outcome unknown, leaving trade for recovery")
		}
		return b.failed(ctx, trade.ID, err.Error())
	}
	if sig != "" && sig != tx.Signature {
		logger.WithField("ledger_signature", sig).Warn("ledger returned a different signature")
	}

	if err := st.UpdateTradeStatus(ctx, trade.ID, domain.TradeSubmitted, ""); err != nil {
		logger.WithError(err).Error("failed to mark trade submitted")
	}
	metrics.Submissions.WithLabelValues("submitted").Inc()
	logger.Info("trade submitted")

	if _, err := b.ProcessEvent(ctx, domain.EventTradeSubmitted, map[string]any{
		"trade_id":  trade.ID,
		"signature": tx.Signature,
	}); err != nil {
		return CycleResult{Outcome: OutcomeSubmitted, TradeID: trade.ID, Error: err.Error()}
	}
	return CycleResult{Outcome: OutcomeSubmitted, TradeID: trade.ID}
}

// reuse drives the bot from an existing trade with the same idempotency key instead of
// submitting again.
func (b *Bot) reuse(ctx context.Context, t *models.Trade) CycleResult {
	metrics.Submissions.WithLabelValues("reused").Inc()
	b.logger().WithFields(log.Fields{"trade_id": t.ID, "status": t.Status}).Info("reusing existing trade")

	if err := b.attach(ctx, t.ID, t.JobID); err != nil {
		if errors.Is(err, errInterrupted) {
			return interrupted(err)
		}
		return b.systemError(ctx, err)
	}

	meta := map[string]any{"trade_id": t.ID, "reused": true}
	switch t.Status {
	case domain.TradePending, domain.TradeSubmitted:
		b.ProcessEvent(ctx, domain.EventTradeSubmitted, meta)
	case domain.TradeConfirmed:
		b.ProcessEvent(ctx, domain.EventTradeSubmitted, meta)
		b.ProcessEvent(ctx, domain.EventTradeConfirmed, meta)
	default:
		meta["error"] = fmt.Sprintf("reused trade is %s", t.Status)
		b.ProcessEvent(ctx, domain.EventTradeFailed, meta)
	}
	return CycleResult{Outcome: OutcomeReused, TradeID: t.ID}
}

// attach records the trade and job the bot is working on. It refuses when the bot
// has left EXECUTING_TRADE, for example after a pause.
func (b *Bot) attach(ctx context.Context, tradeID string, jobID *string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.CurrentState != domain.StateExecutingTrade {
		return errInterrupted
	}
	prevTrade, prevJob := b.state.CurrentTradeID, b.state.CurrentJobID
	b.state.CurrentTradeID = &tradeID
	b.state.CurrentJobID = copyString(jobID)
	b.state.LastUpdated = b.r.now()
	if err := b.persist(ctx); err != nil {
		b.state.CurrentTradeID, b.state.CurrentJobID = prevTrade, prevJob
		return fmt.Errorf("persist current trade: %w", err)
	}
	return nil
}

// abandon closes a trade that will not be broadcast, together with its job.
func (b *Bot) abandon(ctx context.Context, t *models.Trade, status domain.TradeStatus, reason string) {
	st := b.r.deps.Store
	if err := st.UpdateTradeStatus(ctx, t.ID, status, reason); err != nil {
		b.logger().WithError(err).WithField("trade_id", t.ID).Error("failed to close trade")
	}
	if t.JobID != nil {
		if err := st.FinishJob(ctx, *t.JobID, domain.JobFailed, reason); err != nil {
			b.logger().WithError(err).WithField("job_id", *t.JobID).Error("failed to close job")
		}
	}
}

func (b *Bot) failed(ctx context.Context, tradeID, reason string) CycleResult {
	b.ProcessEvent(ctx, domain.EventTradeFailed, map[string]any{"trade_id": tradeID, "error": reason})
	return CycleResult{Outcome: OutcomeFailed, TradeID: tradeID, Error: reason}
}

func (b *Bot) systemError(ctx context.Context, err error) CycleResult {
	b.logger().WithError(err).Error("cycle hit a system error")
	b.ProcessEvent(ctx, domain.EventSystemError, map[string]any{"error": err.Error()})
	return CycleResult{Outcome: OutcomeError, Error: err.Error()}
}

func riskSnapshot(auth domain.AuthorizedIntent) map[string]any {
	return map[string]any{
		"validation_id":            auth.ValidationID,
		"validated_at":             auth.ValidatedAt,
		"checks_performed":         auth.ChecksPerformed,
		"trade_value_usd":          auth.TradeValueUSD,
		"position_size_percentage": auth.PositionSizePercentage,
		"current_drawdown":         auth.CurrentDrawdown,
		"price_impact":             auth.PriceImpact,
		"slippage":                 auth.Slippage,
		"target_percentage":        auth.TargetPercentage,
		"signal_id":                auth.Metadata.SignalID,
	}
}

// Package recovery reconciles in-flight trades and jobs against ledger truth after a
// restart, on operator request, and on a periodic sweep.
package recovery

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
	"rebalancer/internal/store"
	"rebalancer/pkg/metrics"
)

const (
	ReasonNeverBroadcast      = "never broadcast"
	ReasonConfirmationTimeout = "confirmation timeout during recovery"
	ReasonOrphaned            = "orphaned during recovery"
	ReasonLedgerFailed        = "transaction failed on ledger"
)

type Config struct {
	StaleAfter    time.Duration // trades younger than this are in flight and left alone
	Lookback      time.Duration
	MaxWindow     time.Duration // past this a missing transaction is presumed dropped
	OrphanAfter   time.Duration
	Timeout       time.Duration
	StatusTimeout time.Duration
	Retention     time.Duration
}

func DefaultConfig() Config {
	return Config{
		StaleAfter:    30 * time.Second,
		Lookback:      24 * time.Hour,
		MaxWindow:     5 * time.Minute,
		OrphanAfter:   10 * time.Minute,
		Timeout:       60 * time.Second,
		StatusTimeout: 2 * time.Second,
		Retention:     30 * 24 * time.Hour,
	}
}

// Report is the outcome of reconciling one bot's trades and jobs.
type Report struct {
	TradesConfirmed int
	TradesFailed    int
	TradesPending   int
	JobsOrphaned    int
	Partial         bool
	// Latest is the newest trade still PENDING/SUBMITTED in the lookback window.
	Latest *models.Trade
}

type outcome string

const (
	outcomeConfirmed outcome = "confirmed"
	outcomeFailed    outcome = "failed"
	outcomePending   outcome = "pending"
)

type Procedure struct {
	store  store.Store
	ledger domain.Ledger
	cfg    Config
	now    func() time.Time
}

func NewProcedure(st store.Store, ledger domain.Ledger, cfg Config) *Procedure {
	return &Procedure{
		store:  st,
		ledger: ledger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Procedure) SetClock(now func() time.Time) { p.now = now }

func (p *Procedure) Config() Config { return p.cfg }

// Reconcile resolves this bot's stale unresolved trades and orphaned jobs. Work left
// when ctx ends is reported as pending with Partial set.
func (p *Procedure) Reconcile(ctx context.Context, userID, vault string) (Report, error) {
	logger := log.WithFields(log.Fields{"user_id": userID, "vault": vault})
	now := p.now()
	var rep Report

	trades, err := p.store.ListUnresolvedTrades(ctx, store.UnresolvedTradeQuery{
		UserID:       userID,
		VaultAddress: vault,
		Since:        now.Add(-p.cfg.Lookback),
		Before:       now.Add(-p.cfg.StaleAfter),
	})
	if err != nil {
		return rep, err
	}

	for i := range trades {
		if ctx.Err() != nil {
			rep.Partial = true
			rep.TradesPending += len(trades) - i
			break
		}
		switch p.resolveTrade(ctx, &trades[i], now) {
		case outcomeConfirmed:
			rep.TradesConfirmed++
		case outcomeFailed:
			rep.TradesFailed++
		default:
			rep.TradesPending++
		}
	}

	if ctx.Err() == nil {
		jobs, err := p.store.ListOrphanedJobs(ctx, userID, vault, now.Add(-p.cfg.OrphanAfter))
		if err != nil {
			return rep, err
		}
		for _, j := range jobs {
			if ctx.Err() != nil {
				rep.Partial = true
				break
			}
			if err := p.store.FinishJob(ctx, j.ID, domain.JobFailed, ReasonOrphaned); err != nil {
				logger.WithError(err).WithField("job_id", j.ID).Error("failed to close orphaned job")
				continue
			}
			rep.JobsOrphaned++
		}
	} else {
		rep.Partial = true
	}

	if ctx.Err() == nil {
		open, err := p.store.ListUnresolvedTrades(ctx, store.UnresolvedTradeQuery{
			UserID:       userID,
			VaultAddress: vault,
			Since:        now.Add(-p.cfg.Lookback),
			Before:       now.Add(time.Second),
		})
		if err != nil {
			return rep, err
		}
		if len(open) > 0 {
			latest := open[len(open)-1]
			rep.Latest = &latest
		}
	}

	entry := logger.WithFields(log.Fields{
		"confirmed": rep.TradesConfirmed,
		"failed":    rep.TradesFailed,
		"pending":   rep.TradesPending,
		"orphaned":  rep.JobsOrphaned,
		"partial":   rep.Partial,
	})
	if rep.TradesConfirmed+rep.TradesFailed+rep.TradesPending+rep.JobsOrphaned == 0 && !rep.Partial {
		entry.Debug("reconciliation finished")
	} else {
		entry.Info("reconciliation finished")
	}
	return rep, nil
}

func (p *Procedure) resolveTrade(ctx context.Context, t *models.Trade, now time.Time) outcome {
	logger := log.WithFields(log.Fields{"user_id": t.UserID, "trade_id": t.ID})
	age := now.Sub(t.CreatedAt)

	if !t.HasSignature() {
		if age > p.cfg.MaxWindow {
			return p.finish(ctx, t, domain.TradeFailed, ReasonNeverBroadcast)
		}
		return p.record(outcomePending)
	}

	sig := *t.TransactionSignature
	logger = logger.WithField("signature", sig)
	sctx, cancel := context.WithTimeout(ctx, p.cfg.StatusTimeout)
	res, err := p.ledger.GetConfirmationStatus(sctx, sig)
	cancel()
	if err != nil {
		logger.WithError(err).Warn("ledger status unavailable, leaving trade for next pass")
		return p.record(outcomePending)
	}

	switch res.Status {
	case domain.LedgerConfirmed:
		return p.finish(ctx, t, domain.TradeConfirmed, "")
	case domain.LedgerFailed:
		reason := res.Reason
		if reason == "" {
			reason = ReasonLedgerFailed
		}
		return p.finish(ctx, t, domain.TradeFailed, reason)
	case domain.LedgerNotFound:
		if age > p.cfg.MaxWindow {
			return p.finish(ctx, t, domain.TradeFailed, ReasonConfirmationTimeout)
		}
	}
	return p.record(outcomePending)
}

// finish moves a trade and its job to a terminal status.
func (p *Procedure) finish(ctx context.Context, t *models.Trade, status domain.TradeStatus, reason string) outcome {
	logger := log.WithFields(log.Fields{"user_id": t.UserID, "trade_id": t.ID, "status": status})
	if err := p.store.UpdateTradeStatus(ctx, t.ID, status, reason); err != nil {
		logger.WithError(err).Error("failed to update trade during recovery")
		return p.record(outcomePending)
	}

	if t.JobID != nil {
		jobStatus := domain.JobCompleted
		if status != domain.TradeConfirmed {
			jobStatus = domain.JobFailed
		}
		if err := p.store.FinishJob(ctx, *t.JobID, jobStatus, reason); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.WithError(err).Error("failed to finish job during recovery")
		}
	}

	logger.WithField("reason", reason).Info("trade resolved by recovery")
	if status == domain.TradeConfirmed {
		return p.record(outcomeConfirmed)
	}
	return p.record(outcomeFailed)
}

func (p *Procedure) record(o outcome) outcome {
	metrics.RecoveryTrades.WithLabelValues(string(o)).Inc()
	return o
}

// ReconstructState maps the trade a bot was working on to the state it resumes in.
func ReconstructState(t *models.Trade) domain.State {
	if t == nil {
		return domain.StateIdle
	}
	switch t.Status {
	case domain.TradePending, domain.TradeSubmitted:
		return domain.StateAwaitingConfirmation
	case domain.TradeFailed, domain.TradeCancelled:
		return domain.StateFailedRetryPending
	default:
		return domain.StateIdle
	}
}

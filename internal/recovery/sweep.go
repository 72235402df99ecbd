package recovery

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Sweep reconciles the trade and job rows of every bot and deletes terminal trades
// past retention. Bot states are not touched; a bot waiting on a trade the sweep
// resolved picks the outcome up from the trade row.
func (p *Procedure) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	bots, err := p.store.ListBotStates(ctx, false)
	if err != nil {
		return rep, err
	}

	for _, b := range bots {
		if ctx.Err() != nil {
			break
		}
		r, err := p.Reconcile(ctx, b.UserID, b.VaultAddress)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id": b.UserID,
				"vault":   b.VaultAddress,
			}).Error("sweep reconciliation failed")
			continue
		}
		rep.Bots++
		rep.TradesConfirmed += r.TradesConfirmed
		rep.TradesFailed += r.TradesFailed
		rep.TradesPending += r.TradesPending
		rep.JobsOrphaned += r.JobsOrphaned
	}

	if p.cfg.Retention > 0 {
		n, err := p.store.DeleteExpiredTrades(ctx, p.now().Add(-p.cfg.Retention))
		if err != nil {
			return rep, err
		}
		rep.TradesDeleted = n
	}
	return rep, nil
}

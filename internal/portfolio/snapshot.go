package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
)

// SnapshotStore is the part of the store the recorder writes to.
type SnapshotStore interface {
	ListBotStates(ctx context.Context, enabledOnly bool) ([]models.BotState, error)
	CreateSnapshot(ctx context.Context, s *models.PortfolioSnapshot) error
}

// Recorder periodically stores each enabled vault's total value. The risk gate reads
// these rows back as the drawdown high-water mark.
type Recorder struct {
	store    SnapshotStore
	holdings domain.HoldingsReader
	prices   domain.PriceProvider
	now      func() time.Time
}

func NewRecorder(st SnapshotStore, holdings domain.HoldingsReader, prices domain.PriceProvider) *Recorder {
	return &Recorder{
		store:    st,
		holdings: holdings,
		prices:   prices,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Record values one vault and stores the snapshot. A valuation priced from stale
// quotes is not stored and returns ok=false.
func (r *Recorder) Record(ctx context.Context, userID, vault string) (*models.PortfolioSnapshot, bool, error) {
	v, err := Value(ctx, r.holdings, r.prices, vault)
	if err != nil {
		return nil, false, err
	}
	if v.Stale {
		log.WithFields(log.Fields{"user_id": userID, "vault": vault}).Warn("skipping snapshot priced from stale quotes")
		return nil, false, nil
	}
	s := &models.PortfolioSnapshot{
		UserID:        userID,
		VaultAddress:  vault,
		TotalValueUSD: decimal.NewFromFloat(v.Total).Round(6),
		TakenAt:       r.now(),
	}
	if err := r.store.CreateSnapshot(ctx, s); err != nil {
		return nil, false, fmt.Errorf("store snapshot: %w", err)
	}
	return s, true, nil
}

// RecordAll snapshots every enabled bot's vault and returns how many were stored.
// One vault failing does not stop the others.
func (r *Recorder) RecordAll(ctx context.Context) (int, error) {
	bots, err := r.store.ListBotStates(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list bots: %w", err)
	}
	n := 0
	for _, b := range bots {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		_, ok, err := r.Record(ctx, b.UserID, b.VaultAddress)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"user_id": b.UserID, "vault": b.VaultAddress}).Error("portfolio snapshot failed")
			continue
		}
		if ok {
			n++
		}
	}
	log.WithField("stored", n).Info("portfolio snapshots recorded")
	return n, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
)

var unresolvedStatuses = []domain.TradeStatus{domain.TradePending, domain.TradeSubmitted}

// GormStore implements Store on gorm (postgres in production, sqlite in tests).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates every table the engine uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.BotState{},
		&models.ExecutionJob{},
		&models.Trade{},
		&models.PortfolioSnapshot{},
		&models.BotAuditLog{},
	)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	// drivers without an error translator
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) CreateBotState(ctx context.Context, b *models.BotState) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create bot state: %w", translate(err))
	}
	return nil
}

func (s *GormStore) GetBotState(ctx context.Context, userID, vault string) (*models.BotState, error) {
	var b models.BotState
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND vault_address = ?", userID, vault).
		First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (s *GormStore) GetLatestBotStateForUser(ctx context.Context, userID string) (*models.BotState, error) {
	var b models.BotState
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_updated DESC").
		First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (s *GormStore) SaveBotState(ctx context.Context, b *models.BotState) error {
	if err := s.db.WithContext(ctx).Save(b).Error; err != nil {
		return fmt.Errorf("save bot state: %w", translate(err))
	}
	return nil
}

func (s *GormStore) ListBotStates(ctx context.Context, enabledOnly bool) ([]models.BotState, error) {
	var out []models.BotState
	q := s.db.WithContext(ctx).Order("id ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list bot states: %w", err)
	}
	return out, nil
}

func (s *GormStore) CreateTradeWithJob(ctx context.Context, job *models.ExecutionJob, trade *models.Trade) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		trade.JobID = &job.ID
		return tx.Omit(clause.Associations).Create(trade).Error
	})
	if err != nil {
		return fmt.Errorf("create trade: %w", translate(err))
	}
	return nil
}

func (s *GormStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	var t models.Trade
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) GetTradeByClientOrderID(ctx context.Context, userID, clientOrderID string) (*models.Trade, error) {
	var t models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND client_order_id = ?", userID, clientOrderID).
		First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) SetTradeSignature(ctx context.Context, id, signature string) error {
	res := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"transaction_signature": signature,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("set trade signature: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update trade status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListUnresolvedTrades(ctx context.Context, q UnresolvedTradeQuery) ([]models.Trade, error) {
	var out []models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND vault_address = ?", q.UserID, q.VaultAddress).
		Where("status IN ?", unresolvedStatuses).
		Where("created_at >= ? AND created_at < ?", q.Since, q.Before).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list unresolved trades: %w", err)
	}
	return out, nil
}

func (s *GormStore) CountOutstandingTrades(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("user_id = ? AND status IN ?", userID, unresolvedStatuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count outstanding trades: %w", err)
	}
	return n, nil
}

func (s *GormStore) ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	var out []models.Trade
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}

func (s *GormStore) DeleteExpiredTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	openJobs := s.db.Model(&models.ExecutionJob{}).
		Select("id").
		Where("status NOT IN ?", []domain.JobStatus{domain.JobCompleted, domain.JobFailed})
	res := s.db.WithContext(ctx).
		Where("status IN ?", []domain.TradeStatus{domain.TradeConfirmed, domain.TradeFailed, domain.TradeCancelled}).
		Where("updated_at < ?", cutoff).
		Where("job_id IS NULL OR job_id NOT IN (?)", openJobs).
		Delete(&models.Trade{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired trades: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*models.ExecutionJob, error) {
	var j models.ExecutionJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (s *GormStore) FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.ExecutionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"completed_at":  &now,
		})
	if res.Error != nil {
		return fmt.Errorf("finish job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListOrphanedJobs(ctx context.Context, userID, vault string, startedBefore time.Time) ([]models.ExecutionJob, error) {
	var out []models.ExecutionJob
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND vault_address = ?", userID, vault).
		Where("status IN ?", []domain.JobStatus{domain.JobPending, domain.JobRunning}).
		Where("started_at < ?", startedBefore).
		Order("started_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list orphaned jobs: %w", err)
	}
	return out, nil
}

func (s *GormStore) CreateSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

func (s *GormStore) MaxSnapshotValue(ctx context.Context, userID, vault string, since time.Time) (decimal.Decimal, bool, error) {
	var snap models.PortfolioSnapshot
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND vault_address = ? AND taken_at >= ?", userID, vault, since).
		Order("total_value_usd DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("max snapshot value: %w", err)
	}
	return snap.TotalValueUSD, true, nil
}

func (s *GormStore) CreateAuditLog(ctx context.Context, l *models.BotAuditLog) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func (s *GormStore) ListAuditLogs(ctx context.Context, userID string, limit int) ([]models.BotAuditLog, error) {
	var out []models.BotAuditLog
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate key")
)

// UnresolvedTradeQuery selects PENDING/SUBMITTED trades of one bot created inside
// [Since, Before).
type UnresolvedTradeQuery struct {
	UserID       string
	VaultAddress string
	Since        time.Time
	Before       time.Time
}

// Store is the persistence contract of the execution engine.
type Store interface {
	CreateBotState(ctx context.Context, s *models.BotState) error
	GetBotState(ctx context.Context, userID, vault string) (*models.BotState, error)
	GetLatestBotStateForUser(ctx context.Context, userID string) (*models.BotState, error)
	SaveBotState(ctx context.Context, s *models.BotState) error
	ListBotStates(ctx context.Context, enabledOnly bool) ([]models.BotState, error)

	// CreateTradeWithJob inserts the job and the trade atomically. A conflict on
	// (user_id, client_order_id) returns ErrDuplicate and inserts nothing.
	CreateTradeWithJob(ctx context.Context, job *models.ExecutionJob, trade *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	GetTradeByClientOrderID(ctx context.Context, userID, clientOrderID string) (*models.Trade, error)
	SetTradeSignature(ctx context.Context, id, signature string) error
	UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus, errMsg string) error
	ListUnresolvedTrades(ctx context.Context, q UnresolvedTradeQuery) ([]models.Trade, error)
	CountOutstandingTrades(ctx context.Context, userID string) (int64, error)
	ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error)
	// DeleteExpiredTrades removes terminal trades last updated before cutoff whose job,
	// if any, is terminal too.
	DeleteExpiredTrades(ctx context.Context, cutoff time.Time) (int64, error)

	GetJob(ctx context.Context, id string) (*models.ExecutionJob, error)
	FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string) error
	ListOrphanedJobs(ctx context.Context, userID, vault string, startedBefore time.Time) ([]models.ExecutionJob, error)

	CreateSnapshot(ctx context.Context, s *models.PortfolioSnapshot) error
	// MaxSnapshotValue returns the highest recorded total value since the given time.
	// ok is false when no snapshot exists in range.
	MaxSnapshotValue(ctx context.Context, userID, vault string, since time.Time) (value decimal.Decimal, ok bool, err error)

	CreateAuditLog(ctx context.Context, l *models.BotAuditLog) error
	ListAuditLogs(ctx context.Context, userID string, limit int) ([]models.BotAuditLog, error)
}

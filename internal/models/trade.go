package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rebalancer/internal/domain"
)

// Trade is one swap attempt. (user_id, client_order_id) is the idempotency key.
type Trade struct {
	ID                   string             `gorm:"column:id;primaryKey;size:36" json:"id"`
	JobID                *string            `gorm:"column:job_id;size:36;index" json:"job_id"`
	Job                  *ExecutionJob      `gorm:"foreignKey:JobID;constraint:OnDelete:SET NULL" json:"-"`
	UserID               string             `gorm:"column:user_id;size:128;not null;uniqueIndex:idx_trades_user_client_order" json:"user_id"`
	VaultAddress         string             `gorm:"column:vault_address;size:64;not null" json:"vault_address"`
	ClientOrderID        string             `gorm:"column:client_order_id;size:64;not null;uniqueIndex:idx_trades_user_client_order" json:"client_order_id"`
	TransactionSignature *string            `gorm:"column:transaction_signature;size:128;uniqueIndex:idx_trades_signature" json:"transaction_signature"`
	FromToken            string             `gorm:"column:from_token;size:64;not null" json:"from_token"`
	ToToken              string             `gorm:"column:to_token;size:64;not null" json:"to_token"`
	AmountIn             decimal.Decimal    `gorm:"column:amount_in;type:numeric(38,0);not null" json:"amount_in"`
	AmountOut            decimal.Decimal    `gorm:"column:amount_out;type:numeric(38,0);not null;default:0" json:"amount_out"`
	Status               domain.TradeStatus `gorm:"column:status;size:16;not null;index" json:"status"`
	ErrorMessage         string             `gorm:"column:error_message;type:text;default:''" json:"error_message"`
	RiskSnapshot         datatypes.JSON     `gorm:"column:risk_snapshot;type:jsonb" json:"risk_snapshot"`
	CreatedAt            time.Time          `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trades"
}

// BeforeCreate assigns a uuid when the caller did not.
func (t *Trade) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// HasSignature reports whether a signature was recorded before broadcast.
func (t *Trade) HasSignature() bool {
	return t.TransactionSignature != nil && *t.TransactionSignature != ""
}

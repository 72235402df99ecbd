package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a point-in-time total vault value.
type PortfolioSnapshot struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	UserID        string          `gorm:"column:user_id;size:128;not null;index:idx_portfolio_snapshots_vault_time" json:"user_id"`
	VaultAddress  string          `gorm:"column:vault_address;size:64;not null;index:idx_portfolio_snapshots_vault_time" json:"vault_address"`
	TotalValueUSD decimal.Decimal `gorm:"column:total_value_usd;type:numeric(24,6);not null" json:"total_value_usd"`
	TakenAt       time.Time       `gorm:"column:taken_at;not null;index:idx_portfolio_snapshots_vault_time" json:"taken_at"`
}

// TableName 指定表名
func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}

package models

import (
	"time"

	"rebalancer/internal/domain"
)

// BotAuditLog is the durable record of one state transition.
type BotAuditLog struct {
	ID           uint         `gorm:"primarykey" json:"id"`
	UserID       string       `gorm:"column:user_id;size:128;not null;index" json:"user_id"`
	VaultAddress string       `gorm:"column:vault_address;size:64;not null" json:"vault_address"`
	FromState    domain.State `gorm:"column:from_state;size:32;not null" json:"from_state"`
	ToState      domain.State `gorm:"column:to_state;size:32;not null" json:"to_state"`
	Event        domain.Event `gorm:"column:event;size:32;not null" json:"event"`
	Meta         JSONMap      `gorm:"column:meta;type:jsonb" json:"meta"`
	OccurredAt   time.Time    `gorm:"column:occurred_at;not null" json:"occurred_at"`
	CreatedAt    time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (BotAuditLog) TableName() string {
	return "bot_audit_logs"
}

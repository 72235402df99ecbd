package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"rebalancer/internal/domain"
)

// MaxStateHistory is the number of transitions kept on a BotState row.
const MaxStateHistory = 10

// StateHistoryEntry records one applied transition.
type StateHistoryEntry struct {
	State     domain.State `json:"state"`
	Event     domain.Event `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
}

// StateHistory is a bounded ring of recent transitions stored as jsonb.
type StateHistory []StateHistoryEntry

// Append adds an entry and drops the oldest ones beyond MaxStateHistory.
func (h StateHistory) Append(e StateHistoryEntry) StateHistory {
	out := append(h, e)
	if len(out) > MaxStateHistory {
		out = append(StateHistory(nil), out[len(out)-MaxStateHistory:]...)
	}
	return out
}

// Value 实现 driver.Valuer 接口
func (h StateHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (h *StateHistory) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, h)
}

// BotState is the persisted lifecycle record of one bot, keyed by (user, vault).
type BotState struct {
	ID             uint         `gorm:"primarykey" json:"id"`
	UserID         string       `gorm:"column:user_id;size:128;not null;uniqueIndex:idx_bot_states_user_vault" json:"user_id"`
	VaultAddress   string       `gorm:"column:vault_address;size:64;not null;uniqueIndex:idx_bot_states_user_vault" json:"vault_address"`
	CurrentState   domain.State `gorm:"column:current_state;size:32;not null;default:'IDLE'" json:"current_state"`
	RetryCount     int          `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	FailureStreak  int          `gorm:"column:failure_streak;not null;default:0" json:"failure_streak"`
	CurrentTradeID *string      `gorm:"column:current_trade_id;size:36" json:"current_trade_id"`
	CurrentJobID   *string      `gorm:"column:current_job_id;size:36" json:"current_job_id"`
	ErrorMessage   string       `gorm:"column:error_message;type:text;default:''" json:"error_message"`
	Enabled        bool         `gorm:"column:enabled;not null;default:false" json:"enabled"`
	StateHistory   StateHistory `gorm:"column:state_history;type:jsonb" json:"state_history"`
	LastUpdated    time.Time    `gorm:"column:last_updated" json:"last_updated"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (BotState) TableName() string {
	return "bot_states"
}

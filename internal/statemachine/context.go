package statemachine

import (
	"time"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
)

// Key identifies one bot.
type Key struct {
	UserID       string
	VaultAddress string
}

// BotStateContext is a read-only copy of a bot's state.
type BotStateContext struct {
	UserID         string              `json:"user_id"`
	VaultAddress   string              `json:"vault_address"`
	CurrentState   domain.State        `json:"current_state"`
	RetryCount     int                 `json:"retry_count"`
	FailureStreak  int                 `json:"failure_streak"`
	CurrentTradeID *string             `json:"current_trade_id"`
	CurrentJobID   *string             `json:"current_job_id"`
	ErrorMessage   string              `json:"error_message"`
	Enabled        bool                `json:"enabled"`
	LastUpdated    time.Time           `json:"last_updated"`
	StateHistory   models.StateHistory `json:"state_history"`
}

func contextOf(s *models.BotState) BotStateContext {
	return BotStateContext{
		UserID:         s.UserID,
		VaultAddress:   s.VaultAddress,
		CurrentState:   s.CurrentState,
		RetryCount:     s.RetryCount,
		FailureStreak:  s.FailureStreak,
		CurrentTradeID: copyString(s.CurrentTradeID),
		CurrentJobID:   copyString(s.CurrentJobID),
		ErrorMessage:   s.ErrorMessage,
		Enabled:        s.Enabled,
		LastUpdated:    s.LastUpdated,
		StateHistory:   append(models.StateHistory(nil), s.StateHistory...),
	}
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

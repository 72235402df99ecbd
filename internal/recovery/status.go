package recovery

import (
	"time"

	"rebalancer/internal/domain"
)

// RecoveryStatus summarizes one recovery run for a bot.
type RecoveryStatus struct {
	UserID          string        `json:"user_id"`
	VaultAddress    string        `json:"vault_address"`
	PreviousState   domain.State  `json:"previous_state"`
	RecoveredState  domain.State  `json:"recovered_state"`
	TradesConfirmed int           `json:"trades_confirmed"`
	TradesFailed    int           `json:"trades_failed"`
	TradesPending   int           `json:"trades_pending"`
	JobsOrphaned    int           `json:"jobs_orphaned"`
	Partial         bool          `json:"partial"`
	Duration        time.Duration `json:"duration"`
	// Initialized is set when no bot existed and a fresh IDLE one was created.
	Initialized bool `json:"initialized"`
}

// SweepReport summarizes a periodic reconciliation over every bot.
type SweepReport struct {
	Bots            int   `json:"bots"`
	TradesConfirmed int   `json:"trades_confirmed"`
	TradesFailed    int   `json:"trades_failed"`
	TradesPending   int   `json:"trades_pending"`
	JobsOrphaned    int   `json:"jobs_orphaned"`
	TradesDeleted   int64 `json:"trades_deleted"`
}

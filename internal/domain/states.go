package domain

// State is the lifecycle state of one bot instance.
type State string

const (
	StateIdle                 State = "IDLE"
	StateAnalyzingSignals     State = "ANALYZING_SIGNALS"
	StateValidatingRisk       State = "VALIDATING_RISK"
	StateExecutingTrade       State = "EXECUTING_TRADE"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateFailedRetryPending   State = "FAILED_RETRY_PENDING"
	StatePaused               State = "PAUSED"
	StateError                State = "ERROR"
)

// AllStates lists every defined state in table order.
var AllStates = []State{
	StateIdle,
	StateAnalyzingSignals,
	StateValidatingRisk,
	StateExecutingTrade,
	StateAwaitingConfirmation,
	StateFailedRetryPending,
	StatePaused,
	StateError,
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	for _, v := range AllStates {
		if v == s {
			return true
		}
	}
	return false
}

// Event is something that requests a state transition.
type Event string

const (
	EventSignalReceived       Event = "SIGNAL_RECEIVED"
	EventRiskValidationPassed Event = "RISK_VALIDATION_PASSED"
	EventRiskValidationFailed Event = "RISK_VALIDATION_FAILED"
	EventTradeSubmitted       Event = "TRADE_SUBMITTED"
	EventTradeConfirmed       Event = "TRADE_CONFIRMED"
	EventTradeFailed          Event = "TRADE_FAILED"
	EventRetryScheduled       Event = "RETRY_SCHEDULED"
	EventManualPause          Event = "MANUAL_PAUSE"
	EventManualResume         Event = "MANUAL_RESUME"
	EventSystemError          Event = "SYSTEM_ERROR"
	EventRecoveryInitiated    Event = "RECOVERY_INITIATED"
)

// AllEvents lists every defined event.
var AllEvents = []Event{
	EventSignalReceived,
	EventRiskValidationPassed,
	EventRiskValidationFailed,
	EventTradeSubmitted,
	EventTradeConfirmed,
	EventTradeFailed,
	EventRetryScheduled,
	EventManualPause,
	EventManualResume,
	EventSystemError,
	EventRecoveryInitiated,
}

// Valid reports whether e is one of the defined events.
func (e Event) Valid() bool {
	for _, v := range AllEvents {
		if v == e {
			return true
		}
	}
	return false
}

// TradeStatus is the persisted status of a trade row.
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeSubmitted TradeStatus = "SUBMITTED"
	TradeConfirmed TradeStatus = "CONFIRMED"
	TradeFailed    TradeStatus = "FAILED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Terminal reports whether no further ledger observation can change the trade.
func (s TradeStatus) Terminal() bool {
	return s == TradeConfirmed || s == TradeFailed || s == TradeCancelled
}

// JobStatus is the persisted status of an execution job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether the job has a recorded outcome.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// LedgerStatus is what the ledger reports for a transaction signature.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "PENDING"
	LedgerConfirmed LedgerStatus = "CONFIRMED"
	LedgerFailed    LedgerStatus = "FAILED"
	LedgerNotFound  LedgerStatus = "NOT_FOUND"
)

// ConfirmationResult carries a ledger status and, for failures, the ledger's reason.
type ConfirmationResult struct {
	Signature string       `json:"signature"`
	Status    LedgerStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
}

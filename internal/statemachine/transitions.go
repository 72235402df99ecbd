package statemachine

import (
	"errors"
	"fmt"

	"rebalancer/internal/domain"
)

// ErrInvalidTransition matches every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError reports an event the current state does not accept. The
// bot's state is left unchanged.
type InvalidTransitionError struct {
	State domain.State
	Event domain.Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s does not accept %s", e.State, e.Event)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// transitions lists the per-state edges. MANUAL_PAUSE and SYSTEM_ERROR are accepted
// everywhere and are handled in Next.
var transitions = map[domain.State]map[domain.Event]domain.State{
	domain.StateIdle: {
		domain.EventSignalReceived: domain.StateAnalyzingSignals,
	},
	domain.StateAnalyzingSignals: {
		domain.EventRiskValidationPassed: domain.StateValidatingRisk,
		domain.EventRiskValidationFailed: domain.StateIdle,
	},
	domain.StateValidatingRisk: {
		domain.EventRiskValidationPassed: domain.StateExecutingTrade,
		domain.EventRiskValidationFailed: domain.StateIdle,
	},
	domain.StateExecutingTrade: {
		domain.EventTradeSubmitted: domain.StateAwaitingConfirmation,
		domain.EventTradeFailed:    domain.StateFailedRetryPending,
	},
	domain.StateAwaitingConfirmation: {
		domain.EventTradeConfirmed: domain.StateIdle,
		domain.EventTradeFailed:    domain.StateFailedRetryPending,
	},
	domain.StateFailedRetryPending: {
		domain.EventRetryScheduled: domain.StateIdle,
	},
	domain.StatePaused: {
		domain.EventManualResume: domain.StateIdle,
	},
	domain.StateError: {
		domain.EventRecoveryInitiated: domain.StateIdle,
	},
}

// Next returns the state reached from s on e.
func Next(s domain.State, e domain.Event) (domain.State, error) {
	if !s.Valid() {
		return s, &InvalidTransitionError{State: s, Event: e}
	}
	switch e {
	case domain.EventManualPause:
		return domain.StatePaused, nil
	case domain.EventSystemError:
		return domain.StateError, nil
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, &InvalidTransitionError{State: s, Event: e}
}

package risk

import "fmt"

// Code classifies why the gate refused an intent.
type Code string

const (
	CodeKillSwitchActive      Code = "KILL_SWITCH_ACTIVE"
	CodePositionSizeExceeded  Code = "POSITION_SIZE_EXCEEDED"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeDrawdownExceeded      Code = "DRAWDOWN_EXCEEDED"
	CodePriceImpactExceeded   Code = "PRICE_IMPACT_EXCEEDED"
	CodeSlippageExceeded      Code = "SLIPPAGE_EXCEEDED"
	CodeQuoteInvalid          Code = "QUOTE_INVALID"
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"
)

// Check names, in evaluation order.
const (
	CheckKillSwitch     = "kill_switch"
	CheckPositionSizing = "position_sizing"
	CheckDrawdown       = "drawdown"
	CheckPriceImpact    = "price_impact"
)

// Rejection is returned by Gate.Authorize when a check fails or cannot complete.
type Rejection struct {
	Code        Code
	CheckFailed string
	Details     map[string]any
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejected by %s: %s", r.CheckFailed, r.Code)
}

func reject(code Code, check string, details map[string]any) *Rejection {
	if details == nil {
		details = map[string]any{}
	}
	return &Rejection{Code: code, CheckFailed: check, Details: details}
}

func unavailable(check string, err error) *Rejection {
	return reject(CodeDependencyUnavailable, check, map[string]any{"error": err.Error()})
}

package domain

import (
	"context"
	"errors"
)

var (
	// ErrPriceUnavailable is returned when no live or cached price exists for a mint.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrTransactionRejected marks a definitive refusal by the ledger (for example a
	// failed preflight): the transaction cannot land.
	ErrTransactionRejected = errors.New("transaction rejected by ledger")
	// ErrAllocationUnavailable is returned when neither the source nor a fresh cache
	// can supply a target allocation.
	ErrAllocationUnavailable = errors.New("target allocation unavailable")
)

// PriceProvider supplies USD prices.
type PriceProvider interface {
	GetCurrentPrice(ctx context.Context, mint string) (PriceQuote, error)
}

// QuoteProvider supplies execution quotes for an exact input amount in base units.
type QuoteProvider interface {
	GetQuote(ctx context.Context, fromMint, toMint string, amount uint64) (Quote, error)
}

// HoldingsReader reads on-chain balances of a vault.
type HoldingsReader interface {
	GetHoldings(ctx context.Context, vault string) ([]Holding, error)
}

// Ledger submits transactions and reports their confirmation status.
type Ledger interface {
	Submit(ctx context.Context, tx SignedTransaction) (string, error)
	GetConfirmationStatus(ctx context.Context, signature string) (ConfirmationResult, error)
}

// SwapBuilder turns an authorized intent into a signed transaction.
type SwapBuilder interface {
	BuildSwap(ctx context.Context, intent AuthorizedIntent) (SignedTransaction, error)
}

// ConfirmationWatcher delivers a single terminal ledger result for a signature. The
// returned func stops the watch; it is safe to call more than once.
type ConfirmationWatcher interface {
	Watch(ctx context.Context, signature string, onResult func(ConfirmationResult)) (stop func())
}

// AllocationSource supplies the upstream target allocation for a user.
type AllocationSource interface {
	GetTargetAllocation(ctx context.Context, userID string) (TargetAllocation, error)
}

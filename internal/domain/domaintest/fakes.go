// Package domaintest provides in-memory implementations of the external
// collaborators in package domain for use in tests and local runs.
package domaintest

import (
	"context"
	"fmt"
	"sync"

	"rebalancer/internal/domain"
)

// Prices is a fixed price table. Missing mints return domain.ErrPriceUnavailable.
type Prices struct {
	mu     sync.Mutex
	quotes map[string]domain.PriceQuote
	Err    error
}

func NewPrices() *Prices {
	return &Prices{quotes: map[string]domain.PriceQuote{}}
}

func (p *Prices) Set(mint string, price float64) *Prices {
	p.mu.Lock()
	p.quotes[mint] = domain.PriceQuote{Price: price}
	p.mu.Unlock()
	return p
}

func (p *Prices) SetStale(mint string, price float64) *Prices {
	p.mu.Lock()
	p.quotes[mint] = domain.PriceQuote{Price: price, Stale: true}
	p.mu.Unlock()
	return p
}

func (p *Prices) GetCurrentPrice(ctx context.Context, mint string) (domain.PriceQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return domain.PriceQuote{}, p.Err
	}
	q, ok := p.quotes[mint]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("%s: %w", mint, domain.ErrPriceUnavailable)
	}
	return q, nil
}

// Holdings maps vault address to balances.
type Holdings struct {
	mu     sync.Mutex
	vaults map[string][]domain.Holding
	Err    error
}

func NewHoldings() *Holdings {
	return &Holdings{vaults: map[string][]domain.Holding{}}
}

func (h *Holdings) Set(vault string, hs ...domain.Holding) *Holdings {
	h.mu.Lock()
	h.vaults[vault] = hs
	h.mu.Unlock()
	return h
}

func (h *Holdings) GetHoldings(ctx context.Context, vault string) ([]domain.Holding, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	return append([]domain.Holding(nil), h.vaults[vault]...), nil
}

// Quotes returns Quote (with InAmount and mints filled in) or Err.
type Quotes struct {
	mu    sync.Mutex
	Quote domain.Quote
	Err   error
	Calls int
	// Block makes GetQuote wait for ctx to end.
	Block bool
}

func (q *Quotes) GetQuote(ctx context.Context, fromMint, toMint string, amount uint64) (domain.Quote, error) {
	q.mu.Lock()
	q.Calls++
	block, quote, err := q.Block, q.Quote, q.Err
	q.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.Quote{}, ctx.Err()
	}
	if err != nil {
		return domain.Quote{}, err
	}
	quote.InputMint = fromMint
	quote.OutputMint = toMint
	quote.InAmount = amount
	return quote, nil
}

// Ledger records submissions and answers status queries from a table.
type Ledger struct {
	mu        sync.Mutex
	statuses  map[string]domain.ConfirmationResult
	statusErr map[string]error
	Submitted []domain.SignedTransaction
	SubmitErr error
	Queries   int
}

func NewLedger() *Ledger {
	return &Ledger{
		statuses:  map[string]domain.ConfirmationResult{},
		statusErr: map[string]error{},
	}
}

func (l *Ledger) SetStatus(sig string, status domain.LedgerStatus, reason string) {
	l.mu.Lock()
	l.statuses[sig] = domain.ConfirmationResult{Signature: sig, Status: status, Reason: reason}
	l.mu.Unlock()
}

func (l *Ledger) SetStatusError(sig string, err error) {
	l.mu.Lock()
	l.statusErr[sig] = err
	l.mu.Unlock()
}

func (l *Ledger) Submit(ctx context.Context, tx domain.SignedTransaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SubmitErr != nil {
		return "", l.SubmitErr
	}
	l.Submitted = append(l.Submitted, tx)
	if _, ok := l.statuses[tx.Signature]; !ok {
		l.statuses[tx.Signature] = domain.ConfirmationResult{Signature: tx.Signature, Status: domain.LedgerPending}
	}
	return tx.Signature, nil
}

func (l *Ledger) SubmitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Submitted)
}

func (l *Ledger) GetConfirmationStatus(ctx context.Context, sig string) (domain.ConfirmationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Queries++
	if err := l.statusErr[sig]; err != nil {
		return domain.ConfirmationResult{}, err
	}
	if r, ok := l.statuses[sig]; ok {
		return r, nil
	}
	return domain.ConfirmationResult{Signature: sig, Status: domain.LedgerNotFound}, nil
}

// Builder signs nothing; it hands out sequential fake signatures.
type Builder struct {
	mu    sync.Mutex
	n     int
	Err   error
	Built []domain.AuthorizedIntent
}

func (b *Builder) BuildSwap(ctx context.Context, intent domain.AuthorizedIntent) (domain.SignedTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return domain.SignedTransaction{}, b.Err
	}
	b.n++
	b.Built = append(b.Built, intent)
	return domain.SignedTransaction{
		Signature: fmt.Sprintf("sig-%d", b.n),
		Raw:       []byte(fmt.Sprintf("tx-%d", b.n)),
	}, nil
}

// Watcher keeps callbacks until the test fires them.
type Watcher struct {
	mu       sync.Mutex
	watching map[string]func(domain.ConfirmationResult)
	Stopped  []string
}

func NewWatcher() *Watcher {
	return &Watcher{watching: map[string]func(domain.ConfirmationResult){}}
}

func (w *Watcher) Watch(ctx context.Context, sig string, onResult func(domain.ConfirmationResult)) func() {
	w.mu.Lock()
	w.watching[sig] = onResult
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		if _, ok := w.watching[sig]; ok {
			delete(w.watching, sig)
			w.Stopped = append(w.Stopped, sig)
		}
		w.mu.Unlock()
	}
}

// Watching reports whether a watch on sig is live.
func (w *Watcher) Watching(sig string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watching[sig]
	return ok
}

// Fire delivers a result to the watcher of sig. It reports false when nothing watches sig.
func (w *Watcher) Fire(sig string, status domain.LedgerStatus, reason string) bool {
	w.mu.Lock()
	fn, ok := w.watching[sig]
	delete(w.watching, sig)
	w.mu.Unlock()
	if !ok {
		return false
	}
	fn(domain.ConfirmationResult{Signature: sig, Status: status, Reason: reason})
	return true
}

// Allocations serves a fixed allocation per user.
type Allocations struct {
	mu     sync.Mutex
	allocs map[string]domain.TargetAllocation
	Err    error
	Calls  int
}

func NewAllocations() *Allocations {
	return &Allocations{allocs: map[string]domain.TargetAllocation{}}
}

func (a *Allocations) Set(alloc domain.TargetAllocation) *Allocations {
	a.mu.Lock()
	a.allocs[alloc.UserID] = alloc
	a.mu.Unlock()
	return a
}

func (a *Allocations) SetErr(err error) {
	a.mu.Lock()
	a.Err = err
	a.mu.Unlock()
}

func (a *Allocations) GetTargetAllocation(ctx context.Context, userID string) (domain.TargetAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls++
	if a.Err != nil {
		return domain.TargetAllocation{}, a.Err
	}
	alloc, ok := a.allocs[userID]
	if !ok {
		return domain.TargetAllocation{}, fmt.Errorf("user %s: %w", userID, domain.ErrAllocationUnavailable)
	}
	return alloc, nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
)

// MemoryStore is a process-local Store with the same uniqueness rules as the
// database schema. Used for STORE_MODE=memory and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	bots      map[uint]*models.BotState
	nextBotID uint
	trades    map[string]*models.Trade
	jobs      map[string]*models.ExecutionJob
	snapshots []models.PortfolioSnapshot
	audit     []models.BotAuditLog
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots:   make(map[uint]*models.BotState),
		trades: make(map[string]*models.Trade),
		jobs:   make(map[string]*models.ExecutionJob),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for created/updated stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func copyBot(b *models.BotState) *models.BotState {
	c := *b
	c.StateHistory = append(models.StateHistory(nil), b.StateHistory...)
	if b.CurrentTradeID != nil {
		v := *b.CurrentTradeID
		c.CurrentTradeID = &v
	}
	if b.CurrentJobID != nil {
		v := *b.CurrentJobID
		c.CurrentJobID = &v
	}
	return &c
}

func copyTrade(t *models.Trade) *models.Trade {
	c := *t
	if t.JobID != nil {
		v := *t.JobID
		c.JobID = &v
	}
	if t.TransactionSignature != nil {
		v := *t.TransactionSignature
		c.TransactionSignature = &v
	}
	c.Job = nil
	return &c
}

func copyJob(j *models.ExecutionJob) *models.ExecutionJob {
	c := *j
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func (m *MemoryStore) findBot(userID, vault string) *models.BotState {
	for _, b := range m.bots {
		if b.UserID == userID && b.VaultAddress == vault {
			return b
		}
	}
	return nil
}

func (m *MemoryStore) CreateBotState(ctx context.Context, b *models.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findBot(b.UserID, b.VaultAddress) != nil {
		return ErrDuplicate
	}
	m.nextBotID++
	b.ID = m.nextBotID
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
	m.bots[b.ID] = copyBot(b)
	return nil
}

func (m *MemoryStore) GetBotState(ctx context.Context, userID, vault string) (*models.BotState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.findBot(userID, vault)
	if b == nil {
		return nil, ErrNotFound
	}
	return copyBot(b), nil
}

func (m *MemoryStore) GetLatestBotStateForUser(ctx context.Context, userID string) (*models.BotState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.BotState
	for _, b := range m.bots {
		if b.UserID != userID {
			continue
		}
		if latest == nil || b.LastUpdated.After(latest.LastUpdated) {
			latest = b
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyBot(latest), nil
}

func (m *MemoryStore) SaveBotState(ctx context.Context, b *models.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		if m.findBot(b.UserID, b.VaultAddress) != nil {
			return ErrDuplicate
		}
		m.nextBotID++
		b.ID = m.nextBotID
	}
	m.bots[b.ID] = copyBot(b)
	return nil
}

func (m *MemoryStore) ListBotStates(ctx context.Context, enabledOnly bool) ([]models.BotState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.BotState, 0, len(m.bots))
	for _, b := range m.bots {
		if enabledOnly && !b.Enabled {
			continue
		}
		out = append(out, *copyBot(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateTradeWithJob(ctx context.Context, job *models.ExecutionJob, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.UserID == trade.UserID && t.ClientOrderID == trade.ClientOrderID {
			return ErrDuplicate
		}
		if trade.HasSignature() && t.HasSignature() && *t.TransactionSignature == *trade.TransactionSignature {
			return ErrDuplicate
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	now := m.now()
	trade.JobID = &job.ID
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	if trade.UpdatedAt.IsZero() {
		trade.UpdatedAt = trade.CreatedAt
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	m.jobs[job.ID] = copyJob(job)
	m.trades[trade.ID] = copyTrade(trade)
	return nil
}

func (m *MemoryStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTrade(t), nil
}

func (m *MemoryStore) GetTradeByClientOrderID(ctx context.Context, userID, clientOrderID string) (*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trades {
		if t.UserID == userID && t.ClientOrderID == clientOrderID {
			return copyTrade(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetTradeSignature(ctx context.Context, id, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, o := range m.trades {
		if otherID != id && o.HasSignature() && *o.TransactionSignature == signature {
			return ErrDuplicate
		}
	}
	t.TransactionSignature = &signature
	t.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.ErrorMessage = errMsg
	t.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ListUnresolvedTrades(ctx context.Context, q UnresolvedTradeQuery) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trade
	for _, t := range m.trades {
		if t.UserID != q.UserID || t.VaultAddress != q.VaultAddress || t.Status.Terminal() {
			continue
		}
		if t.CreatedAt.Before(q.Since) || !t.CreatedAt.Before(q.Before) {
			continue
		}
		out = append(out, *copyTrade(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountOutstandingTrades(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, t := range m.trades {
		if t.UserID == userID && !t.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trade
	for _, t := range m.trades {
		if t.UserID == userID {
			out = append(out, *copyTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteExpiredTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.trades {
		if !t.Status.Terminal() || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		if t.JobID != nil {
			if j, ok := m.jobs[*t.JobID]; ok && !j.Status.Terminal() {
				continue
			}
		}
		delete(m.trades, id)
		n++
	}
	return n, nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*models.ExecutionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (m *MemoryStore) FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	j.Status = status
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	return nil
}

func (m *MemoryStore) ListOrphanedJobs(ctx context.Context, userID, vault string, startedBefore time.Time) ([]models.ExecutionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExecutionJob
	for _, j := range m.jobs {
		if j.UserID != userID || j.VaultAddress != vault || j.Status.Terminal() {
			continue
		}
		if j.StartedAt.Before(startedBefore) {
			out = append(out, *copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out, nil
}

func (m *MemoryStore) CreateSnapshot(ctx context.Context, s *models.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uint(len(m.snapshots) + 1)
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *MemoryStore) MaxSnapshotValue(ctx context.Context, userID, vault string, since time.Time) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best := decimal.Zero
	found := false
	for _, s := range m.snapshots {
		if s.UserID != userID || s.VaultAddress != vault || s.TakenAt.Before(since) {
			continue
		}
		if !found || s.TotalValueUSD.GreaterThan(best) {
			best = s.TotalValueUSD
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryStore) CreateAuditLog(ctx context.Context, l *models.BotAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uint(len(m.audit) + 1)
	l.CreatedAt = m.now()
	m.audit = append(m.audit, *l)
	return nil
}

func (m *MemoryStore) ListAuditLogs(ctx context.Context, userID string, limit int) ([]models.BotAuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.BotAuditLog
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].UserID != userID {
			continue
		}
		out = append(out, m.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
